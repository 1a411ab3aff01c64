package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/rs/zerolog"
)

// Leader decides whether this instance should run the sweep. With several
// nodes sharing one store, only the leader sweeps.
type Leader interface {
	IsLeader(ctx context.Context) bool
}

// Always is the single-node Leader.
type Always struct{}

func (Always) IsLeader(context.Context) bool { return true }

// ConsulLeader holds a Consul session lock on a KV key.
type ConsulLeader struct {
	lock *api.Lock
	log  zerolog.Logger

	mu   sync.Mutex
	lost <-chan struct{}
}

// NewConsulLeader prepares a lock on key at the Consul agent addr. The lock is
// not taken until IsLeader is first called.
func NewConsulLeader(addr, key, nodeID string, log zerolog.Logger) (*ConsulLeader, error) {
	client, err := api.NewClient(&api.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	lock, err := client.LockOpts(&api.LockOptions{
		Key:          key,
		Value:        []byte(nodeID),
		SessionName:  "ledger-sweeper-" + nodeID,
		SessionTTL:   "15s",
		LockTryOnce:  true,
		LockWaitTime: 500 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("consul lock: %w", err)
	}
	return &ConsulLeader{
		lock: lock,
		log:  log.With().Str("component", "sweeper_leader").Str("key", key).Logger(),
	}, nil
}

// IsLeader reports whether the lock is held, trying once to take it if not.
func (l *ConsulLeader) IsLeader(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lost != nil {
		select {
		case <-l.lost:
			l.log.Warn().Msg("sweeper leadership lost")
			l.lost = nil
			_ = l.lock.Unlock()
		default:
			return true
		}
	}

	lost, err := l.lock.Lock(ctx.Done())
	if err != nil {
		if !errors.Is(err, api.ErrLockHeld) {
			l.log.Warn().Err(err).Msg("acquire sweeper lock")
		}
		return false
	}
	if lost == nil {
		return false
	}
	l.lost = lost
	l.log.Info().Msg("sweeper leadership acquired")
	return true
}

// Release gives up leadership.
func (l *ConsulLeader) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost == nil {
		return nil
	}
	l.lost = nil
	if err := l.lock.Unlock(); err != nil && !errors.Is(err, api.ErrLockNotHeld) {
		return err
	}
	return nil
}
