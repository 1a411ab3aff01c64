// Package sweeper finalizes features orders and pledges whose deadline has
// passed. It calls the same idempotent entry points as the admin API, so a
// pass racing an admin action or another pass is harmless.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ledger-core/internal/events"
	"ledger-core/internal/ledger"
	"ledger-core/internal/monitor"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// Ledger is the part of the ledger service the sweeper drives.
type Ledger interface {
	PendingFeatures(ctx context.Context) ([]ledger.Trade, error)
	SettleExpired(ctx context.Context, tradeID string) (bool, error)
	ActivePledges(ctx context.Context) ([]ledger.Pledge, error)
	CompletePledgeIfDue(ctx context.Context, id string) (bool, error)
}

// Config tunes the sweep loop.
type Config struct {
	Interval time.Duration
	Workers  int
	// ResyncEvery reloads the index from the repository every N runs so
	// entities created on other nodes, or whose events were dropped, are
	// picked up. Values <= 0 use DefaultResyncEvery.
	ResyncEvery int
	// BatchSize caps the items handled per pass; 0 means all due items.
	BatchSize int
}

// DefaultResyncEvery is the reload cadence when Config leaves it unset.
const DefaultResyncEvery = 30

// Report summarizes one pass.
type Report struct {
	Settled   int           `json:"settled"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped,omitempty"`
	Took      time.Duration `json:"took"`
}

// Service is the background expiry sweeper.
type Service struct {
	ledger  Ledger
	cfg     Config
	index   *Index
	pool    *ants.Pool
	leader  Leader
	bus     *events.Bus
	metrics *monitor.Metrics
	log     zerolog.Logger
	now     func() time.Time

	runs   atomic.Int64
	passMu sync.Mutex
	wg     sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

func WithLeader(l Leader) Option            { return func(s *Service) { s.leader = l } }
func WithBus(b *events.Bus) Option          { return func(s *Service) { s.bus = b } }
func WithMetrics(m *monitor.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "sweeper").Logger() }
}

// New creates a sweeper with its worker pool.
func New(l Ledger, cfg Config, opts ...Option) (*Service, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ResyncEvery <= 0 {
		cfg.ResyncEvery = DefaultResyncEvery
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("sweeper pool: %w", err)
	}
	s := &Service{
		ledger: l,
		cfg:    cfg,
		index:  NewIndex(),
		pool:   pool,
		leader: Always{},
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Index exposes the expiry index, mainly for inspection.
func (s *Service) Index() *Index { return s.index }

// Start loads the index, follows ledger events and sweeps on every tick until
// ctx is cancelled. The subscription is taken before the initial load so
// nothing committed in between is missed.
func (s *Service) Start(ctx context.Context) {
	var stream <-chan any
	unsub := func() {}
	if s.bus != nil {
		stream, unsub = s.bus.Subscribe(256,
			events.EventTradeCreated, events.EventTradeSettled,
			events.EventPledgeCreated, events.EventPledgeCompleted)
	}

	if err := s.Resync(ctx); err != nil {
		s.log.Error().Err(err).Msg("initial resync failed")
	}

	if stream != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					if ev, ok := msg.(events.LedgerEvent); ok {
						s.Track(ev)
					}
				}
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			rep, err := s.RunOnce(ctx)
			if err != nil {
				s.log.Warn().Err(err).Int("failed", rep.Failed).Msg("sweep pass had failures")
			}
		}
	}()
}

// Track updates the index from a ledger event.
func (s *Service) Track(ev events.LedgerEvent) {
	switch ev.Type {
	case events.EventTradeCreated:
		if t, ok := ev.Data.(ledger.Trade); ok && t.Pending() {
			s.index.Add(Item{Kind: KindTrade, ID: t.ID, Due: t.EndsAt})
		}
	case events.EventTradeSettled:
		s.index.Remove(KindTrade, ev.EntityID)
	case events.EventPledgeCreated:
		if p, ok := ev.Data.(ledger.Pledge); ok && p.Status == ledger.PledgeActive {
			s.index.Add(Item{Kind: KindPledge, ID: p.ID, Due: p.EndsAt})
		}
	case events.EventPledgeCompleted:
		s.index.Remove(KindPledge, ev.EntityID)
	}
}

// Resync rebuilds the index from the repository.
func (s *Service) Resync(ctx context.Context) error {
	trades, err := s.ledger.PendingFeatures(ctx)
	if err != nil {
		return fmt.Errorf("load pending features: %w", err)
	}
	pledges, err := s.ledger.ActivePledges(ctx)
	if err != nil {
		return fmt.Errorf("load active pledges: %w", err)
	}

	items := make([]Item, 0, len(trades)+len(pledges))
	for _, t := range trades {
		items = append(items, Item{Kind: KindTrade, ID: t.ID, Due: t.EndsAt})
	}
	for _, p := range pledges {
		items = append(items, Item{Kind: KindPledge, ID: p.ID, Due: p.EndsAt})
	}
	s.index.Reset(items)
	s.log.Debug().Int("trades", len(trades)).Int("pledges", len(pledges)).Msg("index resynced")
	return nil
}

// RunOnce finalizes every due item in the index. Every ResyncEvery-th run
// reloads the index first, leader or not. It finalizes nothing when this
// instance is not the leader.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	if s.runs.Add(1)%int64(s.cfg.ResyncEvery) == 0 {
		if err := s.Resync(ctx); err != nil {
			s.log.Warn().Err(err).Msg("resync failed")
		}
	}
	if !s.leader.IsLeader(ctx) {
		return Report{Skipped: true}, nil
	}
	return s.pass(ctx)
}

// Sweep reloads the index and runs a pass regardless of leadership. This is
// the admin-triggered sweep.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	if err := s.Resync(ctx); err != nil {
		return Report{}, err
	}
	return s.pass(ctx)
}

func (s *Service) pass(ctx context.Context) (Report, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	start := time.Now()
	due := s.index.Due(s.now(), s.cfg.BatchSize)
	if len(due) == 0 {
		return Report{Took: time.Since(start)}, nil
	}

	var (
		mu   sync.Mutex
		rep  Report
		errs []error
		wg   sync.WaitGroup
	)
	for _, it := range due {
		it := it
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			done, err := s.finalize(ctx, it)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Failed++
				errs = append(errs, fmt.Errorf("%s %s: %w", it.Kind, it.ID, err))
			case done && it.Kind == KindTrade:
				rep.Settled++
			case done && it.Kind == KindPledge:
				rep.Completed++
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			rep.Failed++
			errs = append(errs, fmt.Errorf("submit %s %s: %w", it.Kind, it.ID, err))
			mu.Unlock()
		}
	}
	wg.Wait()

	rep.Took = time.Since(start)
	s.metrics.ObserveSweep(rep.Took, rep.Settled, rep.Completed)
	if rep.Settled > 0 || rep.Completed > 0 {
		s.log.Info().
			Int("settled", rep.Settled).
			Int("completed", rep.Completed).
			Int("failed", rep.Failed).
			Dur("took", rep.Took).
			Msg("sweep pass")
	}
	return rep, errors.Join(errs...)
}

// finalize settles one item. The item leaves the index once it is finalized
// or gone from the repository. A failed call, or one the ledger declined
// because the deadline has not passed under its clock, leaves it for the
// next pass; settle events and resyncs drop entries finalized elsewhere.
func (s *Service) finalize(ctx context.Context, it Item) (bool, error) {
	var (
		done bool
		err  error
	)
	switch it.Kind {
	case KindTrade:
		done, err = s.ledger.SettleExpired(ctx, it.ID)
	case KindPledge:
		done, err = s.ledger.CompletePledgeIfDue(ctx, it.ID)
	default:
		return false, fmt.Errorf("unknown item kind %d", it.Kind)
	}
	if errors.Is(err, ledger.ErrNotFound) {
		s.index.Remove(it.Kind, it.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if done {
		s.index.Remove(it.Kind, it.ID)
	}
	return done, nil
}

// Close waits for the loop to exit and releases the pool. Cancel the context
// passed to Start first.
func (s *Service) Close() {
	s.wg.Wait()
	s.pool.Release()
}
