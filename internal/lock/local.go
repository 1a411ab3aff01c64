// Package lock serializes mutations that touch the same ledger account.
package lock

import (
	"context"
	"hash/fnv"
)

// Locker grants exclusive access to key until the returned unlock func is
// called.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

const numStripes = 256

// Local is an in-process Locker built on striped semaphores. Distinct keys
// may share a stripe; that only costs concurrency, never correctness.
type Local struct {
	stripes [numStripes]chan struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	l := &Local{}
	for i := range l.stripes {
		l.stripes[i] = make(chan struct{}, 1)
	}
	return l
}

func (l *Local) stripe(key string) chan struct{} {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.stripes[h.Sum32()%numStripes]
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.stripe(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
