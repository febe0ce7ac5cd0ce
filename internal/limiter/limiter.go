// Package limiter bounds the number of concurrent outbound fetches.
package limiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter hands out a fixed number of slots. Waiters are admitted in
// arrival order.
type Limiter struct {
	sem      *semaphore.Weighted
	cap      int
	inFlight atomic.Int64
}

// New returns a limiter with k slots. It panics if k <= 0.
func New(k int) *Limiter {
	if k <= 0 {
		panic("limiter: capacity must be > 0")
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(k)), cap: k}
}

// Acquire blocks until a slot is free or ctx ends. On error no slot is held.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inFlight.Add(1)
	return nil
}

// Release returns a slot taken by a successful Acquire.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// Do runs fn while holding a slot. The slot is released on every exit path,
// including a panic in fn.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// InFlight returns the number of slots currently held.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Cap returns the number of slots.
func (l *Limiter) Cap() int { return l.cap }
