// Package coalesce tracks in-flight work per key so that concurrent callers
// asking for the same key share one underlying execution.
package coalesce

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrCancelled is the cause of a flight aborted by Cancel, Remove, Close
	// or by its last waiter leaving.
	ErrCancelled = errors.New("coalesce: flight cancelled")
	// ErrClosed is returned for work observed after Close.
	ErrClosed = errors.New("coalesce: table closed")
)

// State is the lifecycle stage of a Flight. It only moves forward.
type State uint8

const (
	StateReady     State = iota // registered, task not yet running
	StateExecuting              // task running
	StateFinished               // outcome published
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Outcome is how a finished Flight ended.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Status is what ObserveOrRegister found for a key.
type Status uint8

const (
	StatusPending   Status = iota // wait on the flight
	StatusCompleted               // flight holds the value
	StatusFailed                  // flight holds the error; nothing was registered
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Task computes the value of a flight. ctx is cancelled when the flight is
// aborted.
type Task[V any] func(ctx context.Context) (V, error)

// Options configures a Table. Zero values are usable.
type Options[K comparable, V any] struct {
	// Commit is called once per successful flight, outside the table lock,
	// before waiters are released. Cancelled flights never commit.
	Commit func(k K, v V)
}

// Flight is one execution for a key, shared by all of its waiters.
// Fields below mu are guarded by the owning Table's lock.
type Flight[K comparable, V any] struct {
	key    K
	t      *Table[K, V]
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{} // closed after val/err are published

	state   State
	outcome Outcome
	waiters int
	val     V
	err     error
}

// Key returns the flight's key.
func (f *Flight[K, V]) Key() K { return f.key }

// Done is closed once the outcome is published.
func (f *Flight[K, V]) Done() <-chan struct{} { return f.done }

// Result returns the published value and error. It is only meaningful after
// Done is closed.
func (f *Flight[K, V]) Result() (V, error) {
	f.t.mu.Lock()
	defer f.t.mu.Unlock()
	return f.val, f.err
}

// State returns the current lifecycle stage.
func (f *Flight[K, V]) State() State {
	f.t.mu.Lock()
	defer f.t.mu.Unlock()
	return f.state
}

// Outcome returns how the flight ended, or OutcomeNone while it runs.
func (f *Flight[K, V]) Outcome() Outcome {
	f.t.mu.Lock()
	defer f.t.mu.Unlock()
	return f.outcome
}

// Waiters returns the number of callers currently attached.
func (f *Flight[K, V]) Waiters() int {
	f.t.mu.Lock()
	defer f.t.mu.Unlock()
	return f.waiters
}

// Table maps keys to flights. Every check-and-register happens under a
// single mutex, so at most one unfinished flight exists per key.
//
// Concurrency notes:
//   - Failed and cancelled flights leave the table the moment they finish,
//     so the next observer starts a fresh attempt.
//   - Completed flights stay until Prune or Remove drops them.
//   - The table lock is never held while calling Commit or a Task, so both
//     may call back into code that calls Prune.
type Table[K comparable, V any] struct {
	mu     sync.Mutex
	m      map[K]*Flight[K, V]
	closed bool
	opt    Options[K, V]
	wg     sync.WaitGroup
}

// New returns an empty Table.
func New[K comparable, V any](opt Options[K, V]) *Table[K, V] {
	return &Table[K, V]{m: make(map[K]*Flight[K, V]), opt: opt}
}

// ObserveOrRegister looks k up and, if no usable flight exists, registers a
// new one atomically with the lookup.
//
//   - StatusCompleted: f holds the value; no waiter reference is taken.
//   - StatusPending: the caller holds one waiter reference and must call Wait.
//     registered reports whether the flight was created by this call.
//   - StatusFailed: the table is closed; f is finished with ErrClosed.
//
// When start is non-nil a newly registered flight runs it on its own
// goroutine. When start is nil the caller drives the flight with Complete.
func (t *Table[K, V]) ObserveOrRegister(k K, start Task[V]) (status Status, f *Flight[K, V], registered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		f = t.newFlight(k)
		t.finishLocked(f, OutcomeFailed, *new(V), ErrClosed)
		close(f.done)
		f.cancel(ErrClosed)
		return StatusFailed, f, false
	}

	if f, ok := t.m[k]; ok {
		switch {
		case f.state != StateFinished:
			f.waiters++
			return StatusPending, f, false
		case f.outcome == OutcomeCompleted:
			return StatusCompleted, f, false
		default:
			// Failed flights are removed when they finish; never reuse one.
			delete(t.m, k)
		}
	}

	f = t.newFlight(k)
	f.waiters = 1
	t.m[k] = f
	if start != nil {
		t.wg.Add(1)
		go t.run(f, start)
	}
	return StatusPending, f, true
}

func (t *Table[K, V]) newFlight(k K) *Flight[K, V] {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Flight[K, V]{key: k, t: t, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (t *Table[K, V]) run(f *Flight[K, V], start Task[V]) {
	defer t.wg.Done()

	t.mu.Lock()
	if f.state != StateReady {
		t.mu.Unlock()
		return // cancelled before it ran
	}
	f.state = StateExecuting
	t.mu.Unlock()

	v, err := safeCall(f.ctx, start)
	t.Complete(f.key, f, v, err)
}

func safeCall[V any](ctx context.Context, start Task[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("coalesce: task panicked: %v", r)
		}
	}()
	return start(ctx)
}

// Wait blocks until f finishes or ctx ends, consuming the waiter reference
// taken by ObserveOrRegister. A published outcome wins over a context that
// ended at the same time. When the last waiter leaves an unfinished flight,
// the flight is cancelled and removed from the table.
func (t *Table[K, V]) Wait(ctx context.Context, f *Flight[K, V]) (V, error) {
	select {
	case <-f.done:
		return t.leave(f)
	case <-ctx.Done():
		select {
		case <-f.done:
			return t.leave(f)
		default:
		}
	}

	t.mu.Lock()
	if f.waiters > 0 {
		f.waiters--
	}
	if f.waiters == 0 && f.state != StateFinished {
		t.abortLocked(f, fmt.Errorf("%w: no waiters left: %w", ErrCancelled, context.Cause(ctx)))
	}
	t.mu.Unlock()

	var zero V
	return zero, ctx.Err()
}

// leave drops a waiter reference from a published flight and returns its outcome.
func (t *Table[K, V]) leave(f *Flight[K, V]) (V, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.waiters > 0 {
		f.waiters--
	}
	return f.val, f.err
}

// Complete publishes the outcome of f exactly once and reports whether this
// call did so. A nil err completes the flight: it stays in the table, Commit
// runs, and then waiters are released. A non-nil err fails the flight and
// removes it. Completing an already finished flight is a no-op.
func (t *Table[K, V]) Complete(k K, f *Flight[K, V], v V, err error) bool {
	t.mu.Lock()
	if f.state == StateFinished {
		t.mu.Unlock()
		return false
	}
	if err != nil {
		t.finishLocked(f, OutcomeFailed, v, err)
		t.deleteLocked(k, f)
		close(f.done)
		t.mu.Unlock()
		f.cancel(nil)
		return true
	}
	t.finishLocked(f, OutcomeCompleted, v, nil)
	t.mu.Unlock()

	if t.opt.Commit != nil {
		t.opt.Commit(k, v)
	}
	close(f.done)
	f.cancel(nil)
	return true
}

// Cancel aborts the unfinished flight for k regardless of its waiters.
// Waiters resolve with ErrCancelled. It reports whether a
// flight was cancelled.
func (t *Table[K, V]) Cancel(k K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.m[k]
	if !ok || f.state == StateFinished {
		return false
	}
	t.abortLocked(f, ErrCancelled)
	return true
}

// Remove drops k from the table, cancelling it first if it is unfinished.
func (t *Table[K, V]) Remove(k K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.m[k]
	if !ok {
		return false
	}
	if f.state != StateFinished {
		t.abortLocked(f, ErrCancelled)
		return true
	}
	delete(t.m, k)
	return true
}

// Prune drops a completed entry for k. Unfinished flights are left alone.
// It is safe to call from a cache eviction callback.
func (t *Table[K, V]) Prune(k K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.m[k]
	if !ok || f.state != StateFinished {
		return false
	}
	delete(t.m, k)
	return true
}

// Len returns the number of tracked keys, pending and completed.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// Pending returns the number of unfinished flights.
func (t *Table[K, V]) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, f := range t.m {
		if f.state != StateFinished {
			n++
		}
	}
	return n
}

// Close cancels every unfinished flight, rejects new registrations and waits
// for running tasks to return.
func (t *Table[K, V]) Close() {
	t.mu.Lock()
	t.closed = true
	for _, f := range t.m {
		if f.state != StateFinished {
			t.abortLocked(f, fmt.Errorf("%w: %w", ErrCancelled, ErrClosed))
		}
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Table[K, V]) abortLocked(f *Flight[K, V], cause error) {
	t.finishLocked(f, OutcomeCancelled, *new(V), cause)
	t.deleteLocked(f.key, f)
	close(f.done)
	f.cancel(cause)
}

func (t *Table[K, V]) finishLocked(f *Flight[K, V], o Outcome, v V, err error) {
	f.state = StateFinished
	f.outcome = o
	f.val = v
	f.err = err
}

func (t *Table[K, V]) deleteLocked(k K, f *Flight[K, V]) {
	if cur, ok := t.m[k]; ok && cur == f {
		delete(t.m, k)
	}
}
