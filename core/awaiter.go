package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"
)

// Awaiter is a reference-counted join point: an atomic dependency counter and
// the list of tasks parked until the counter reaches zero. The counter is
// lock-free; the wait list is guarded by a short-held mutex.
//
// An Awaiter does not own the tasks parked on it. Tasks own their awaiters
// through the reference count.
type Awaiter struct {
	value atomic.Int32
	refs  atomic.Int32

	mu      deadlock.Mutex
	waiting TaskList
	done    chan struct{} // created lazily by Wait, closed on the zero crossing

	released atomic.Bool
}

// NewAwaiter returns a completed awaiter holding one reference for the
// caller.
func NewAwaiter() *Awaiter {
	a := &Awaiter{}
	a.refs.Store(1)
	return a
}

// AddDependency registers one more unit of outstanding work. Always add before
// scheduling the work the unit stands for.
func (a *Awaiter) AddDependency() {
	a.value.Add(1)
}

// NotifyCompleted retires one unit of work and returns true exactly when this
// call brings the counter to zero.
func (a *Awaiter) NotifyCompleted() bool {
	n := a.value.Add(-1)
	if n < 0 {
		contractViolation("Awaiter.NotifyCompleted", nil, ErrAwaiterUnderflow)
		return false
	}
	if n != 0 {
		return false
	}

	a.mu.Lock()
	if a.done != nil {
		close(a.done)
		a.done = nil
	}
	a.mu.Unlock()
	return true
}

func (a *Awaiter) IsCompleted() bool { return a.value.Load() == 0 }

// Value returns the number of outstanding units.
func (a *Awaiter) Value() int32 { return a.value.Load() }

// AddWaitingTask parks t on the wait list. The caller must re-check
// IsCompleted afterwards and flush if the awaiter completed concurrently.
func (a *Awaiter) AddWaitingTask(t *Task) {
	a.mu.Lock()
	a.waiting.PushBack(t)
	a.mu.Unlock()
}

// RemoveWaitingTask unlinks t if it is still parked here. Whoever removes a
// task, by this call or by FlushWaitList, owns it. The wait list is scanned,
// so this is linear in WaitingCount.
func (a *Awaiter) RemoveWaitingTask(t *Task) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.waiting.contains(t) {
		return false
	}
	a.waiting.unlink(t)
	return true
}

// WaitingCount returns the number of parked tasks.
func (a *Awaiter) WaitingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waiting.Len()
}

// FlushWaitList moves every parked task into out if the counter is zero, and
// leaves the wait list untouched otherwise. out must be empty.
func (a *Awaiter) FlushWaitList(out *TaskList) {
	if !out.IsEmpty() {
		contractViolation("Awaiter.FlushWaitList", nil, ErrWaitListNotEmpty)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.value.Load() != 0 {
		return
	}
	a.waiting.SpliceTo(out)
}

// Wait blocks until the counter reaches zero or ctx is done. It is meant for
// callers outside the worker pool; workers never block on an awaiter.
func (a *Awaiter) Wait(ctx context.Context) error {
	for {
		if a.IsCompleted() {
			return nil
		}

		a.mu.Lock()
		if a.value.Load() == 0 {
			a.mu.Unlock()
			return nil
		}
		if a.done == nil {
			a.done = make(chan struct{})
		}
		ch := a.done
		a.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// =============================================================================
// Reference counting
// =============================================================================

func (a *Awaiter) AcquireReference() {
	a.refs.Add(1)
}

// ReleaseReference drops one reference. The last release retires the
// awaiter; tasks must not still be parked on it.
func (a *Awaiter) ReleaseReference() {
	n := a.refs.Add(-1)
	if n < 0 {
		contractViolation("Awaiter.ReleaseReference", nil, ErrReferenceUnderflow)
		return
	}
	if n > 0 {
		return
	}
	if a.WaitingCount() != 0 {
		contractViolation("Awaiter.ReleaseReference", nil, ErrWaitListNotEmpty)
		return
	}
	a.released.Store(true)
}

func (a *Awaiter) References() int32 { return a.refs.Load() }

// Released reports whether the last reference has been dropped.
func (a *Awaiter) Released() bool { return a.released.Load() }

// =============================================================================
// CompletionDeferral: one unit of work tied to a scope
// =============================================================================

// CompletionDeferral holds one dependency on an awaiter for the lifetime of a
// scope. Pair it with defer so every exit path retires the unit:
//
//	d := core.DeferCompletion(a, onZero)
//	defer d.Release()
type CompletionDeferral struct {
	awaiter    *Awaiter
	onComplete func(*Awaiter)
	once       sync.Once
}

// DeferCompletion adds a dependency to a. onComplete, if non-nil, runs when
// Release brings the counter to zero.
func DeferCompletion(a *Awaiter, onComplete func(*Awaiter)) *CompletionDeferral {
	a.AddDependency()
	return &CompletionDeferral{awaiter: a, onComplete: onComplete}
}

// Release retires the unit. Calls after the first are no-ops.
func (d *CompletionDeferral) Release() {
	d.once.Do(func() {
		if d.awaiter.NotifyCompleted() && d.onComplete != nil {
			d.onComplete(d.awaiter)
		}
	})
}
