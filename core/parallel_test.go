package core

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type batchCall struct{ start, n int }

type batchRecorder struct {
	mu    sync.Mutex
	calls []batchCall
}

func (r *batchRecorder) record(start, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, batchCall{start, n})
}

func (r *batchRecorder) sorted() []batchCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]batchCall(nil), r.calls...)
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// TestFor_CoversRange verifies batching and the finalize step
// Given: 17 items in batches of 5 with 2 concurrent batches
// When: The loop completes
// Then: fn sees [0,5) [5,10) [10,15) [15,17) once each and finalize(17) runs once
func TestFor_CoversRange(t *testing.T) {
	// Arrange
	s := newTestScheduler(4)
	startWorkers(t, s, 4)
	rec := &batchRecorder{}
	var finalized []int
	var finMu sync.Mutex

	opts := DefaultForOptions()
	opts.Workers = 2
	opts.Finalize = func(count int) {
		finMu.Lock()
		defer finMu.Unlock()
		finalized = append(finalized, count)
	}

	// Act
	done := For(context.Background(), s, 17, 5, rec.record, opts)
	waitAwaiter(t, done, 2*time.Second)

	// Assert
	want := []batchCall{{0, 5}, {5, 5}, {10, 5}, {15, 2}}
	got := rec.sorted()
	if len(got) != len(want) {
		t.Fatalf("batches = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("batch %d = %v, want %v", i, got[i], want[i])
		}
	}

	finMu.Lock()
	defer finMu.Unlock()
	if len(finalized) != 1 || finalized[0] != 17 {
		t.Errorf("finalize calls = %v, want [17]", finalized)
	}
}

// TestFor_ZeroCount verifies an empty loop still finalizes
func TestFor_ZeroCount(t *testing.T) {
	s := newTestScheduler(2)
	startWorkers(t, s, 2)

	var called atomic.Int32
	var finalizeArg atomic.Int32
	finalizeArg.Store(-1)
	opts := DefaultForOptions()
	opts.Finalize = func(count int) { finalizeArg.Store(int32(count)) }

	done := For(context.Background(), s, 0, 4, func(start, n int) { called.Add(1) }, opts)
	waitAwaiter(t, done, time.Second)

	if called.Load() != 0 {
		t.Errorf("fn called %d times, want 0", called.Load())
	}
	if finalizeArg.Load() != 0 {
		t.Errorf("finalize(%d), want finalize(0)", finalizeArg.Load())
	}
	waitForCondition(t, time.Second, func() bool { return s.ActiveTaskCount() == 0 })
	if got := s.Stats().Executed; got != 1 {
		t.Errorf("Executed = %d, want 1", got)
	}
}

// TestFor_SingleBatch verifies batch >= count yields one call
func TestFor_SingleBatch(t *testing.T) {
	s := newTestScheduler(1)
	startWorkers(t, s, 1)
	rec := &batchRecorder{}

	done := For(context.Background(), s, 7, 100, rec.record, DefaultForOptions())
	waitAwaiter(t, done, time.Second)

	got := rec.sorted()
	if len(got) != 1 || got[0] != (batchCall{0, 7}) {
		t.Errorf("batches = %v, want [{0 7}]", got)
	}
}

// TestFor_HugeBatch verifies a batch size near the int limit still runs the
// whole range as one batch
func TestFor_HugeBatch(t *testing.T) {
	s := newTestScheduler(1)
	startWorkers(t, s, 1)
	rec := &batchRecorder{}

	var finalized atomic.Int32
	opts := DefaultForOptions()
	opts.Finalize = func(count int) { finalized.Add(int32(count)) }

	done := For(context.Background(), s, 7, math.MaxInt, rec.record, opts)
	waitAwaiter(t, done, time.Second)

	got := rec.sorted()
	if len(got) != 1 || got[0] != (batchCall{0, 7}) {
		t.Errorf("batches = %v, want [{0 7}]", got)
	}
	if finalized.Load() != 7 {
		t.Errorf("finalize count = %d, want 7", finalized.Load())
	}
}

// TestFor_InvalidArguments verifies negative count and batch < 1 are clamped
func TestFor_InvalidArguments(t *testing.T) {
	s := newTestScheduler(1)
	startWorkers(t, s, 1)
	rec := &batchRecorder{}

	waitAwaiter(t, For(context.Background(), s, -3, 2, rec.record, DefaultForOptions()), time.Second)
	if got := rec.sorted(); len(got) != 0 {
		t.Errorf("negative count ran batches %v", got)
	}

	waitAwaiter(t, For(context.Background(), s, 3, 0, rec.record, DefaultForOptions()), time.Second)
	want := []batchCall{{0, 1}, {1, 1}, {2, 1}}
	got := rec.sorted()
	if len(got) != len(want) {
		t.Fatalf("batches = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("batch %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestFor_WorkerBound verifies no more than opts.Workers batches are in
// flight at once
func TestFor_WorkerBound(t *testing.T) {
	s := newTestScheduler(6)
	startWorkers(t, s, 6)

	var inFlight, peak atomic.Int32
	opts := DefaultForOptions()
	opts.Workers = 2

	done := For(context.Background(), s, 20, 1, func(start, n int) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
	}, opts)
	waitAwaiter(t, done, 2*time.Second)

	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
	if peak.Load() < 1 {
		t.Error("no batch ran")
	}
}

// TestFor_PanicInBatch verifies a panicking batch does not stall the loop
func TestFor_PanicInBatch(t *testing.T) {
	ph := &recordingPanicHandler{}
	s := newTestScheduler(2, func(c *TaskSchedulerConfig) { c.PanicHandler = ph })
	startWorkers(t, s, 2)

	var visited atomic.Int32
	var finalized atomic.Bool
	opts := DefaultForOptions()
	opts.Workers = 1
	opts.Finalize = func(int) { finalized.Store(true) }

	done := For(context.Background(), s, 4, 1, func(start, n int) {
		visited.Add(1)
		if start == 1 {
			panic("bad batch")
		}
	}, opts)
	waitAwaiter(t, done, 2*time.Second)

	if visited.Load() != 4 {
		t.Errorf("visited %d batches, want 4", visited.Load())
	}
	if !finalized.Load() {
		t.Error("finalize did not run")
	}
	if ph.Count() != 1 {
		t.Errorf("panic handler calls = %d, want 1", ph.Count())
	}
}

// TestFor_InheritsPriority verifies loop tasks take the caller task's priority
func TestFor_InheritsPriority(t *testing.T) {
	s := newTestScheduler(1)
	ctx := context.Background()

	var done *Awaiter
	parent := NewTask(func(ctx context.Context) {
		done = For(ctx, s, 2, 1, func(int, int) {}, DefaultForOptions())
	}, TraitsBackground())
	s.Schedule(ctx, parent, nil)
	s.RunTask(ctx, s.TryGetWork(), 0)

	for task := s.TryGetWork(); task != nil; task = s.TryGetWork() {
		if task.Priority() != TaskPriorityBackground {
			t.Errorf("%s priority = %s, want background", task.Name(), task.Priority())
		}
		s.RunTask(ctx, task, 0)
	}
	if done == nil || !done.IsCompleted() {
		t.Error("loop did not complete")
	}
}

// TestFor_ZeroValueOptions verifies a partly filled ForOptions runs at Normal
// Given: ForOptions with only Workers set, scheduled from outside any task
// When: The loop's tasks are dequeued
// Then: Every batch and the finalize task carry Normal priority
func TestFor_ZeroValueOptions(t *testing.T) {
	s := newTestScheduler(1)
	ctx := context.Background()

	done := For(ctx, s, 3, 1, func(int, int) {}, ForOptions{Workers: 1})

	ran := 0
	for task := s.TryGetWork(); task != nil; task = s.TryGetWork() {
		if task.Priority() != TaskPriorityNormal {
			t.Errorf("%s priority = %s, want normal", task.Name(), task.Priority())
		}
		s.RunTask(ctx, task, 0)
		ran++
	}
	if ran != 4 {
		t.Errorf("ran %d tasks, want 4 (3 batches + finalize)", ran)
	}
	if !done.IsCompleted() {
		t.Error("loop did not complete")
	}
}
