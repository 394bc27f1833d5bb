package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestScheduler(workers int, configure ...func(*TaskSchedulerConfig)) *TaskScheduler {
	cfg := &TaskSchedulerConfig{Name: "test", Logger: NewNoOpLogger()}
	for _, fn := range configure {
		fn(cfg)
	}
	return NewTaskSchedulerWithConfig(workers, cfg)
}

// startWorkers runs n worker loops against s until the returned stop func
// is called or the test ends.
func startWorkers(t *testing.T, s *TaskScheduler, n int) func() {
	t.Helper()
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				task, ok := s.GetWork(stopCh)
				if !ok {
					return
				}
				s.RunTask(context.Background(), task, id)
			}
		}(i)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopCh)
			wg.Wait()
		})
	}
	t.Cleanup(stop)
	return stop
}

// runAll executes queued tasks on the calling goroutine until the queues are
// empty, including tasks released by cascades along the way.
func runAll(s *TaskScheduler) int {
	n := 0
	for t := s.TryGetWork(); t != nil; t = s.TryGetWork() {
		s.RunTask(context.Background(), t, 0)
		n++
	}
	return n
}

func waitAwaiter(t *testing.T, a *Awaiter, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v, want nil (value %d)", err, a.Value())
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// fatalRecorder replaces the process-wide FatalHandler for one test.
type fatalRecorder struct {
	mu   sync.Mutex
	errs []error
}

func captureFatal(t *testing.T) *fatalRecorder {
	t.Helper()
	r := &fatalRecorder{}
	prev := SetFatalHandler(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, err)
	})
	t.Cleanup(func() { SetFatalHandler(prev) })
	return r
}

func (r *fatalRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

// Has reports whether any recorded violation wraps target.
func (r *fatalRecorder) Has(target error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, err := range r.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// =============================================================================
// Recording handlers
// =============================================================================

type recordingPanicHandler struct {
	mu    sync.Mutex
	calls []*PanicError
}

func (h *recordingPanicHandler) HandlePanic(ctx context.Context, schedulerName string, workerID int, err *PanicError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, err)
}

func (h *recordingPanicHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type recordingRejectedHandler struct {
	mu    sync.Mutex
	tasks []*Task
	errs  []error
}

func (h *recordingRejectedHandler) HandleRejectedTask(schedulerName string, task *Task, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = append(h.tasks, task)
	h.errs = append(h.errs, err)
}

func (h *recordingRejectedHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tasks)
}

type recordingMetrics struct {
	mu         sync.Mutex
	durations  int
	panics     int
	depths     map[TaskPriority]int
	rejections []string
	abandoned  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{depths: make(map[TaskPriority]int)}
}

func (m *recordingMetrics) RecordTaskDuration(schedulerName string, priority TaskPriority, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
}

func (m *recordingMetrics) RecordTaskPanic(schedulerName string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics++
}

func (m *recordingMetrics) RecordQueueDepth(schedulerName string, priority TaskPriority, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths[priority] = depth
}

func (m *recordingMetrics) RecordTaskRejected(schedulerName string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, reason)
}

func (m *recordingMetrics) RecordTaskAbandoned(schedulerName string, priority TaskPriority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abandoned++
}
