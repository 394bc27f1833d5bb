package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// TaskScheduler owns one ready queue per priority tier and the glue between
// awaiter completion and queue re-insertion. Workers pull from it with
// GetWork and run what they pull with RunTask.
type TaskScheduler struct {
	name        string
	queues      [priorityTiers]*TaskQueue
	signal      chan struct{}
	workerCount int

	nextID atomic.Uint32

	// lifecycleMu orders queue and wait-list insertion against Shutdown.
	// Once Shutdown has taken it for writing, every later insertion observes
	// shuttingDown and abandons instead.
	lifecycleMu  deadlock.RWMutex
	shuttingDown atomic.Bool

	// Tasks parked on a dependency awaiter, kept only so Shutdown can find them.
	parkedMu deadlock.Mutex
	parked   map[uint32]*Task

	executingMu deadlock.Mutex
	executing   map[uint32]*Task

	// LongRunning tasks run outside any worker; Add happens under
	// lifecycleMu before shutdown, so JoinLongRunning after Shutdown is safe.
	longRunning sync.WaitGroup

	metricActive    atomic.Int32
	metricExecuted  atomic.Int64
	metricAbandoned atomic.Int64
	metricRejected  atomic.Int64

	// Handlers and Metrics
	logger              Logger
	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler

	history *executionHistory
}

func NewTaskScheduler(workerCount int) *TaskScheduler {
	return NewTaskSchedulerWithConfig(workerCount, DefaultTaskSchedulerConfig())
}

func NewTaskSchedulerWithConfig(workerCount int, config *TaskSchedulerConfig) *TaskScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	cfg := config.withDefaults()

	s := &TaskScheduler{
		name:                cfg.Name,
		signal:              make(chan struct{}, workerCount*2),
		workerCount:         workerCount,
		parked:              make(map[uint32]*Task),
		executing:           make(map[uint32]*Task),
		logger:              cfg.Logger,
		panicHandler:        cfg.PanicHandler,
		metrics:             cfg.Metrics,
		rejectedTaskHandler: cfg.RejectedTaskHandler,
		history:             newExecutionHistory(cfg.HistoryCapacity),
	}
	for i := range s.queues {
		s.queues[i] = NewTaskQueue()
	}
	return s
}

// =============================================================================
// Submission
// =============================================================================

// Schedule dispatches t behind dependency (nil means no dependency) and
// returns a new completion awaiter that reaches zero once t has finished,
// been cancelled or been abandoned.
func (s *TaskScheduler) Schedule(ctx context.Context, t *Task, dependency *Awaiter) *Awaiter {
	completion := NewAwaiter()
	s.ScheduleWithAwaiter(ctx, t, completion, dependency)
	return completion
}

// ScheduleWithAwaiter dispatches t with a caller-provided completion awaiter,
// which may be shared by many tasks to fan in. completion may be nil.
func (s *TaskScheduler) ScheduleWithAwaiter(ctx context.Context, t *Task, completion, dependency *Awaiter) {
	if t.priority == TaskPriorityInherited && t.Status() == TaskStatusCreated {
		t.priority = inheritPriority(ctx)
	}
	if !t.Dispatched(s.allocateID(), completion, dependency) {
		return
	}
	if completion != nil {
		completion.AddDependency()
	}
	t.AcquireReference() // released by finish

	s.lifecycleMu.RLock()
	if s.shuttingDown.Load() {
		s.lifecycleMu.RUnlock()
		s.reject(t)
		return
	}
	ready := dependency == nil || dependency.IsCompleted()
	parked := false
	if ready {
		s.pushLocked(t)
	} else if t.suspend() {
		s.park(t, dependency)
		parked = true
	}
	s.lifecycleMu.RUnlock()

	if !ready && !parked {
		// Cancelled before it could park, or a violation the FatalHandler
		// let through. Nothing will run it.
		s.finish(t)
		return
	}

	// The dependency may have reached zero between the check and the park.
	if !ready && dependency.IsCompleted() {
		s.flush(dependency)
	}
}

// NotifyCompleted retires one unit on a and, when that brings it to zero,
// requeues every task parked on it. Use this instead of a.NotifyCompleted for
// awaiters that tasks depend on.
func (s *TaskScheduler) NotifyCompleted(a *Awaiter) bool {
	if !a.NotifyCompleted() {
		return false
	}
	s.flush(a)
	return true
}

// DeferCompletion holds one unit on a until the returned deferral is
// released, cascading through this scheduler on the zero crossing.
func (s *TaskScheduler) DeferCompletion(a *Awaiter) *CompletionDeferral {
	return DeferCompletion(a, s.flush)
}

func (s *TaskScheduler) allocateID() uint32 {
	for {
		if id := s.nextID.Add(1); id != 0 {
			return id
		}
	}
}

func (s *TaskScheduler) park(t *Task, dependency *Awaiter) {
	s.parkedMu.Lock()
	s.parked[t.ID()] = t
	s.parkedMu.Unlock()

	dependency.AddWaitingTask(t)
}

func (s *TaskScheduler) unpark(t *Task) {
	s.parkedMu.Lock()
	delete(s.parked, t.ID())
	s.parkedMu.Unlock()
}

// flush requeues the tasks parked on a completed awaiter. This is the cascade.
func (s *TaskScheduler) flush(a *Awaiter) {
	var ready TaskList
	a.FlushWaitList(&ready)
	if ready.IsEmpty() {
		return
	}
	s.logger.Debug("awaiter completed", F("scheduler", s.name), F("released", ready.Len()))

	for t := ready.PopFront(); t != nil; t = ready.PopFront() {
		s.unpark(t)
		if !t.wake() {
			continue
		}
		s.enqueue(t)
	}
}

func (s *TaskScheduler) enqueue(t *Task) {
	s.lifecycleMu.RLock()
	if s.shuttingDown.Load() {
		s.lifecycleMu.RUnlock()
		s.abandon(t)
		return
	}
	s.pushLocked(t)
	s.lifecycleMu.RUnlock()
}

// pushLocked requires lifecycleMu held for reading.
func (s *TaskScheduler) pushLocked(t *Task) {
	if t.options.Has(TaskOptionLongRunning) {
		s.longRunning.Add(1)
		go func() {
			defer s.longRunning.Done()
			s.RunTask(context.Background(), t, -1)
		}()
		return
	}

	q := s.queues[t.priority.tier()]
	q.Push(t)
	s.metrics.RecordQueueDepth(s.name, t.priority, q.Count())

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but task is already queued
	}
}

// =============================================================================
// Worker side
// =============================================================================

// GetWork blocks until a task is ready or stopCh is closed. Higher priority
// queues are always drained first.
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (*Task, bool) {
	for {
		if t := s.TryGetWork(); t != nil {
			return t, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

// TryGetWork pops the highest-priority ready task, or returns nil.
func (s *TaskScheduler) TryGetWork() *Task {
	for _, q := range s.queues {
		if t := q.Pop(); t != nil {
			return t
		}
	}
	return nil
}

// RunTask executes t, records the outcome, notifies t's completion awaiter
// (cascading into dependents) and drops the scheduler's reference.
func (s *TaskScheduler) RunTask(ctx context.Context, t *Task, workerID int) {
	s.metricActive.Add(1)
	s.trackExecuting(t)
	if s.shuttingDown.Load() {
		t.Abandon()
	}

	startedAt := time.Now()
	ran := t.Execute(ctx)
	finishedAt := time.Now()

	s.untrackExecuting(t)
	s.record(ctx, t, workerID, ran, startedAt, finishedAt)
	s.metricActive.Add(-1)
	s.finish(t)
}

func (s *TaskScheduler) record(ctx context.Context, t *Task, workerID int, ran bool, startedAt, finishedAt time.Time) {
	status := t.Status()
	if status == TaskStatusAbandoned {
		s.metricAbandoned.Add(1)
		s.metrics.RecordTaskAbandoned(s.name, t.priority)
	}
	if !ran {
		return
	}

	s.metricExecuted.Add(1)
	pe := t.err.Load()
	if pe != nil {
		s.panicHandler.HandlePanic(ctx, s.name, workerID, pe)
		s.metrics.RecordTaskPanic(s.name, pe.Value)
	}

	duration := finishedAt.Sub(startedAt)
	s.metrics.RecordTaskDuration(s.name, t.priority, duration)
	s.history.Add(TaskExecutionRecord{
		TaskID:        t.ID(),
		Name:          t.name,
		SchedulerName: s.name,
		Priority:      t.priority,
		WorkerID:      workerID,
		Status:        status,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Duration:      duration,
		Panicked:      pe != nil,
	})
}

func (s *TaskScheduler) finish(t *Task) {
	if a := t.Awaiter(); a != nil {
		s.NotifyCompleted(a)
	}
	t.ReleaseReference()
}

func (s *TaskScheduler) abandon(t *Task) {
	if t.Abandon() {
		s.metricAbandoned.Add(1)
		s.metrics.RecordTaskAbandoned(s.name, t.priority)
	}
	s.finish(t)
}

func (s *TaskScheduler) reject(t *Task) {
	s.metricRejected.Add(1)
	s.metrics.RecordTaskRejected(s.name, "shutting down")
	s.rejectedTaskHandler.HandleRejectedTask(s.name, t, ErrSchedulerClosed)
	s.abandon(t)
}

func (s *TaskScheduler) trackExecuting(t *Task) {
	s.executingMu.Lock()
	s.executing[t.ID()] = t
	s.executingMu.Unlock()
}

func (s *TaskScheduler) untrackExecuting(t *Task) {
	s.executingMu.Lock()
	delete(s.executing, t.ID())
	s.executingMu.Unlock()
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown stops accepting work and abandons every task that has not
// finished: queued and parked tasks are dropped, executing tasks are marked
// Abandoned but run to completion. Completion awaiters are still notified so
// nothing waiting on them hangs. Repeated calls are no-ops.
func (s *TaskScheduler) Shutdown() {
	s.lifecycleMu.Lock()
	already := s.shuttingDown.Swap(true)
	s.lifecycleMu.Unlock()
	if already {
		return
	}

	executing := 0
	s.executingMu.Lock()
	for _, t := range s.executing {
		if t.Abandon() {
			executing++
		}
	}
	s.executingMu.Unlock()

	var drained TaskList
	for _, q := range s.queues {
		q.Drain(&drained)
	}
	queued := drained.Len()
	for t := drained.PopFront(); t != nil; t = drained.PopFront() {
		s.abandon(t)
	}

	pending := 0
	for _, t := range s.parkedSnapshot() {
		dep := t.DependencyAwaiter()
		if dep == nil || !dep.RemoveWaitingTask(t) {
			continue // flushed by a cascade meanwhile
		}
		s.unpark(t)
		s.abandon(t)
		pending++
	}

	s.logger.Info("task scheduler shut down",
		F("scheduler", s.name),
		F("abandoned_queued", queued),
		F("abandoned_pending", pending),
		F("abandoned_executing", executing),
	)
}

// ShutdownGraceful waits until no task is queued, parked or executing, then
// shuts down. On timeout it shuts down anyway and returns an error.
func (s *TaskScheduler) ShutdownGraceful(timeout time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.isIdle() {
			s.Shutdown()
			return nil
		}

		select {
		case <-deadline:
			s.Shutdown()
			return fmt.Errorf("shutdown graceful timeout after %v, abandoned remaining tasks", timeout)
		case <-ticker.C:
		}
	}
}

// JoinLongRunning waits for LongRunning tasks already handed to their own
// goroutines. Call it after Shutdown; Shutdown only marks them Abandoned.
func (s *TaskScheduler) JoinLongRunning() {
	s.longRunning.Wait()
}

func (s *TaskScheduler) isIdle() bool {
	return s.QueuedTaskCount() == 0 && s.PendingTaskCount() == 0 && s.ActiveTaskCount() == 0
}

func (s *TaskScheduler) parkedSnapshot() []*Task {
	s.parkedMu.Lock()
	defer s.parkedMu.Unlock()
	out := make([]*Task, 0, len(s.parked))
	for _, t := range s.parked {
		out = append(out, t)
	}
	return out
}

// =============================================================================
// Metrics
// =============================================================================

func (s *TaskScheduler) Name() string     { return s.name }
func (s *TaskScheduler) WorkerCount() int { return s.workerCount }
func (s *TaskScheduler) IsClosed() bool   { return s.shuttingDown.Load() }

func (s *TaskScheduler) QueuedTaskCount() int {
	n := 0
	for _, q := range s.queues {
		n += q.Count()
	}
	return n
}

// PendingTaskCount returns the number of tasks parked on a dependency.
func (s *TaskScheduler) PendingTaskCount() int {
	s.parkedMu.Lock()
	defer s.parkedMu.Unlock()
	return len(s.parked)
}

func (s *TaskScheduler) ActiveTaskCount() int { return int(s.metricActive.Load()) }

// Stats returns current observability data for this scheduler.
func (s *TaskScheduler) Stats() SchedulerStats {
	stats := SchedulerStats{
		Name:      s.name,
		Workers:   s.workerCount,
		Queued:    s.QueuedTaskCount(),
		Pending:   s.PendingTaskCount(),
		Active:    s.ActiveTaskCount(),
		Executed:  s.metricExecuted.Load(),
		Abandoned: s.metricAbandoned.Load(),
		Rejected:  s.metricRejected.Load(),
		Closed:    s.IsClosed(),
	}
	if last, ok := s.history.Last(); ok {
		stats.LastTaskName = last.Name
		stats.LastTaskAt = last.FinishedAt
	}
	return stats
}

// RecentTasks returns finished task execution records in newest-first order.
func (s *TaskScheduler) RecentTasks(limit int) []TaskExecutionRecord {
	return s.history.Recent(limit)
}

func (s *TaskScheduler) Logger() Logger { return s.logger }
