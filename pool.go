package taskscheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-task-scheduler/core"
)

// GoroutineThreadPool manages a set of worker goroutines
// Responsible for pulling ready tasks from its TaskScheduler and executing them
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *core.TaskScheduler
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

// NewGoroutineThreadPool creates a new GoroutineThreadPool with default
// handlers. The pool's scheduler is named after id.
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, nil)
}

// NewGoroutineThreadPoolWithConfig creates a pool whose scheduler uses config.
// An empty config.Name defaults to id.
func NewGoroutineThreadPoolWithConfig(id string, workers int, config *core.TaskSchedulerConfig) *GoroutineThreadPool {
	if workers < 1 {
		workers = 1
	}
	var cfg core.TaskSchedulerConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Name == "" {
		cfg.Name = id
	}
	return &GoroutineThreadPool{
		id:        id,
		workers:   workers,
		scheduler: core.NewTaskSchedulerWithConfig(workers, &cfg),
	}
}

// Start starts all worker goroutines
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return // Already running
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.wg.Add(1)
		go tg.workerLoop(i, tg.ctx)
	}
}

// Stop shuts the scheduler down, abandoning unfinished tasks, and waits for
// the workers and any LongRunning task goroutines to exit. A stopped pool
// cannot be restarted.
func (tg *GoroutineThreadPool) Stop() {
	// Always shut the scheduler down so parked tasks are abandoned and their
	// awaiters notified, even if the pool was never started.
	tg.scheduler.Shutdown()
	defer tg.scheduler.JoinLongRunning()

	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return
	}
	tg.runningMu.Unlock()

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()
}

// StopGraceful waits until no task is queued, parked or executing, then stops.
// Returns error if timeout is exceeded first; remaining tasks are abandoned.
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	defer tg.scheduler.JoinLongRunning()

	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		tg.scheduler.Shutdown()
		return nil
	}
	tg.runningMu.Unlock()

	err := tg.scheduler.ShutdownGraceful(timeout)

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()

	return err
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning returns whether the thread pool is running
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

// workerLoop is the main loop for each worker
func (tg *GoroutineThreadPool) workerLoop(id int, ctx context.Context) {
	defer tg.wg.Done()
	stopCh := ctx.Done()

	for {
		task, ok := tg.scheduler.GetWork(stopCh)
		if !ok {
			return
		}
		// Panics are recovered inside the task and reported to the
		// scheduler's PanicHandler.
		tg.scheduler.RunTask(ctx, task, id)
	}
}

// Join waits for all worker goroutines to finish
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

// WorkerCount returns the number of workers
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.scheduler.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) PendingTaskCount() int {
	return tg.scheduler.PendingTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.scheduler.ActiveTaskCount()
}

// Stats returns a point-in-time snapshot for observability.
func (tg *GoroutineThreadPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:      tg.id,
		Workers: tg.workers,
		Queued:  tg.QueuedTaskCount(),
		Pending: tg.PendingTaskCount(),
		Active:  tg.ActiveTaskCount(),
		Running: tg.IsRunning(),
	}
}

// Scheduler exposes the underlying scheduler for advanced use such as
// custom awaiters or stats.
func (tg *GoroutineThreadPool) Scheduler() *core.TaskScheduler {
	return tg.scheduler
}

// =============================================================================
// Submission
// =============================================================================

// Schedule dispatches task behind dependency (nil for none) and returns its
// completion awaiter.
func (tg *GoroutineThreadPool) Schedule(ctx context.Context, task *core.Task, dependency *core.Awaiter) *core.Awaiter {
	return tg.scheduler.Schedule(ctx, task, dependency)
}

// PostTask wraps fn in a self-disposing task and schedules it. The returned
// awaiter completes when fn has run.
func (tg *GoroutineThreadPool) PostTask(ctx context.Context, fn core.TaskFunc, traits core.TaskTraits) *core.Awaiter {
	return tg.PostTaskAfter(ctx, fn, traits, nil)
}

// PostTaskAfter is PostTask with a dependency.
func (tg *GoroutineThreadPool) PostTaskAfter(ctx context.Context, fn core.TaskFunc, traits core.TaskTraits, dependency *core.Awaiter) *core.Awaiter {
	traits.Options |= core.TaskOptionDispose
	task := core.NewTask(fn, traits)
	done := tg.scheduler.Schedule(ctx, task, dependency)
	task.ReleaseReference()
	return done
}

// For runs a batched parallel loop on this pool. See core.For.
func (tg *GoroutineThreadPool) For(ctx context.Context, count, batch int, fn func(start, n int), opts core.ForOptions) *core.Awaiter {
	return core.For(ctx, tg.scheduler, count, batch, fn, opts)
}

// =============================================================================
// Global Thread Pool Helper (Singleton)
// =============================================================================

var (
	globalThreadPool *GoroutineThreadPool
	globalMu         sync.Mutex
)

// InitGlobalThreadPool initializes the global thread pool with specified number of workers.
// It starts the pool immediately.
func InitGlobalThreadPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		return // Already initialized
	}

	globalThreadPool = NewGoroutineThreadPool("global-pool", workers)
	globalThreadPool.Start(context.Background())
}

// GetGlobalThreadPool returns the global thread pool instance.
// It panics if InitGlobalThreadPool has not been called.
func GetGlobalThreadPool() *GoroutineThreadPool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool == nil {
		panic("GlobalThreadPool not initialized. Call InitGlobalThreadPool() first.")
	}
	return globalThreadPool
}

// ShutdownGlobalThreadPool stops the global thread pool.
func ShutdownGlobalThreadPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		globalThreadPool.Stop()
		globalThreadPool = nil
	}
}

// Schedule dispatches task on the global thread pool.
func Schedule(ctx context.Context, task *Task, dependency *Awaiter) *Awaiter {
	return GetGlobalThreadPool().Schedule(ctx, task, dependency)
}

// PostTask runs fn on the global thread pool.
func PostTask(ctx context.Context, fn TaskFunc, traits TaskTraits) *Awaiter {
	return GetGlobalThreadPool().PostTask(ctx, fn, traits)
}

// ParallelFor runs a batched parallel loop on the global thread pool.
func ParallelFor(ctx context.Context, count, batch int, fn func(start, n int), opts ForOptions) *Awaiter {
	return GetGlobalThreadPool().For(ctx, count, batch, fn, opts)
}
