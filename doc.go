// Package taskscheduler provides a dependency-aware fork-join task scheduler for Go.
//
// Work is expressed as Tasks. Each task may name a dependency Awaiter that must
// reach zero before it runs, and signals a completion Awaiter when it is done.
// Awaiters are plain atomic counters with a wait list, so a task graph of any
// shape (chains, fan-out, fan-in) is built by passing awaiters around. Workers
// never block on an awaiter: a task whose dependency is outstanding is parked on
// it and requeued the moment the counter reaches zero.
//
// # Quick Start
//
// Initialize the global thread pool at application startup:
//
//	taskscheduler.InitGlobalThreadPool(4) // 4 workers
//	defer taskscheduler.ShutdownGlobalThreadPool()
//
// Chain two tasks:
//
//	load := taskscheduler.PostTask(ctx, loadFn, taskscheduler.DefaultTaskTraits())
//	done := taskscheduler.GetGlobalThreadPool().PostTaskAfter(ctx, renderFn, taskscheduler.DefaultTaskTraits(), load)
//	_ = done.Wait(ctx)
//
// Split a loop across the workers:
//
//	opts := taskscheduler.DefaultForOptions()
//	opts.Finalize = func(count int) { fmt.Println("processed", count) }
//	taskscheduler.ParallelFor(ctx, len(items), 64, func(start, n int) {
//		for _, it := range items[start : start+n] {
//			process(it)
//		}
//	}, opts)
//
// # Key Concepts
//
// Task: a unit of work moving through Created, Dispatched, Pending, Executing and
// a terminal state (Completed, Cancelled or Abandoned).
//
// Awaiter: a reference-counted join point. Its counter is incremented for each
// outstanding unit of work and decremented on completion.
//
// TaskPriority: five tiers from Critical to Background. Higher tiers are always
// drained first; Inherited takes the priority of the scheduling task.
//
// GoroutineThreadPool: the execution engine managing worker goroutines that pull
// and execute tasks from the scheduler.
//
// # Shutdown
//
// Stop abandons every task that has not finished and still notifies its
// completion awaiter, so nothing waiting on the graph hangs. StopGraceful waits
// for the graph to drain first.
package taskscheduler
