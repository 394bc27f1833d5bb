package core

import (
	"context"
	"fmt"
)

// ForOptions tunes a parallel For loop.
type ForOptions struct {
	// Workers caps how many batches run at once. <= 0 uses the scheduler's
	// worker count.
	Workers int
	// Priority of the batch and finalize tasks. Inherited resolves from ctx.
	Priority TaskPriority
	// Finalize runs once, on a worker, after every batch has finished. It
	// receives the loop's item count.
	Finalize func(count int)
	// Name prefixes the batch and finalize task names.
	Name string
}

func DefaultForOptions() ForOptions {
	return ForOptions{Priority: TaskPriorityInherited, Name: "parallel.For"}
}

// For splits [0, count) into batches of at most batch items and runs fn on
// each batch, with at most opts.Workers batches in flight. Each finished batch
// schedules the next unclaimed one, so no scheduling work happens up front
// beyond the first wave. The returned awaiter completes after
// opts.Finalize has run; the caller owns one reference to it.
//
// For never blocks. fn must not block on other tasks either.
func For(ctx context.Context, s *TaskScheduler, count, batch int, fn func(start, n int), opts ForOptions) *Awaiter {
	if count < 0 {
		count = 0
	}
	if batch < 1 {
		batch = 1
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = s.WorkerCount()
	}
	if workers < 1 {
		workers = 1
	}
	name := opts.Name
	if name == "" {
		name = "parallel.For"
	}
	priority := opts.Priority
	if priority == TaskPriorityInherited {
		priority = inheritPriority(ctx)
	}

	if batch > count && count > 0 {
		batch = count
	}
	batches := count / batch
	if count%batch != 0 {
		batches++
	}
	if workers > batches {
		workers = batches
	}

	allDone := NewAwaiter()
	result := NewAwaiter()

	// Hold allDone open until every first-wave batch is scheduled, otherwise
	// a fast batch could complete it before the next one is registered.
	deferral := s.DeferCompletion(allDone)

	finalize := opts.Finalize
	fin := NewTask(func(context.Context) {
		if finalize != nil {
			finalize(count)
		}
	}, TaskTraits{Priority: priority, Options: TaskOptionDispose, Name: name + "/finalize"})
	s.ScheduleWithAwaiter(ctx, fin, result, allDone)
	fin.ReleaseReference()

	loop := &forLoop{
		scheduler: s,
		fn:        fn,
		count:     count,
		batch:     batch,
		batches:   batches,
		stride:    workers,
		done:      allDone,
		traits:    TaskTraits{Priority: priority, Options: TaskOptionDispose},
		name:      name,
	}
	for i := 0; i < workers; i++ {
		loop.schedule(ctx, i)
	}

	deferral.Release()
	allDone.ReleaseReference()
	return result
}

type forLoop struct {
	scheduler *TaskScheduler
	fn        func(start, n int)
	count     int
	batch     int
	batches   int
	stride    int
	done      *Awaiter
	traits    TaskTraits
	name      string
}

func (l *forLoop) schedule(ctx context.Context, index int) {
	traits := l.traits
	traits.Name = fmt.Sprintf("%s/batch-%d", l.name, index)

	t := NewTask(func(ctx context.Context) {
		// Chain the successor even if fn panics, or the loop never finishes.
		defer func() {
			if next := index + l.stride; next < l.batches {
				l.schedule(ctx, next)
			}
		}()

		start := index * l.batch
		n := min(l.batch, l.count-start)
		if l.fn != nil {
			l.fn(start, n)
		}
	}, traits)
	l.scheduler.ScheduleWithAwaiter(ctx, t, l.done, nil)
	t.ReleaseReference()
}
