package core

import (
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"
)

// TaskQueue is a FIFO of ready tasks. It links tasks intrusively, so Push and
// Pop are O(1) and never allocate. The count is kept separately so IsEmpty
// and Count do not take the lock.
//
// The queue does not own its tasks; callers manage task references around
// Push and Pop.
type TaskQueue struct {
	mu    deadlock.Mutex
	tasks TaskList
	count atomic.Int32
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Push appends t. Its dependency awaiter must already be completed.
func (q *TaskQueue) Push(t *Task) {
	if dep := t.DependencyAwaiter(); dep != nil && !dep.IsCompleted() {
		contractViolation("TaskQueue.Push", t, ErrDependencyNotCompleted)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks.PushBack(t)
	q.count.Add(1)
}

// Pop removes and returns the oldest task, or nil when the queue is empty.
func (q *TaskQueue) Pop() *Task {
	if q.IsEmpty() {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.tasks.PopFront()
	if t != nil {
		q.count.Add(-1)
	}
	return t
}

// Drain moves every queued task onto the back of out.
func (q *TaskQueue) Drain(out *TaskList) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.tasks.Len()
	q.tasks.SpliceTo(out)
	q.count.Add(int32(-n))
	return n
}

func (q *TaskQueue) IsEmpty() bool { return q.count.Load() == 0 }

func (q *TaskQueue) Count() int { return int(q.count.Load()) }
