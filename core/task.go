package core

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"
)

// TaskFunc is the work carried by a Task.
type TaskFunc func(ctx context.Context)

// Runnable is implemented by types that carry their own work. Wrap one with
// NewRunnableTask.
type Runnable interface {
	Run(ctx context.Context)
}

// =============================================================================
// TaskTraits: Define task attributes (priority, options, name)
// =============================================================================

type TaskPriority int

// The zero value is Normal; queue order comes from tier, not from the
// numeric values.
const (
	// TaskPriorityNormal: Default priority
	TaskPriorityNormal TaskPriority = iota

	// TaskPriorityCritical: Highest priority, drained before anything else
	TaskPriorityCritical

	TaskPriorityHigh

	TaskPriorityLow

	// TaskPriorityBackground: Lowest priority
	TaskPriorityBackground

	// TaskPriorityInherited takes the priority of the task that schedules it,
	// or Normal when scheduled from outside a task.
	TaskPriorityInherited
)

const priorityTiers = int(TaskPriorityInherited)

func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityCritical:
		return "critical"
	case TaskPriorityHigh:
		return "high"
	case TaskPriorityNormal:
		return "normal"
	case TaskPriorityLow:
		return "low"
	case TaskPriorityBackground:
		return "background"
	case TaskPriorityInherited:
		return "inherited"
	default:
		return "unknown"
	}
}

// tier maps a concrete priority to its queue index, 0 being drained first.
// Inherited and unknown values land in the Normal tier.
func (p TaskPriority) tier() int {
	switch p {
	case TaskPriorityCritical:
		return 0
	case TaskPriorityHigh:
		return 1
	case TaskPriorityLow:
		return 3
	case TaskPriorityBackground:
		return 4
	default:
		return 2
	}
}

// TaskOption is a set of task flags.
type TaskOption uint32

const (
	// TaskOptionLongRunning runs the task on a dedicated goroutine instead of
	// occupying a pool worker.
	TaskOptionLongRunning TaskOption = 1 << iota

	// TaskOptionDispose destroys the task automatically when its last
	// reference is released.
	TaskOptionDispose
)

const TaskOptionNone TaskOption = 0

func (o TaskOption) Has(flag TaskOption) bool { return o&flag == flag }

type TaskTraits struct {
	Priority TaskPriority
	Options  TaskOption
	Name     string
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{Priority: TaskPriorityNormal}
}

func TraitsCritical() TaskTraits {
	return TaskTraits{Priority: TaskPriorityCritical}
}

func TraitsBackground() TaskTraits {
	return TaskTraits{Priority: TaskPriorityBackground}
}

func TraitsInherited() TaskTraits {
	return TaskTraits{Priority: TaskPriorityInherited}
}

// =============================================================================
// TaskStatus: the task lifecycle
// =============================================================================

type TaskStatus int32

const (
	TaskStatusCreated TaskStatus = iota
	TaskStatusDispatched
	TaskStatusPending
	TaskStatusExecuting
	TaskStatusCompleted
	TaskStatusCancelled
	TaskStatusAbandoned
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusCreated:
		return "created"
	case TaskStatusDispatched:
		return "dispatched"
	case TaskStatusPending:
		return "pending"
	case TaskStatusExecuting:
		return "executing"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusCancelled:
		return "cancelled"
	case TaskStatusAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled || s == TaskStatusAbandoned
}

// =============================================================================
// Task
// =============================================================================

// Task is a unit of schedulable work. It runs at most once, after its
// dependency awaiter reaches zero, and signals its completion awaiter when
// done.
//
// A new task holds one reference owned by its creator. The scheduler takes its
// own reference while the task is in flight.
type Task struct {
	fn       TaskFunc
	name     string
	priority TaskPriority
	options  TaskOption

	id     atomic.Uint32
	status atomic.Int32
	refs   atomic.Int32

	awaiter           *Awaiter
	dependencyAwaiter *Awaiter

	// Intrusive links. A task is linked into at most one TaskList at a time:
	// a ready queue or an awaiter's wait list.
	next, prev *Task
	list       *TaskList

	err       atomic.Pointer[PanicError]
	onDestroy func(*Task)
	destroyed atomic.Bool
}

// NewTask creates a task in the Created state.
func NewTask(fn TaskFunc, traits TaskTraits) *Task {
	t := &Task{
		fn:       fn,
		name:     resolveTaskName(fn, traits.Name),
		priority: traits.Priority,
		options:  traits.Options,
	}
	t.refs.Store(1)
	return t
}

// NewRunnableTask creates a task whose work is r.Run.
func NewRunnableTask(r Runnable, traits TaskTraits) *Task {
	if traits.Name == "" {
		traits.Name = resolveRunnableName(r)
	}
	return NewTask(r.Run, traits)
}

func (t *Task) ID() uint32             { return t.id.Load() }
func (t *Task) Name() string           { return t.name }
func (t *Task) Status() TaskStatus     { return TaskStatus(t.status.Load()) }
func (t *Task) Priority() TaskPriority { return t.priority }
func (t *Task) Options() TaskOption    { return t.options }

// Awaiter returns the completion awaiter, signaled when this task finishes.
func (t *Task) Awaiter() *Awaiter { return t.awaiter }

// DependencyAwaiter returns the awaiter that must complete before this task
// may run, or nil.
func (t *Task) DependencyAwaiter() *Awaiter { return t.dependencyAwaiter }

// Err returns the recovered panic if the work function panicked.
func (t *Task) Err() error {
	if pe := t.err.Load(); pe != nil {
		return pe
	}
	return nil
}

// SetOnDestroy registers a hook run exactly once when the task is destroyed.
// Must be called before the task is scheduled.
func (t *Task) SetOnDestroy(fn func(*Task)) {
	t.onDestroy = fn
}

// Dispatched assigns identity and awaiter handles. It is called once, by the
// scheduler, on a Created task that holds no awaiters.
func (t *Task) Dispatched(id uint32, awaiter, dependencyAwaiter *Awaiter) bool {
	if t.Status() != TaskStatusCreated {
		contractViolation("Dispatched", t, ErrAlreadyDispatched)
		return false
	}
	if t.awaiter != nil || t.dependencyAwaiter != nil {
		contractViolation("Dispatched", t, ErrAlreadyDispatched)
		return false
	}

	if awaiter != nil {
		awaiter.AcquireReference()
	}
	if dependencyAwaiter != nil {
		dependencyAwaiter.AcquireReference()
	}
	t.awaiter = awaiter
	t.dependencyAwaiter = dependencyAwaiter
	t.id.Store(id)

	if !t.status.CompareAndSwap(int32(TaskStatusCreated), int32(TaskStatusDispatched)) {
		contractViolation("Dispatched", t, ErrAlreadyDispatched)
		return false
	}
	return true
}

// DispatchedToPending parks a dispatched task behind its dependency.
func (t *Task) DispatchedToPending() bool {
	if !t.status.CompareAndSwap(int32(TaskStatusDispatched), int32(TaskStatusPending)) {
		contractViolation("DispatchedToPending", t, ErrInvalidTransition)
		return false
	}
	return true
}

// PendingToDispatched marks a parked task ready to run.
func (t *Task) PendingToDispatched() bool {
	if !t.status.CompareAndSwap(int32(TaskStatusPending), int32(TaskStatusDispatched)) {
		contractViolation("PendingToDispatched", t, ErrInvalidTransition)
		return false
	}
	return true
}

// suspend is DispatchedToPending for the scheduler: a task cancelled since
// dispatch is not parked and is not a violation. Returns false if the task
// was not parked.
func (t *Task) suspend() bool {
	if t.status.CompareAndSwap(int32(TaskStatusDispatched), int32(TaskStatusPending)) {
		return true
	}
	if t.Status() != TaskStatusCancelled {
		contractViolation("DispatchedToPending", t, ErrInvalidTransition)
	}
	return false
}

// wake moves a task flushed from a wait list back to Dispatched. Tasks that
// were cancelled or abandoned while parked are passed through unchanged so a
// worker can drop them and signal their awaiter.
func (t *Task) wake() bool {
	for {
		switch s := t.Status(); s {
		case TaskStatusPending:
			if t.status.CompareAndSwap(int32(TaskStatusPending), int32(TaskStatusDispatched)) {
				return true
			}
		case TaskStatusCancelled, TaskStatusAbandoned:
			return true
		default:
			contractViolation("PendingToDispatched", t, ErrInvalidTransition)
			return false
		}
	}
}

// Execute runs the work function once. It returns false without running
// anything when the task was cancelled or abandoned. A panic in the work
// function is recovered: the task ends Abandoned and Err reports the panic.
func (t *Task) Execute(ctx context.Context) bool {
	if !t.beginExecute() {
		return false
	}

	var pc panics.Catcher
	pc.Try(func() {
		if t.fn != nil {
			t.fn(withCurrentTask(ctx, t))
		}
	})

	if r := pc.Recovered(); r != nil {
		t.err.Store(&PanicError{TaskID: t.ID(), Name: t.name, Value: r.Value, Stack: r.Stack})
		t.status.CompareAndSwap(int32(TaskStatusExecuting), int32(TaskStatusAbandoned))
		return true
	}

	// An Abandon during execution wins; the work still ran to completion.
	t.status.CompareAndSwap(int32(TaskStatusExecuting), int32(TaskStatusCompleted))
	return true
}

func (t *Task) beginExecute() bool {
	for {
		s := t.Status()
		switch s {
		case TaskStatusCancelled, TaskStatusAbandoned:
			return false
		case TaskStatusDispatched, TaskStatusPending:
			if dep := t.dependencyAwaiter; dep != nil && !dep.IsCompleted() {
				contractViolation("Execute", t, ErrDependencyNotCompleted)
				return false
			}
			if t.status.CompareAndSwap(int32(s), int32(TaskStatusExecuting)) {
				return true
			}
		case TaskStatusCreated:
			contractViolation("Execute", t, ErrNotDispatched)
			return false
		default:
			contractViolation("Execute", t, ErrInvalidTransition)
			return false
		}
	}
}

// Abandon forces a dispatched, pending or executing task to Abandoned. An
// executing task is not interrupted. Returns false if the task was already
// terminal.
func (t *Task) Abandon() bool {
	for {
		s := t.Status()
		switch {
		case s.IsTerminal():
			return false
		case s == TaskStatusCreated:
			contractViolation("Abandon", t, ErrNotDispatched)
			return false
		}
		if t.status.CompareAndSwap(int32(s), int32(TaskStatusAbandoned)) {
			return true
		}
	}
}

// Cancel marks a task that has not started as Cancelled; the scheduler drops
// it when it reaches a worker and still signals its completion awaiter.
// Returns false if the task is executing or already terminal.
func (t *Task) Cancel() bool {
	for {
		s := t.Status()
		if s != TaskStatusDispatched && s != TaskStatusPending {
			return false
		}
		if t.status.CompareAndSwap(int32(s), int32(TaskStatusCancelled)) {
			return true
		}
	}
}

// =============================================================================
// Reference counting
// =============================================================================

func (t *Task) AcquireReference() {
	t.refs.Add(1)
}

// ReleaseReference drops one reference. When the count reaches zero a task
// with TaskOptionDispose is destroyed; any other task reverts to its owner,
// who must call Destroy.
func (t *Task) ReleaseReference() {
	n := t.refs.Add(-1)
	if n < 0 {
		contractViolation("ReleaseReference", t, ErrReferenceUnderflow)
		return
	}
	if n == 0 && t.options.Has(TaskOptionDispose) {
		t.destroy()
	}
}

func (t *Task) References() int32 { return t.refs.Load() }

// Destroyed reports whether the task has been destroyed.
func (t *Task) Destroyed() bool { return t.destroyed.Load() }

// Destroy releases the task's awaiter handles and runs its destroy hook. The
// task must hold no references.
func (t *Task) Destroy() {
	if t.refs.Load() > 0 {
		contractViolation("Destroy", t, ErrTaskReferenced)
		return
	}
	t.destroy()
}

func (t *Task) destroy() {
	if !t.destroyed.CompareAndSwap(false, true) {
		contractViolation("Destroy", t, ErrDoubleDestroy)
		return
	}
	if a := t.awaiter; a != nil {
		t.awaiter = nil
		a.ReleaseReference()
	}
	if a := t.dependencyAwaiter; a != nil {
		t.dependencyAwaiter = nil
		a.ReleaseReference()
	}
	if t.onDestroy != nil {
		t.onDestroy(t)
	}
}

// =============================================================================
// Context Helper
// =============================================================================
type currentTaskKeyType struct{}

var currentTaskKey currentTaskKeyType

func withCurrentTask(ctx context.Context, t *Task) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, currentTaskKey, t)
}

// CurrentTask returns the task whose work function is running with ctx.
func CurrentTask(ctx context.Context) *Task {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(currentTaskKey); v != nil {
		return v.(*Task)
	}
	return nil
}

func inheritPriority(ctx context.Context) TaskPriority {
	if cur := CurrentTask(ctx); cur != nil && cur.priority != TaskPriorityInherited {
		return cur.priority
	}
	return TaskPriorityNormal
}
