package taskscheduler

import "github.com/Swind/go-task-scheduler/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the taskscheduler package for most use cases.

// Task is a schedulable unit of work with a dependency and a completion awaiter
type Task = core.Task

// TaskFunc is the work carried by a Task
type TaskFunc = core.TaskFunc

// TaskTraits defines task attributes (priority, options, name)
type TaskTraits = core.TaskTraits

// TaskPriority defines the priority tiers for tasks
type TaskPriority = core.TaskPriority

// TaskOption is a set of task flags
type TaskOption = core.TaskOption

// TaskStatus is a task lifecycle state
type TaskStatus = core.TaskStatus

// Awaiter is the counter and wait list tasks join on
type Awaiter = core.Awaiter

// ForOptions tunes ParallelFor
type ForOptions = core.ForOptions

// Priority constants
const (
	TaskPriorityCritical   TaskPriority = core.TaskPriorityCritical
	TaskPriorityHigh       TaskPriority = core.TaskPriorityHigh
	TaskPriorityNormal     TaskPriority = core.TaskPriorityNormal
	TaskPriorityLow        TaskPriority = core.TaskPriorityLow
	TaskPriorityBackground TaskPriority = core.TaskPriorityBackground
	TaskPriorityInherited  TaskPriority = core.TaskPriorityInherited
)

// Option constants
const (
	TaskOptionNone        TaskOption = core.TaskOptionNone
	TaskOptionLongRunning TaskOption = core.TaskOptionLongRunning
	TaskOptionDispose     TaskOption = core.TaskOptionDispose
)

// Status constants
const (
	TaskStatusCreated    TaskStatus = core.TaskStatusCreated
	TaskStatusDispatched TaskStatus = core.TaskStatusDispatched
	TaskStatusPending    TaskStatus = core.TaskStatusPending
	TaskStatusExecuting  TaskStatus = core.TaskStatusExecuting
	TaskStatusCompleted  TaskStatus = core.TaskStatusCompleted
	TaskStatusCancelled  TaskStatus = core.TaskStatusCancelled
	TaskStatusAbandoned  TaskStatus = core.TaskStatusAbandoned
)

// Convenience functions for creating tasks, awaiters and TaskTraits
var (
	NewTask           = core.NewTask
	NewAwaiter        = core.NewAwaiter
	DefaultTaskTraits = core.DefaultTaskTraits
	TraitsCritical    = core.TraitsCritical
	TraitsBackground  = core.TraitsBackground
	TraitsInherited   = core.TraitsInherited
	DefaultForOptions = core.DefaultForOptions
)

// CurrentTask retrieves the running task from context
var CurrentTask = core.CurrentTask
