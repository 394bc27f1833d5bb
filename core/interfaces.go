package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task's work function panics. The task has
// already been marked Abandoned and its completion awaiter is notified after
// the handler returns.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context the task ran with
	// - schedulerName: The name of the scheduler that ran the task
	// - workerID: The ID of the worker (-1 for long-running tasks on a dedicated goroutine)
	// - err: The recovered panic, including value and stack trace
	HandlePanic(ctx context.Context, schedulerName string, workerID int, err *PanicError)
}

// DefaultPanicHandler logs panics through Logger, or a default slog logger
// when Logger is nil.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic with its stack trace.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, schedulerName string, workerID int, err *PanicError) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("scheduler", schedulerName),
		F("worker", workerID),
		F("task_id", err.TaskID),
		F("task", err.Name),
		F("panic", err.Value),
		F("stack", string(err.Stack)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskDuration records how long an executed task took.
	RecordTaskDuration(schedulerName string, priority TaskPriority, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(schedulerName string, panicInfo any)

	// RecordQueueDepth records the depth of one priority queue after a push.
	RecordQueueDepth(schedulerName string, priority TaskPriority, depth int)

	// RecordTaskRejected records that a task was rejected (e.g., during shutdown).
	RecordTaskRejected(schedulerName string, reason string)

	// RecordTaskAbandoned records a task dropped without running to completion.
	RecordTaskAbandoned(schedulerName string, priority TaskPriority)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(schedulerName string, priority TaskPriority, duration time.Duration) {
}
func (m *NilMetrics) RecordTaskPanic(schedulerName string, panicInfo any)                     {}
func (m *NilMetrics) RecordQueueDepth(schedulerName string, priority TaskPriority, depth int) {}
func (m *NilMetrics) RecordTaskRejected(schedulerName string, reason string)                  {}
func (m *NilMetrics) RecordTaskAbandoned(schedulerName string, priority TaskPriority)         {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a task is scheduled after the scheduler
// has begun shutting down. The task is abandoned and its completion awaiter
// notified regardless of what the handler does.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(schedulerName string, task *Task, err error)
}

// DefaultRejectedTaskHandler logs rejected tasks.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(schedulerName string, task *Task, err error) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("task rejected",
		F("scheduler", schedulerName),
		F("task_id", task.ID()),
		F("task", task.Name()),
		F("error", err),
	)
}

// =============================================================================
// TaskSchedulerConfig: Configuration for TaskScheduler
// =============================================================================

// TaskSchedulerConfig holds configuration options for TaskScheduler.
// All fields are optional; zero values are replaced with defaults.
type TaskSchedulerConfig struct {
	// Name labels logs and metrics. Defaults to "scheduler".
	Name string

	// Logger receives scheduler lifecycle logs. Defaults to a slog-backed logger.
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// HistoryCapacity bounds the execution history kept for RecentTasks.
	HistoryCapacity int
}

// DefaultTaskSchedulerConfig returns a config with default handlers.
func DefaultTaskSchedulerConfig() *TaskSchedulerConfig {
	logger := NewDefaultLogger()
	return &TaskSchedulerConfig{
		Name:                "scheduler",
		Logger:              logger,
		PanicHandler:        &DefaultPanicHandler{Logger: logger},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{Logger: logger},
		HistoryCapacity:     defaultTaskHistoryCapacity,
	}
}

func (c *TaskSchedulerConfig) withDefaults() TaskSchedulerConfig {
	var out TaskSchedulerConfig
	if c != nil {
		out = *c
	}
	if out.Name == "" {
		out.Name = "scheduler"
	}
	if out.Logger == nil {
		out.Logger = NewDefaultLogger()
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: out.Logger}
	}
	if out.HistoryCapacity < 1 {
		out.HistoryCapacity = defaultTaskHistoryCapacity
	}
	return out
}
