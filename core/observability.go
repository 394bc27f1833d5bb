package core

import "time"

// TaskExecutionRecord captures a finished task execution event.
type TaskExecutionRecord struct {
	TaskID        uint32
	Name          string
	SchedulerName string
	Priority      TaskPriority
	WorkerID      int
	Status        TaskStatus
	StartedAt     time.Time
	FinishedAt    time.Time
	Duration      time.Duration
	Panicked      bool
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Name         string
	Workers      int
	Queued       int
	Pending      int
	Active       int
	Executed     int64
	Abandoned    int64
	Rejected     int64
	Closed       bool
	LastTaskName string
	LastTaskAt   time.Time
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Pending int
	Active  int
	Running bool
}
