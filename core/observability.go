package core

import "time"

// TaskExecutionRecord captures one callback invocation.
type TaskExecutionRecord struct {
	TaskID     uint64
	Label      string
	Scheduler  string
	Priority   PriorityLevel
	StartedAt  time.Duration
	FinishedAt time.Duration
	Duration   time.Duration
	DidTimeout bool
	Continued  bool
	Panicked   bool
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Name            string
	Ready           int
	Delayed         int
	Performing      bool
	LoopRunning     bool
	TimeoutArmed    bool
	CurrentPriority PriorityLevel
	FrameInterval   time.Duration
	Scheduled       uint64
	Completed       uint64
	Cancelled       uint64
	Continuations   uint64
	Yields          uint64
	Rejected        uint64
	Closed          bool
	LastTaskLabel   string
	LastTaskAt      time.Duration
}

// HostStats represents runtime observability state for a host.
type HostStats struct {
	Name    string
	Pending int
	Turns   uint64
	Panics  uint64
	Timers  int
	Closed  bool
}
