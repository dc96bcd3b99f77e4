package framescheduler

import "github.com/Swind/go-frame-scheduler/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the framescheduler package for most use cases.

// Scheduler runs prioritized callbacks cooperatively on a host
type Scheduler = core.Scheduler

// Task is a handle to scheduled work
type Task = core.Task

// Callback is the unit of work
type Callback = core.Callback

// Result is what a Callback returns: Done or Continue(next)
type Result = core.Result

// PriorityLevel defines the priority levels for tasks
type PriorityLevel = core.PriorityLevel

// ScheduleOption configures a single ScheduleCallback call
type ScheduleOption = core.ScheduleOption

// Host is the thread a Scheduler runs on
type Host = core.Host

// LoopHost runs turns on a dedicated goroutine
type LoopHost = core.LoopHost

// SchedulerConfig holds configuration options for Scheduler
type SchedulerConfig = core.SchedulerConfig

// Priority constants
const (
	NoPriority           PriorityLevel = core.NoPriority
	ImmediatePriority    PriorityLevel = core.ImmediatePriority
	UserBlockingPriority PriorityLevel = core.UserBlockingPriority
	NormalPriority       PriorityLevel = core.NormalPriority
	LowPriority          PriorityLevel = core.LowPriority
	IdlePriority         PriorityLevel = core.IdlePriority
)

// Convenience functions for building callbacks and options
var (
	Done      = core.Done
	Continue  = core.Continue
	Func      = core.Func
	WithDelay = core.WithDelay
	WithLabel = core.WithLabel
)

// NewScheduler creates a scheduler on host.
// This is re-exported for advanced users who want to run several schedulers.
func NewScheduler(host Host, cfg *SchedulerConfig) *Scheduler {
	return core.NewScheduler(host, cfg)
}

// NewLoopHost creates a LoopHost on the wall clock.
func NewLoopHost(cfg *core.LoopHostConfig) *LoopHost {
	return core.NewLoopHost(core.NewRealClock(), cfg)
}
