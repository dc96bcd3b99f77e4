package framescheduler

import (
	"sync"
	"time"

	"github.com/Swind/go-frame-scheduler/core"
)

// =============================================================================
// Global Scheduler Helper (Singleton)
// =============================================================================

var (
	globalScheduler *core.Scheduler
	globalHost      *core.LoopHost
	globalMu        sync.Mutex
)

// InitGlobalScheduler creates the process-wide scheduler on its own LoopHost.
// A nil cfg uses defaults with the name "global". Calling it again before
// ShutdownGlobalScheduler does nothing.
func InitGlobalScheduler(cfg *SchedulerConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		return // Already initialized
	}

	c := SchedulerConfig{Name: "global"}
	if cfg != nil {
		c = *cfg
	}
	globalHost = core.NewLoopHost(core.NewRealClock(), &core.LoopHostConfig{
		Name:   c.Name,
		Logger: c.Logger,
	})
	globalScheduler = core.NewScheduler(globalHost, &c)
}

// GetGlobalScheduler returns the global scheduler instance.
// It panics if InitGlobalScheduler has not been called.
func GetGlobalScheduler() *Scheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		panic("GlobalScheduler not initialized. Call InitGlobalScheduler() first.")
	}
	return globalScheduler
}

// GetGlobalHost returns the LoopHost behind the global scheduler.
// It panics if InitGlobalScheduler has not been called.
func GetGlobalHost() *LoopHost {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalHost == nil {
		panic("GlobalScheduler not initialized. Call InitGlobalScheduler() first.")
	}
	return globalHost
}

// ShutdownGlobalScheduler cancels pending tasks, stops the host goroutine and
// forgets the global scheduler. It must not be called from a callback.
func ShutdownGlobalScheduler() {
	globalMu.Lock()
	s, h := globalScheduler, globalHost
	globalScheduler = nil
	globalHost = nil
	globalMu.Unlock()

	// Stop waits for a running callback, which may itself use the globals.
	if s != nil {
		s.Shutdown()
		h.Stop()
	}
}

// ScheduleCallback schedules callback on the global scheduler.
func ScheduleCallback(priority PriorityLevel, callback Callback, opts ...ScheduleOption) (*Task, error) {
	return GetGlobalScheduler().ScheduleCallback(priority, callback, opts...)
}

// CancelCallback cancels task. It is the same as task.Cancel().
func CancelCallback(task *Task) {
	if task != nil {
		task.Cancel()
	}
}

// ShouldYield reports whether the global scheduler's current slice is over.
func ShouldYield() bool {
	return GetGlobalScheduler().ShouldYield()
}

// GetCurrentPriorityLevel returns the priority of the running global callback.
func GetCurrentPriorityLevel() PriorityLevel {
	return GetGlobalScheduler().GetCurrentPriorityLevel()
}

// RunWithPriority runs fn with the global current priority set to level.
func RunWithPriority(level PriorityLevel, fn func()) error {
	return GetGlobalScheduler().RunWithPriority(level, fn)
}

// ForceFrameRate overrides the global scheduler's frame budget.
func ForceFrameRate(fps int) error {
	return GetGlobalScheduler().ForceFrameRate(fps)
}

// Now returns the global scheduler time.
func Now() time.Duration {
	return GetGlobalScheduler().Now()
}
