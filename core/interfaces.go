package core

import (
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling callback panics
// =============================================================================

// PanicHandler is called when a host turn panics, which includes task
// callbacks (the value is then a *CallbackPanicError).
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a turn panics.
	//
	// Parameters:
	// - hostName: The name of the host whose turn panicked
	// - panicInfo: The recovered value
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(hostName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler reports panics through a Logger.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information at error level.
func (h *DefaultPanicHandler) HandlePanic(hostName string, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	fields := []Field{F("host", hostName), F("panic", fmt.Sprint(panicInfo))}
	if pe, ok := panicInfo.(*CallbackPanicError); ok {
		fields = append(fields, F("task_id", pe.TaskID), F("priority", pe.Priority))
		if pe.Label != "" {
			fields = append(fields, F("task", pe.Label))
		}
		stackTrace = pe.Stack
	}
	fields = append(fields, F("stack", string(stackTrace)))
	logger.Error("callback panicked", fields...)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods may be called while the scheduler lock is held. They must be
// non-blocking and must not call back into the scheduler.
type Metrics interface {
	// RecordTaskDuration records how long one callback invocation took.
	RecordTaskDuration(schedulerName string, priority PriorityLevel, duration time.Duration)

	// RecordTaskPanic records that a callback panicked.
	RecordTaskPanic(schedulerName string, panicInfo any)

	// RecordQueueDepth records the depth of the "ready" or "timer" queue.
	RecordQueueDepth(schedulerName string, queue string, depth int)

	// RecordTaskRejected records that ScheduleCallback refused a task.
	RecordTaskRejected(schedulerName string, reason string)

	// RecordYield records that the work loop gave the thread back with work
	// still pending.
	RecordYield(schedulerName string)

	// RecordTaskTimeout records a callback invoked after its expiration time.
	RecordTaskTimeout(schedulerName string, priority PriorityLevel)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(schedulerName string, priority PriorityLevel, duration time.Duration) {
}
func (m *NilMetrics) RecordTaskPanic(schedulerName string, panicInfo any)                {}
func (m *NilMetrics) RecordQueueDepth(schedulerName string, queue string, depth int)     {}
func (m *NilMetrics) RecordTaskRejected(schedulerName string, reason string)             {}
func (m *NilMetrics) RecordYield(schedulerName string)                                   {}
func (m *NilMetrics) RecordTaskTimeout(schedulerName string, priority PriorityLevel)     {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected work
// =============================================================================

// RejectedTaskHandler is called when work is refused:
// - ScheduleCallback with an invalid priority
// - ScheduleCallback after Shutdown
// - a host turn posted after the host was closed
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(name string, reason string)
}

// DefaultRejectedTaskHandler logs rejected work at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejection.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(name string, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("task rejected", F("name", name), F("reason", reason))
}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

const (
	// DefaultFrameInterval is the frame budget of one work loop slice.
	DefaultFrameInterval = 5 * time.Millisecond

	defaultOverdueLogRate = 1.0
)

// SchedulerConfig holds configuration options for Scheduler.
// All handlers are optional; if not provided, default implementations will be used.
type SchedulerConfig struct {
	// Name labels logs and metrics. Defaults to "scheduler".
	Name string

	// FrameInterval is how long one slice may run before yielding.
	// Defaults to DefaultFrameInterval.
	FrameInterval time.Duration

	// Logger defaults to a console DefaultLogger.
	Logger Logger

	// Metrics defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// HistoryCapacity bounds the execution history ring buffer.
	HistoryCapacity int

	// OverdueLogRate caps "task overdue" warnings per second. Zero uses the
	// default; negative disables them.
	OverdueLogRate float64
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	logger := NewDefaultLogger()
	return &SchedulerConfig{
		Name:                "scheduler",
		FrameInterval:       DefaultFrameInterval,
		Logger:              logger,
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{Logger: logger},
		HistoryCapacity:     defaultTaskHistoryCapacity,
		OverdueLogRate:      defaultOverdueLogRate,
	}
}

func (c *SchedulerConfig) withDefaults() SchedulerConfig {
	out := SchedulerConfig{}
	if c != nil {
		out = *c
	}
	if out.Name == "" {
		out.Name = "scheduler"
	}
	if out.FrameInterval <= 0 {
		out.FrameInterval = DefaultFrameInterval
	}
	if out.Logger == nil {
		out.Logger = NewDefaultLogger()
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: out.Logger}
	}
	if out.HistoryCapacity <= 0 {
		out.HistoryCapacity = defaultTaskHistoryCapacity
	}
	if out.OverdueLogRate == 0 {
		out.OverdueLogRate = defaultOverdueLogRate
	}
	return out
}
