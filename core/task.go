package core

import (
	"time"
)

// Callback is the unit of work. didTimeout reports that the task's
// expiration time had already passed when it was invoked.
type Callback func(didTimeout bool) Result

// =============================================================================
// Result: Done or Continue(next)
// =============================================================================

// Result is what a Callback returns: either Done, or Continue with the
// callback to run in a later slice.
type Result struct {
	next Callback
}

// Done reports that the task has finished.
func Done() Result { return Result{} }

// Continue reports that the task has more work; next runs in a later slice
// with the same task identity and priority. Continue(nil) is Done.
func Continue(next Callback) Result { return Result{next: next} }

// IsDone reports whether the result carries no continuation.
func (r Result) IsDone() bool { return r.next == nil }

// Next returns the continuation, or nil.
func (r Result) Next() Callback { return r.next }

// Func adapts a plain function that always completes in one call.
func Func(fn func(didTimeout bool)) Callback {
	return func(didTimeout bool) Result {
		fn(didTimeout)
		return Done()
	}
}

// =============================================================================
// Task
// =============================================================================

// Task is a handle to scheduled work. Its timing fields are fixed at
// creation; the callback slot changes as the task runs, continues or is
// cancelled. All mutation goes through the owning Scheduler.
type Task struct {
	id             uint64
	label          string
	callback       Callback
	priorityLevel  PriorityLevel
	startTime      time.Duration
	expirationTime time.Duration
	sortIndex      time.Duration

	runs      int
	cancelled bool
	finished  bool
	scheduler *Scheduler
}

// ID is the monotonically increasing creation id.
func (t *Task) ID() uint64 { return t.id }

// SortIndex is the heap key: start time while delayed, expiration time
// while ready.
func (t *Task) SortIndex() time.Duration { return t.sortIndex }

// Label is the name given with WithLabel, empty if none.
func (t *Task) Label() string { return t.label }

// PriorityLevel is the level the task was scheduled at.
func (t *Task) PriorityLevel() PriorityLevel { return t.priorityLevel }

// StartTime is the scheduler time at which the task becomes eligible.
func (t *Task) StartTime() time.Duration { return t.startTime }

// ExpirationTime is StartTime plus the timeout of the task's level, clamped
// to the largest Duration.
func (t *Task) ExpirationTime() time.Duration { return t.expirationTime }

// Cancel clears the callback slot. The entry stays in its queue until the
// scheduler reaches it and discards it. Cancelling a task from inside its own
// callback drops any continuation the callback returns. Cancelling a finished
// task is a no-op.
func (t *Task) Cancel() {
	if t.scheduler == nil {
		t.callback = nil
		t.cancelled = true
		return
	}
	t.scheduler.cancelTask(t)
}

// Cancelled reports whether Cancel was called before the task finished.
func (t *Task) Cancelled() bool {
	if t.scheduler == nil {
		return t.cancelled
	}
	t.scheduler.mu.Lock()
	defer t.scheduler.mu.Unlock()
	return t.cancelled
}

// Finished reports whether the task's last callback returned Done.
func (t *Task) Finished() bool {
	if t.scheduler == nil {
		return t.finished
	}
	t.scheduler.mu.Lock()
	defer t.scheduler.mu.Unlock()
	return t.finished
}

// Runs returns how many times the task's callbacks have been invoked.
func (t *Task) Runs() int {
	if t.scheduler == nil {
		return t.runs
	}
	t.scheduler.mu.Lock()
	defer t.scheduler.mu.Unlock()
	return t.runs
}

// =============================================================================
// Schedule options
// =============================================================================

type scheduleOptions struct {
	delay time.Duration
	label string
}

// ScheduleOption configures a single ScheduleCallback call.
type ScheduleOption func(*scheduleOptions)

// WithDelay postpones eligibility by d. Non-positive delays mean "now".
func WithDelay(d time.Duration) ScheduleOption {
	return func(o *scheduleOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithLabel names the task in logs, metrics and execution history.
func WithLabel(label string) ScheduleOption {
	return func(o *scheduleOptions) {
		o.label = label
	}
}
