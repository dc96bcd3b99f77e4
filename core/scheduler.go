package core

import (
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxFrameRate = 125

// Scheduler runs prioritized callbacks cooperatively on the host's turns.
//
// Ready tasks are ordered by expiration time, then creation order. Delayed
// tasks wait in a timer queue ordered by start time and move to the ready
// queue once their start time passes. A flush runs callbacks until the ready
// queue is empty or the frame budget is spent while the head task has not
// expired; it then yields and continues on a later turn. A callback that
// returns a continuation also ends the flush, so the continuation runs on a
// later turn even when the task has expired.
//
// ScheduleCallback, Task.Cancel and the query methods are safe to call from
// any goroutine, including from inside a running callback.
type Scheduler struct {
	mu sync.Mutex

	host     Host
	name     string
	logger   Logger
	metrics  Metrics
	rejected RejectedTaskHandler
	history  *executionHistory
	overdue  *rate.Limiter

	readyQueue    *MinHeap[*Task]
	timerQueue    *MinHeap[*Task]
	taskIDCounter uint64

	currentTask          *Task
	currentPriorityLevel PriorityLevel

	// Set during a flush; scheduling from a callback must not start another.
	isPerformingWork bool

	isHostCallbackScheduled bool
	isMessageLoopRunning    bool
	isHostTimeoutScheduled  bool

	timeoutStop func() bool
	timeoutGen  uint64

	frameInterval        time.Duration
	defaultFrameInterval time.Duration
	sliceStart           time.Duration

	closed bool

	scheduled     uint64
	completed     uint64
	cancelled     uint64
	continuations uint64
	yields        uint64
	rejectedCount uint64
	lastTaskLabel string
	lastTaskAt    time.Duration
}

// NewScheduler creates a scheduler that runs its work on host.
// A nil cfg uses DefaultSchedulerConfig.
func NewScheduler(host Host, cfg *SchedulerConfig) *Scheduler {
	if host == nil {
		panic("scheduler: nil host")
	}
	c := cfg.withDefaults()

	s := &Scheduler{
		host:                 host,
		name:                 c.Name,
		logger:               c.Logger,
		metrics:              c.Metrics,
		rejected:             c.RejectedTaskHandler,
		history:              newExecutionHistory(c.HistoryCapacity),
		readyQueue:           NewMinHeap[*Task](),
		timerQueue:           NewMinHeap[*Task](),
		currentPriorityLevel: NormalPriority,
		frameInterval:        c.FrameInterval,
		defaultFrameInterval: c.FrameInterval,
	}
	if c.OverdueLogRate > 0 {
		s.overdue = rate.NewLimiter(rate.Limit(c.OverdueLogRate), 1)
	}
	return s
}

// Name returns the name used in logs and metrics.
func (s *Scheduler) Name() string { return s.name }

// Now returns the current scheduler time.
func (s *Scheduler) Now() time.Duration { return s.host.Now() }

// =============================================================================
// Scheduling
// =============================================================================

// ScheduleCallback creates a task for callback at priority and enqueues it.
//
// Without WithDelay the task is ready immediately and a flush is requested
// unless one is already scheduled or running. With a positive delay the task
// waits in the timer queue and the wake-up is armed for it when it is the
// earliest delayed task and nothing is ready.
func (s *Scheduler) ScheduleCallback(priority PriorityLevel, callback Callback, opts ...ScheduleOption) (*Task, error) {
	var o scheduleOptions
	for _, opt := range opts {
		opt(&o)
	}

	timeout, err := TimeoutFor(priority)
	if err != nil {
		s.reject(o.label, "invalid priority")
		return nil, err
	}
	if callback == nil {
		s.reject(o.label, "nil callback")
		return nil, ErrNilCallback
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.reject(o.label, "scheduler closed")
		return nil, ErrSchedulerClosed
	}

	currentTime := s.host.Now()
	startTime := addSaturating(currentTime, o.delay)

	s.taskIDCounter++
	task := &Task{
		id:             s.taskIDCounter,
		label:          o.label,
		callback:       callback,
		priorityLevel:  priority,
		startTime:      startTime,
		expirationTime: addSaturating(startTime, timeout),
		scheduler:      s,
	}
	s.scheduled++

	if startTime > currentTime {
		task.sortIndex = startTime
		s.timerQueue.Push(task)
		if s.readyQueue.IsEmpty() {
			if head, _ := s.timerQueue.Peek(); head == task {
				// Earliest delayed task and nothing ready: it owns the wake-up.
				s.armTimeoutLocked(startTime - currentTime)
			}
		}
	} else {
		task.sortIndex = task.expirationTime
		s.readyQueue.Push(task)
		// A running flush picks the task up before it yields.
		if !s.isHostCallbackScheduled && !s.isPerformingWork {
			s.isHostCallbackScheduled = true
			s.requestHostCallbackLocked()
		}
	}
	s.recordQueueDepthsLocked()
	s.mu.Unlock()

	return task, nil
}

// addSaturating returns a+b clamped to the Duration range.
func addSaturating(a, b time.Duration) time.Duration {
	sum := a + b
	switch {
	case b > 0 && sum < a:
		return math.MaxInt64
	case b < 0 && sum > a:
		return math.MinInt64
	}
	return sum
}

func (s *Scheduler) reject(label, reason string) {
	s.mu.Lock()
	s.rejectedCount++
	s.mu.Unlock()

	s.metrics.RecordTaskRejected(s.name, reason)
	name := s.name
	if label != "" {
		name = s.name + "/" + label
	}
	s.rejected.HandleRejectedTask(name, reason)
}

func (s *Scheduler) cancelTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.finished || t.cancelled {
		return
	}
	// The entry stays in its heap and is discarded when it reaches the head.
	t.callback = nil
	t.cancelled = true
	s.cancelled++
}

// =============================================================================
// Timers
// =============================================================================

// advanceTimersLocked moves every due delayed task to the ready queue and
// discards cancelled entries found at the timer head.
func (s *Scheduler) advanceTimersLocked(currentTime time.Duration) {
	for {
		timer, ok := s.timerQueue.Peek()
		if !ok {
			return
		}
		switch {
		case timer.callback == nil:
			s.timerQueue.Pop()
		case timer.startTime <= currentTime:
			s.timerQueue.Pop()
			timer.sortIndex = timer.expirationTime
			s.readyQueue.Push(timer)
		default:
			return
		}
	}
}

func (s *Scheduler) handleTimeout(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.timeoutGen || !s.isHostTimeoutScheduled {
		// Superseded or cancelled wake-up.
		return
	}
	s.isHostTimeoutScheduled = false
	s.timeoutStop = nil

	currentTime := s.host.Now()
	s.advanceTimersLocked(currentTime)

	if s.isHostCallbackScheduled || s.closed {
		return
	}
	if !s.readyQueue.IsEmpty() {
		s.isHostCallbackScheduled = true
		s.requestHostCallbackLocked()
		return
	}
	if first, ok := s.timerQueue.Peek(); ok {
		s.armTimeoutLocked(first.startTime - currentTime)
	}
}

// armTimeoutLocked replaces any armed wake-up with one firing after d.
func (s *Scheduler) armTimeoutLocked(d time.Duration) {
	s.cancelTimeoutLocked()
	s.timeoutGen++
	gen := s.timeoutGen
	s.isHostTimeoutScheduled = true
	s.timeoutStop = s.host.AfterFunc(d, func() { s.handleTimeout(gen) })
}

func (s *Scheduler) cancelTimeoutLocked() {
	if s.timeoutStop != nil {
		s.timeoutStop()
		s.timeoutStop = nil
	}
	if s.isHostTimeoutScheduled {
		s.timeoutGen++
	}
	s.isHostTimeoutScheduled = false
}

// =============================================================================
// Host callback and the work loop
// =============================================================================

func (s *Scheduler) requestHostCallbackLocked() {
	if !s.isMessageLoopRunning {
		s.isMessageLoopRunning = true
		s.host.PostTurn(s.performWorkUntilDeadline)
	}
}

// performWorkUntilDeadline is one host turn: it flushes for at most one frame
// and posts itself again while work remains. The repost decision happens
// under the same lock hold as the end of the flush.
func (s *Scheduler) performWorkUntilDeadline() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// If a callback panics, hasMoreWork stays true and the next turn picks
	// up where this one stopped.
	hasMoreWork := true
	defer func() {
		if hasMoreWork {
			s.host.PostTurn(s.performWorkUntilDeadline)
		} else {
			s.isMessageLoopRunning = false
		}
	}()

	currentTime := s.host.Now()
	s.sliceStart = currentTime
	hasMoreWork = s.flushWorkLocked(true, currentTime)
	if hasMoreWork {
		s.yields++
		s.metrics.RecordYield(s.name)
	}
}

func (s *Scheduler) flushWorkLocked(hasTimeRemaining bool, initialTime time.Duration) bool {
	s.isHostCallbackScheduled = false
	if s.isHostTimeoutScheduled {
		s.cancelTimeoutLocked()
	}

	s.isPerformingWork = true
	previousPriorityLevel := s.currentPriorityLevel
	defer func() {
		s.currentTask = nil
		s.currentPriorityLevel = previousPriorityLevel
		s.isPerformingWork = false
		s.recordQueueDepthsLocked()
	}()

	if s.closed {
		return false
	}
	return s.workLoopLocked(hasTimeRemaining, initialTime)
}

func (s *Scheduler) workLoopLocked(hasTimeRemaining bool, initialTime time.Duration) bool {
	currentTime := initialTime
	s.advanceTimersLocked(currentTime)
	s.currentTask, _ = s.readyQueue.Peek()

	for s.currentTask != nil {
		task := s.currentTask
		if task.expirationTime > currentTime && (!hasTimeRemaining || s.shouldYieldToHostLocked()) {
			// Out of budget and the head has not expired.
			break
		}

		if task.callback == nil {
			s.readyQueue.Pop()
		} else {
			callback := task.callback
			task.callback = nil
			s.currentPriorityLevel = task.priorityLevel
			didUserCallbackTimeout := task.expirationTime <= currentTime

			next := s.invokeLocked(task, callback, didUserCallbackTimeout, currentTime)
			currentTime = s.host.Now()

			if next != nil && !task.cancelled {
				// The task keeps its id, expiration and place in the queue.
				// The continuation always runs on a later slice.
				task.callback = next
				s.continuations++
				s.advanceTimersLocked(currentTime)
				return true
			}
			if !task.cancelled {
				task.finished = true
				s.completed++
			}
			if head, _ := s.readyQueue.Peek(); head == task {
				s.readyQueue.Pop()
			}
			s.advanceTimersLocked(currentTime)
		}
		s.currentTask, _ = s.readyQueue.Peek()
	}

	if s.currentTask != nil {
		return true
	}
	if first, ok := s.timerQueue.Peek(); ok {
		s.armTimeoutLocked(first.startTime - currentTime)
	}
	return false
}

// invokeLocked runs callback with the lock released and returns with it held,
// also when the callback panics. A panic is recorded and re-raised as a
// *CallbackPanicError.
func (s *Scheduler) invokeLocked(task *Task, callback Callback, didTimeout bool, startedAt time.Duration) Callback {
	task.runs++
	s.lastTaskLabel = task.label
	s.lastTaskAt = startedAt
	if didTimeout {
		s.metrics.RecordTaskTimeout(s.name, task.priorityLevel)
		s.warnOverdueLocked(task, startedAt)
	}

	record := TaskExecutionRecord{
		TaskID:     task.id,
		Label:      task.label,
		Scheduler:  s.name,
		Priority:   task.priorityLevel,
		StartedAt:  startedAt,
		DidTimeout: didTimeout,
	}

	s.mu.Unlock()

	returned := false
	defer func() {
		if returned {
			return
		}
		rec := recover()
		record.FinishedAt = s.host.Now()
		record.Duration = record.FinishedAt - startedAt
		record.Panicked = true
		s.history.Add(record)
		s.metrics.RecordTaskDuration(s.name, record.Priority, record.Duration)
		if rec == nil {
			// runtime.Goexit
			s.mu.Lock()
			return
		}
		s.metrics.RecordTaskPanic(s.name, rec)
		stack := debug.Stack()
		s.logger.Error("task callback panicked",
			F("scheduler", s.name),
			F("task_id", record.TaskID),
			F("task", record.Label),
			F("priority", record.Priority),
			F("panic", fmt.Sprint(rec)),
		)
		s.mu.Lock()
		panic(&CallbackPanicError{
			TaskID:   record.TaskID,
			Label:    record.Label,
			Priority: record.Priority,
			Value:    rec,
			Stack:    stack,
		})
	}()

	result := callback(didTimeout)
	returned = true

	record.FinishedAt = s.host.Now()
	record.Duration = record.FinishedAt - startedAt
	record.Continued = !result.IsDone()
	s.history.Add(record)
	s.metrics.RecordTaskDuration(s.name, record.Priority, record.Duration)

	s.mu.Lock()
	return result.Next()
}

func (s *Scheduler) warnOverdueLocked(task *Task, currentTime time.Duration) {
	if s.overdue == nil || !s.overdue.Allow() {
		return
	}
	s.logger.Warn("task overdue",
		F("scheduler", s.name),
		F("task_id", task.id),
		F("task", task.label),
		F("priority", task.priorityLevel),
		F("late_by", currentTime-task.expirationTime),
	)
}

func (s *Scheduler) shouldYieldToHostLocked() bool {
	timeElapsed := s.host.Now() - s.sliceStart
	return timeElapsed >= s.frameInterval
}

func (s *Scheduler) recordQueueDepthsLocked() {
	s.metrics.RecordQueueDepth(s.name, "ready", s.readyQueue.Len())
	s.metrics.RecordQueueDepth(s.name, "timer", s.timerQueue.Len())
}

// =============================================================================
// Queries and controls
// =============================================================================

// ShouldYield reports whether the current slice has used up its frame
// budget. Long running callbacks poll it and return Continue when it is true.
func (s *Scheduler) ShouldYield() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldYieldToHostLocked()
}

// GetCurrentPriorityLevel returns the level of the running callback, or the
// level set by RunWithPriority. Outside of both it is NormalPriority.
func (s *Scheduler) GetCurrentPriorityLevel() PriorityLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPriorityLevel
}

// RunWithPriority runs fn with the current priority level set to level and
// restores the previous level afterwards. It is meant for the host goroutine.
func (s *Scheduler) RunWithPriority(level PriorityLevel, fn func()) error {
	if !level.IsValid() {
		return fmt.Errorf("run with priority: %w: %d", ErrInvalidPriority, int(level))
	}

	s.mu.Lock()
	previous := s.currentPriorityLevel
	s.currentPriorityLevel = level
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.currentPriorityLevel = previous
		s.mu.Unlock()
	}()

	fn()
	return nil
}

// ForceFrameRate sets the frame budget to one second divided by fps.
// Zero restores the configured budget.
func (s *Scheduler) ForceFrameRate(fps int) error {
	if fps < 0 || fps > maxFrameRate {
		return fmt.Errorf("%w: got %d", ErrInvalidFrameRate, fps)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if fps > 0 {
		s.frameInterval = time.Second / time.Duration(fps)
	} else {
		s.frameInterval = s.defaultFrameInterval
	}
	return nil
}

// SetFrameInterval replaces the frame budget. Non-positive values are ignored.
func (s *Scheduler) SetFrameInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameInterval = d
}

// FrameInterval returns the current frame budget.
func (s *Scheduler) FrameInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameInterval
}

// FirstCallbackTask returns the head of the ready queue, which may be a
// cancelled task that has not been discarded yet.
func (s *Scheduler) FirstCallbackTask() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _ := s.readyQueue.Peek()
	return t
}

// Stats returns a snapshot of the scheduler state.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		Name:            s.name,
		Ready:           s.readyQueue.Len(),
		Delayed:         s.timerQueue.Len(),
		Performing:      s.isPerformingWork,
		LoopRunning:     s.isMessageLoopRunning,
		TimeoutArmed:    s.isHostTimeoutScheduled,
		CurrentPriority: s.currentPriorityLevel,
		FrameInterval:   s.frameInterval,
		Scheduled:       s.scheduled,
		Completed:       s.completed,
		Cancelled:       s.cancelled,
		Continuations:   s.continuations,
		Yields:          s.yields,
		Rejected:        s.rejectedCount,
		Closed:          s.closed,
		LastTaskLabel:   s.lastTaskLabel,
		LastTaskAt:      s.lastTaskAt,
	}
}

// RecentExecutions returns up to n callback invocations, newest first.
// n <= 0 returns the whole history.
func (s *Scheduler) RecentExecutions(n int) []TaskExecutionRecord {
	return s.history.Recent(n)
}

// Idle reports whether no task is queued, delayed or running.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyQueue.IsEmpty() && s.timerQueue.IsEmpty() && !s.isPerformingWork
}

// Shutdown stops accepting tasks, cancels every pending task and disarms
// the wake-up. A callback that is running finishes its current invocation
// but any continuation it returns is dropped.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cancelTimeoutLocked()

	drop := func(t *Task) {
		if !t.finished && !t.cancelled {
			t.callback = nil
			t.cancelled = true
			s.cancelled++
		}
	}
	s.readyQueue.Each(drop)
	s.timerQueue.Each(drop)
	s.readyQueue.Clear()
	s.timerQueue.Clear()
	s.recordQueueDepthsLocked()

	s.logger.Debug("scheduler shut down", F("scheduler", s.name))
}

// IsClosed reports whether Shutdown has been called.
func (s *Scheduler) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
