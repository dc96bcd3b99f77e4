package core_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-frame-scheduler/core"
	"github.com/Swind/go-frame-scheduler/schedulertest"
)

func newTestScheduler(t *testing.T, cfg *core.SchedulerConfig) (*core.Scheduler, *schedulertest.ManualHost) {
	t.Helper()
	if cfg == nil {
		cfg = &core.SchedulerConfig{}
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewNoOpLogger()
	}
	host := schedulertest.NewManualHost()
	return core.NewScheduler(host, cfg), host
}

type orderLog struct {
	mu    sync.Mutex
	items []string
}

func (l *orderLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, s)
}

func (l *orderLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.items...)
}

func record(l *orderLog, name string) core.Callback {
	return core.Func(func(bool) { l.add(name) })
}

// TestScheduler_FIFOUnderEqualPriority verifies equal priority tasks run in submission order
// Given: three Immediate tasks A, B, C scheduled with zero delay
// When: the host runs to completion
// Then: they execute in order A, B, C
func TestScheduler_FIFOUnderEqualPriority(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var log orderLog

	for _, name := range []string{"A", "B", "C"} {
		_, err := s.ScheduleCallback(core.ImmediatePriority, record(&log, name))
		require.NoError(t, err)
	}

	host.RunTurns()

	assert.Equal(t, []string{"A", "B", "C"}, log.get())
	assert.Nil(t, s.FirstCallbackTask())
}

// TestScheduler_DelayedNormalVersusImmediate verifies delayed tasks wait for their start time
// Given: a Normal task with delay 100ms and an Immediate task with no delay, both at t=0
// When: time advances to 50ms and then to 150ms
// Then: only Immediate has run at 50ms; both have run at 150ms, Immediate first
func TestScheduler_DelayedNormalVersusImmediate(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var log orderLog

	_, err := s.ScheduleCallback(core.NormalPriority, record(&log, "normal"), core.WithDelay(100*time.Millisecond))
	require.NoError(t, err)
	_, err = s.ScheduleCallback(core.ImmediatePriority, record(&log, "immediate"))
	require.NoError(t, err)

	host.AdvanceTo(50 * time.Millisecond)
	assert.Equal(t, []string{"immediate"}, log.get())

	host.AdvanceTo(150 * time.Millisecond)
	assert.Equal(t, []string{"immediate", "normal"}, log.get())
}

// TestScheduler_ContinuationObservedTwice verifies a continuation re-invokes the same task
// Given: a callback that continues on its first call and finishes on its second
// When: the host runs to completion
// Then: the task is invoked exactly twice and is no longer in the ready queue
func TestScheduler_ContinuationObservedTwice(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	calls := 0

	var second core.Callback = func(bool) core.Result {
		calls++
		return core.Done()
	}
	task, err := s.ScheduleCallback(core.NormalPriority, func(bool) core.Result {
		calls++
		return core.Continue(second)
	})
	require.NoError(t, err)

	host.RunTurns()

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, task.Runs())
	assert.True(t, task.Finished())
	assert.Nil(t, s.FirstCallbackTask())

	history := s.RecentExecutions(0)
	require.Len(t, history, 2)
	assert.Equal(t, task.ID(), history[0].TaskID)
	assert.Equal(t, task.ID(), history[1].TaskID)
	assert.False(t, history[0].Continued, "newest record is the finishing call")
	assert.True(t, history[1].Continued)
}

// TestScheduler_ContinuationBeforeLowerUrgency verifies a continuation keeps its place after a yield
// Given: a Normal task that exhausts the frame and continues, and a Low task scheduled during its first call
// When: the host runs to completion
// Then: the continuation runs on a later turn but still before the Low task
func TestScheduler_ContinuationBeforeLowerUrgency(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var log orderLog
	var turns []int

	task, err := s.ScheduleCallback(core.NormalPriority, func(bool) core.Result {
		log.add("x1")
		turns = append(turns, host.TurnsExecuted())
		_, err := s.ScheduleCallback(core.LowPriority, record(&log, "y"))
		require.NoError(t, err)
		host.Step(10 * time.Millisecond)
		return core.Continue(func(bool) core.Result {
			log.add("x2")
			turns = append(turns, host.TurnsExecuted())
			return core.Done()
		})
	})
	require.NoError(t, err)

	host.RunTurns()

	assert.Equal(t, []string{"x1", "x2", "y"}, log.get())
	require.Len(t, turns, 2)
	assert.Greater(t, turns[1], turns[0], "continuation should run after yielding")
	assert.Equal(t, 2, task.Runs())
	assert.EqualValues(t, 1, s.Stats().Continuations)
}

// TestScheduler_ContinuationRunsOnLaterTurn verifies a continuation gives the host back even with budget left
// Given: a Normal task that takes no time and returns a continuation
// When: the host runs to completion
// Then: the continuation runs on the next turn
func TestScheduler_ContinuationRunsOnLaterTurn(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var turns []int

	task, err := s.ScheduleCallback(core.NormalPriority, func(bool) core.Result {
		turns = append(turns, host.TurnsExecuted())
		return core.Continue(func(bool) core.Result {
			turns = append(turns, host.TurnsExecuted())
			return core.Done()
		})
	})
	require.NoError(t, err)

	host.RunTurns()

	require.Len(t, turns, 2)
	assert.Equal(t, turns[0]+1, turns[1])
	assert.True(t, task.Finished())
	assert.EqualValues(t, 1, s.Stats().Yields)
}

// TestScheduler_ExpiredContinuationChainTakesOneTurnEach verifies an expired task cannot hold the host
// Given: an Immediate task, expired on arrival, that continues five times without taking time
// When: the host runs to completion
// Then: every invocation runs on its own consecutive turn
func TestScheduler_ExpiredContinuationChainTakesOneTurnEach(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var turns []int
	left := 5

	var cb core.Callback
	cb = func(didTimeout bool) core.Result {
		assert.True(t, didTimeout)
		turns = append(turns, host.TurnsExecuted())
		if left == 0 {
			return core.Done()
		}
		left--
		return core.Continue(cb)
	}
	task, err := s.ScheduleCallback(core.ImmediatePriority, cb)
	require.NoError(t, err)

	host.RunTurns()

	require.Len(t, turns, 6)
	for i := range turns {
		assert.Equal(t, turns[0]+i, turns[i], "invocation %d", i)
	}
	assert.Equal(t, 6, task.Runs())
	assert.EqualValues(t, 5, s.Stats().Continuations)
	assert.EqualValues(t, 5, s.Stats().Yields)
}

// TestScheduler_HugeDelaySaturates verifies start and expiration times clamp instead of wrapping
// Given: a clock at 1s and delays close to the largest Duration
// When: tasks are scheduled with those delays
// Then: the times saturate, the tasks stay delayed and nothing runs
func TestScheduler_HugeDelaySaturates(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	host.Step(time.Second)
	ran := false

	maxDelay, err := s.ScheduleCallback(core.NormalPriority, core.Func(func(bool) { ran = true }),
		core.WithDelay(time.Duration(math.MaxInt64)))
	require.NoError(t, err)
	idle, err := s.ScheduleCallback(core.IdlePriority, core.Func(func(bool) { ran = true }),
		core.WithDelay(time.Duration(math.MaxInt64)-2*time.Second))
	require.NoError(t, err)

	assert.Equal(t, time.Duration(math.MaxInt64), maxDelay.StartTime())
	assert.Equal(t, time.Duration(math.MaxInt64), maxDelay.ExpirationTime())
	assert.Equal(t, time.Duration(math.MaxInt64)-time.Second, idle.StartTime())
	assert.Equal(t, time.Duration(math.MaxInt64), idle.ExpirationTime())

	host.Advance(time.Hour)

	assert.False(t, ran)
	assert.Equal(t, 2, s.Stats().Delayed)
}

// TestScheduler_StarvationFreedom verifies an Idle task eventually runs
// Given: an Idle task followed by an endless chain of UserBlocking tasks, each taking an hour
// When: the host runs
// Then: the Idle task runs, flagged as timed out, once its expiration time passes
func TestScheduler_StarvationFreedom(t *testing.T) {
	s, host := newTestScheduler(t, nil)

	idleRan := false
	idleTimedOut := false
	_, err := s.ScheduleCallback(core.IdlePriority, core.Func(func(didTimeout bool) {
		idleRan = true
		idleTimedOut = didTimeout
	}))
	require.NoError(t, err)

	producers := 0
	var produce core.Callback
	produce = core.Func(func(bool) {
		producers++
		host.Step(time.Hour)
		if !idleRan && producers < 1000 {
			_, err := s.ScheduleCallback(core.UserBlockingPriority, produce)
			require.NoError(t, err)
		}
	})
	_, err = s.ScheduleCallback(core.UserBlockingPriority, produce)
	require.NoError(t, err)

	host.RunTurns()

	require.True(t, idleRan, "idle task starved")
	assert.True(t, idleTimedOut)
	idleTimeout := core.IdlePriorityTimeout
	assert.LessOrEqual(t, time.Duration(producers-1)*time.Hour, idleTimeout+time.Hour)
}

// TestScheduler_TimerMigration verifies delayed tasks move to the ready queue on time
// Given: a task delayed by 100ms
// When: time advances to 99ms and then to 100ms
// Then: it is still delayed at 99ms and runs at exactly 100ms
func TestScheduler_TimerMigration(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var ranAt time.Duration = -1

	_, err := s.ScheduleCallback(core.UserBlockingPriority, core.Func(func(bool) {
		ranAt = host.Now()
	}), core.WithDelay(100*time.Millisecond))
	require.NoError(t, err)

	host.Advance(99 * time.Millisecond)
	stats := s.Stats()
	assert.Equal(t, 0, stats.Ready)
	assert.Equal(t, 1, stats.Delayed)
	assert.True(t, stats.TimeoutArmed)
	assert.Equal(t, time.Duration(-1), ranAt)

	host.Advance(time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, ranAt)
	assert.True(t, s.Idle())
}

// TestScheduler_EarlierDelayReplacesWakeUp verifies only one wake-up is armed for the timer head
func TestScheduler_EarlierDelayReplacesWakeUp(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var log orderLog

	_, err := s.ScheduleCallback(core.NormalPriority, record(&log, "late"), core.WithDelay(200*time.Millisecond))
	require.NoError(t, err)
	_, err = s.ScheduleCallback(core.NormalPriority, record(&log, "early"), core.WithDelay(100*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, 1, host.PendingTimers())
	next, ok := host.NextTimer()
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, next)

	host.AdvanceTo(150 * time.Millisecond)
	assert.Equal(t, []string{"early"}, log.get())

	host.AdvanceTo(200 * time.Millisecond)
	assert.Equal(t, []string{"early", "late"}, log.get())
}

// TestScheduler_TimeoutOrdersAcrossPriorities verifies expiration decides order across levels
func TestScheduler_TimeoutOrdersAcrossPriorities(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var log orderLog

	// Scheduled in reverse urgency.
	levels := core.Priorities()
	for i := len(levels) - 1; i >= 0; i-- {
		_, err := s.ScheduleCallback(levels[i], record(&log, levels[i].String()))
		require.NoError(t, err)
	}

	host.RunTurns()

	assert.Equal(t, []string{"immediate", "user-blocking", "normal", "low", "idle"}, log.get())
}

// TestScheduler_DidTimeout verifies the didTimeout flag
func TestScheduler_DidTimeout(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	got := map[string]bool{}

	_, err := s.ScheduleCallback(core.ImmediatePriority, core.Func(func(d bool) { got["immediate"] = d }))
	require.NoError(t, err)
	_, err = s.ScheduleCallback(core.NormalPriority, core.Func(func(d bool) { got["normal"] = d }))
	require.NoError(t, err)

	host.RunTurns()

	assert.True(t, got["immediate"], "immediate tasks are expired on arrival")
	assert.False(t, got["normal"])
}

// TestScheduler_FrameBudgetYield verifies the loop yields once the frame budget is spent
// Given: three Normal tasks that each take 3ms with a 5ms frame
// When: the host runs
// Then: the first two share a turn and the third runs on the next turn
func TestScheduler_FrameBudgetYield(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	turnOf := map[string]int{}

	for _, name := range []string{"a", "b", "c"} {
		name := name
		_, err := s.ScheduleCallback(core.NormalPriority, core.Func(func(bool) {
			turnOf[name] = host.TurnsExecuted()
			host.Step(3 * time.Millisecond)
		}))
		require.NoError(t, err)
	}

	host.RunTurns()

	assert.Equal(t, turnOf["a"], turnOf["b"])
	assert.Equal(t, turnOf["b"]+1, turnOf["c"])
	assert.EqualValues(t, 1, s.Stats().Yields)
}

// TestScheduler_ExpiredTasksIgnoreFrameBudget verifies expired work is not deferred by yielding
func TestScheduler_ExpiredTasksIgnoreFrameBudget(t *testing.T) {
	s, host := newTestScheduler(t, nil)

	for range 5 {
		_, err := s.ScheduleCallback(core.ImmediatePriority, core.Func(func(bool) {
			host.Step(10 * time.Millisecond)
		}))
		require.NoError(t, err)
	}

	turns := host.RunTurns()

	assert.Equal(t, 1, turns)
	assert.EqualValues(t, 0, s.Stats().Yields)
}

// TestScheduler_ShouldYield verifies long callbacks can poll the frame budget
func TestScheduler_ShouldYield(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var before, after bool

	_, err := s.ScheduleCallback(core.NormalPriority, core.Func(func(bool) {
		before = s.ShouldYield()
		host.Step(core.DefaultFrameInterval)
		after = s.ShouldYield()
	}))
	require.NoError(t, err)

	host.RunTurns()

	assert.False(t, before)
	assert.True(t, after)
}

// TestScheduler_ReentrantScheduling verifies scheduling from a callback never nests a flush
func TestScheduler_ReentrantScheduling(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var log orderLog

	_, err := s.ScheduleCallback(core.NormalPriority, core.Func(func(bool) {
		log.add("outer-start")
		_, err := s.ScheduleCallback(core.ImmediatePriority, record(&log, "inner"))
		require.NoError(t, err)
		assert.True(t, s.Stats().Performing)
		log.add("outer-end")
	}))
	require.NoError(t, err)

	turns := host.RunTurns()

	assert.Equal(t, []string{"outer-start", "outer-end", "inner"}, log.get())
	assert.Equal(t, 1, turns)
}

// TestScheduler_CancelReadyTask verifies a cancelled ready task never runs
func TestScheduler_CancelReadyTask(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var log orderLog

	a, err := s.ScheduleCallback(core.NormalPriority, record(&log, "a"))
	require.NoError(t, err)
	_, err = s.ScheduleCallback(core.NormalPriority, record(&log, "b"))
	require.NoError(t, err)

	a.Cancel()
	a.Cancel()
	host.RunTurns()

	assert.Equal(t, []string{"b"}, log.get())
	assert.True(t, a.Cancelled())
	assert.False(t, a.Finished())
	assert.Equal(t, 0, a.Runs())
	assert.EqualValues(t, 1, s.Stats().Cancelled)
}

// TestScheduler_CancelDelayedTask verifies a cancelled timer head is discarded when the wake-up fires
func TestScheduler_CancelDelayedTask(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var log orderLog

	first, err := s.ScheduleCallback(core.NormalPriority, record(&log, "first"), core.WithDelay(10*time.Millisecond))
	require.NoError(t, err)
	_, err = s.ScheduleCallback(core.NormalPriority, record(&log, "second"), core.WithDelay(20*time.Millisecond))
	require.NoError(t, err)

	first.Cancel()

	host.Advance(10 * time.Millisecond)
	assert.Empty(t, log.get())
	assert.Equal(t, 1, s.Stats().Delayed)

	host.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"second"}, log.get())
	assert.True(t, s.Idle())
}

// TestScheduler_CancelDuringRunDropsContinuation verifies cancelling a running task ends it
func TestScheduler_CancelDuringRunDropsContinuation(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var task *core.Task
	calls := 0

	var cb core.Callback
	cb = func(bool) core.Result {
		calls++
		task.Cancel()
		return core.Continue(cb)
	}
	task, err := s.ScheduleCallback(core.NormalPriority, cb)
	require.NoError(t, err)

	host.RunTurns()

	assert.Equal(t, 1, calls)
	assert.True(t, task.Cancelled())
	assert.Nil(t, s.FirstCallbackTask())
}

// TestScheduler_CancelFinishedTaskIsNoop verifies cancelling after completion changes nothing
func TestScheduler_CancelFinishedTaskIsNoop(t *testing.T) {
	s, host := newTestScheduler(t, nil)

	task, err := s.ScheduleCallback(core.NormalPriority, core.Func(func(bool) {}))
	require.NoError(t, err)
	host.RunTurns()

	task.Cancel()

	assert.True(t, task.Finished())
	assert.False(t, task.Cancelled())
	assert.EqualValues(t, 0, s.Stats().Cancelled)
}

// TestScheduler_PanicCleanup verifies a panicking callback does not wedge the scheduler
// Given: a task that panics followed by a normal task
// When: the host runs
// Then: the panic reaches the host as a CallbackPanicError, the state is restored, and the next task runs
func TestScheduler_PanicCleanup(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var log orderLog

	bad, err := s.ScheduleCallback(core.UserBlockingPriority, core.Func(func(bool) {
		panic("boom")
	}), core.WithLabel("bad"))
	require.NoError(t, err)
	_, err = s.ScheduleCallback(core.NormalPriority, record(&log, "after"))
	require.NoError(t, err)

	host.RunTurns()

	panics := host.Panics()
	require.Len(t, panics, 1)
	var pe *core.CallbackPanicError
	require.ErrorAs(t, panics[0].(error), &pe)
	assert.Equal(t, bad.ID(), pe.TaskID)
	assert.Equal(t, "bad", pe.Label)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	assert.Equal(t, []string{"after"}, log.get())
	assert.Equal(t, core.NormalPriority, s.GetCurrentPriorityLevel())
	stats := s.Stats()
	assert.False(t, stats.Performing)
	assert.False(t, stats.LoopRunning)
	assert.False(t, bad.Finished())

	history := s.RecentExecutions(0)
	require.Len(t, history, 2)
	assert.True(t, history[1].Panicked)
}

// TestScheduler_PanicErrorUnwraps verifies errors raised by callbacks stay matchable
func TestScheduler_PanicErrorUnwraps(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	sentinel := errors.New("callback failed")

	_, err := s.ScheduleCallback(core.NormalPriority, core.Func(func(bool) { panic(sentinel) }))
	require.NoError(t, err)
	host.RunTurns()

	panics := host.Panics()
	require.Len(t, panics, 1)
	assert.ErrorIs(t, panics[0].(error), sentinel)
}

// TestScheduler_InvalidPriority verifies scheduling fails fast on levels outside the catalog
func TestScheduler_InvalidPriority(t *testing.T) {
	metrics := newRecordingMetrics()
	s, host := newTestScheduler(t, &core.SchedulerConfig{Metrics: metrics, RejectedTaskHandler: &nopRejected{}})

	for _, level := range []core.PriorityLevel{core.NoPriority, core.PriorityLevel(-1), core.PriorityLevel(42)} {
		task, err := s.ScheduleCallback(level, core.Func(func(bool) {}))
		assert.Nil(t, task)
		assert.ErrorIs(t, err, core.ErrInvalidPriority)
	}
	_, err := s.ScheduleCallback(core.NormalPriority, nil)
	assert.ErrorIs(t, err, core.ErrNilCallback)

	assert.Equal(t, 0, host.PendingTurns())
	assert.EqualValues(t, 4, s.Stats().Rejected)
	assert.Equal(t, 4, metrics.count("rejected"))
}

// TestScheduler_CurrentPriorityLevel verifies the level seen by running callbacks
func TestScheduler_CurrentPriorityLevel(t *testing.T) {
	s, host := newTestScheduler(t, nil)
	var seen []core.PriorityLevel

	for _, level := range []core.PriorityLevel{core.LowPriority, core.UserBlockingPriority} {
		_, err := s.ScheduleCallback(level, core.Func(func(bool) {
			seen = append(seen, s.GetCurrentPriorityLevel())
		}))
		require.NoError(t, err)
	}

	assert.Equal(t, core.NormalPriority, s.GetCurrentPriorityLevel())
	host.RunTurns()

	assert.Equal(t, []core.PriorityLevel{core.UserBlockingPriority, core.LowPriority}, seen)
	assert.Equal(t, core.NormalPriority, s.GetCurrentPriorityLevel())
}

// TestScheduler_RunWithPriority verifies the level is set for fn and restored afterwards
func TestScheduler_RunWithPriority(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	var inside core.PriorityLevel

	err := s.RunWithPriority(core.IdlePriority, func() {
		inside = s.GetCurrentPriorityLevel()
	})
	require.NoError(t, err)
	assert.Equal(t, core.IdlePriority, inside)
	assert.Equal(t, core.NormalPriority, s.GetCurrentPriorityLevel())

	err = s.RunWithPriority(core.NoPriority, func() { t.Fatal("must not run") })
	assert.ErrorIs(t, err, core.ErrInvalidPriority)
}

// TestScheduler_ForceFrameRate verifies frame rate overrides and their bounds
func TestScheduler_ForceFrameRate(t *testing.T) {
	tests := map[string]struct {
		fps     int
		want    time.Duration
		wantErr bool
	}{
		"sixty":    {fps: 60, want: time.Second / 60},
		"max":      {fps: 125, want: 8 * time.Millisecond},
		"reset":    {fps: 0, want: core.DefaultFrameInterval},
		"negative": {fps: -1, wantErr: true},
		"too fast": {fps: 126, wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, _ := newTestScheduler(t, nil)
			err := s.ForceFrameRate(tt.fps)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidFrameRate)
				assert.Equal(t, core.DefaultFrameInterval, s.FrameInterval())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.FrameInterval())
		})
	}
}

// TestScheduler_Shutdown verifies pending work is cancelled and new work refused
func TestScheduler_Shutdown(t *testing.T) {
	s, host := newTestScheduler(t, &core.SchedulerConfig{RejectedTaskHandler: &nopRejected{}})
	var log orderLog

	ready, err := s.ScheduleCallback(core.NormalPriority, record(&log, "ready"))
	require.NoError(t, err)
	delayed, err := s.ScheduleCallback(core.NormalPriority, record(&log, "delayed"), core.WithDelay(time.Second))
	require.NoError(t, err)

	s.Shutdown()
	s.Shutdown()
	host.Advance(2 * time.Second)

	assert.Empty(t, log.get())
	assert.True(t, ready.Cancelled())
	assert.True(t, delayed.Cancelled())
	assert.True(t, s.IsClosed())
	assert.Equal(t, 0, host.PendingTimers())

	_, err = s.ScheduleCallback(core.NormalPriority, record(&log, "late"))
	assert.ErrorIs(t, err, core.ErrSchedulerClosed)
}

// TestScheduler_Metrics verifies metric hooks are driven by the work loop
func TestScheduler_Metrics(t *testing.T) {
	metrics := newRecordingMetrics()
	s, host := newTestScheduler(t, &core.SchedulerConfig{Name: "ui", Metrics: metrics})

	_, err := s.ScheduleCallback(core.ImmediatePriority, core.Func(func(bool) {}))
	require.NoError(t, err)
	_, err = s.ScheduleCallback(core.NormalPriority, core.Func(func(bool) { host.Step(6 * time.Millisecond) }))
	require.NoError(t, err)
	_, err = s.ScheduleCallback(core.NormalPriority, core.Func(func(bool) {}))
	require.NoError(t, err)

	host.RunTurns()

	assert.Equal(t, 3, metrics.count("duration"))
	assert.Equal(t, 1, metrics.count("timeout"))
	assert.Equal(t, 1, metrics.count("yield"))
	assert.Equal(t, 0, metrics.lastDepth("ready"))
	assert.Equal(t, []string{"ui"}, metrics.names())
}

// TestScheduler_ConcurrentScheduling verifies tasks scheduled from other goroutines are all run
func TestScheduler_ConcurrentScheduling(t *testing.T) {
	s, host := newTestScheduler(t, nil)

	const goroutines, perGoroutine = 8, 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				_, err := s.ScheduleCallback(core.NormalPriority, core.Func(func(bool) {
					mu.Lock()
					ran++
					mu.Unlock()
				}))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	host.RunTurns()

	assert.Equal(t, goroutines*perGoroutine, ran)
	assert.EqualValues(t, goroutines*perGoroutine, s.Stats().Completed)
}

// =============================================================================
// Test doubles
// =============================================================================

type nopRejected struct{}

func (nopRejected) HandleRejectedTask(string, string) {}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
	depths map[string]int
	seen   map[string]bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: map[string]int{}, depths: map[string]int{}, seen: map[string]bool{}}
}

func (m *recordingMetrics) inc(name, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[kind]++
	m.seen[name] = true
}

func (m *recordingMetrics) RecordTaskDuration(name string, _ core.PriorityLevel, _ time.Duration) {
	m.inc(name, "duration")
}
func (m *recordingMetrics) RecordTaskPanic(name string, _ any) { m.inc(name, "panic") }
func (m *recordingMetrics) RecordQueueDepth(name string, queue string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths[queue] = depth
	m.seen[name] = true
}
func (m *recordingMetrics) RecordTaskRejected(name string, _ string) { m.inc(name, "rejected") }
func (m *recordingMetrics) RecordYield(name string)                  { m.inc(name, "yield") }
func (m *recordingMetrics) RecordTaskTimeout(name string, _ core.PriorityLevel) {
	m.inc(name, "timeout")
}

func (m *recordingMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind]
}

func (m *recordingMetrics) lastDepth(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depths[queue]
}

func (m *recordingMetrics) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.seen))
	for n := range m.seen {
		out = append(out, n)
	}
	return out
}
