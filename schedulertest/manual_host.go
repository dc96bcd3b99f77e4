// Package schedulertest provides a deterministic core.Host for tests and
// simulations. Time only moves when the test moves it.
package schedulertest

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/noodlebox/clock/steppedtime"

	"github.com/Swind/go-frame-scheduler/core"
)

// ManualHost is a core.Host driven by hand.
//
// PostTurn queues turns that run only when RunTurns, RunTurn or Advance is
// called. AfterFunc timers fire only from Advance. Step moves the clock
// without running anything, which is how a callback simulates taking time.
type ManualHost struct {
	clock *steppedtime.Clock

	mu          sync.Mutex
	turns       []func()
	timers      *core.MinHeap[*manualTimer]
	nextTimerID uint64
	executed    int
	panics      []any

	// PanicHandler, when set, receives panics recovered from turns. When nil
	// panics are recorded and available through Panics.
	PanicHandler core.PanicHandler
}

type manualTimer struct {
	id      uint64
	when    time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) SortIndex() time.Duration { return t.when }
func (t *manualTimer) ID() uint64               { return t.id }

// NewManualHost returns a host whose clock starts at zero.
func NewManualHost() *ManualHost {
	return &ManualHost{
		clock:  steppedtime.NewClock(),
		timers: core.NewMinHeap[*manualTimer](),
	}
}

// Now returns the virtual time.
func (h *ManualHost) Now() time.Duration {
	return time.Duration(h.clock.Now())
}

// PostTurn queues fn.
func (h *ManualHost) PostTurn(fn func()) {
	h.mu.Lock()
	h.turns = append(h.turns, fn)
	h.mu.Unlock()
}

// AfterFunc registers fn to be posted as a turn once the virtual clock
// reaches now+d.
func (h *ManualHost) AfterFunc(d time.Duration, fn func()) func() bool {
	if d < 0 {
		d = 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextTimerID++
	t := &manualTimer{id: h.nextTimerID, when: h.Now() + d, fn: fn}
	h.timers.Push(t)
	return func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

// Step moves the clock forward by d without running turns or timers.
func (h *ManualHost) Step(d time.Duration) {
	if d > 0 {
		h.clock.Step(d)
	}
}

// RunTurn runs the oldest queued turn. It reports false when none is queued.
func (h *ManualHost) RunTurn() bool {
	h.mu.Lock()
	if len(h.turns) == 0 {
		h.mu.Unlock()
		return false
	}
	fn := h.turns[0]
	h.turns[0] = nil
	h.turns = h.turns[1:]
	h.executed++
	h.mu.Unlock()

	h.run(fn)
	return true
}

// RunTurns runs turns until the queue is empty, including turns posted while
// draining. It returns how many turns ran.
func (h *ManualHost) RunTurns() int {
	n := 0
	for h.RunTurn() {
		n++
	}
	return n
}

// Advance moves the clock forward by d. Each timer that falls due fires at its
// own due time, in order, and the turns it causes are drained before the next
// timer is considered.
func (h *ManualHost) Advance(d time.Duration) {
	target := h.Now() + d
	h.RunTurns()
	for {
		t, ok := h.popDue(target)
		if !ok {
			break
		}
		if now := h.Now(); t.when > now {
			h.clock.Step(t.when - now)
		}
		h.PostTurn(t.fn)
		h.RunTurns()
	}
	if now := h.Now(); target > now {
		h.clock.Step(target - now)
	}
	h.RunTurns()
}

// AdvanceTo moves the clock to the absolute virtual time at.
func (h *ManualHost) AdvanceTo(at time.Duration) {
	if now := h.Now(); at > now {
		h.Advance(at - now)
		return
	}
	h.RunTurns()
}

func (h *ManualHost) popDue(target time.Duration) (*manualTimer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		t, ok := h.timers.Peek()
		if !ok {
			return nil, false
		}
		if t.stopped {
			h.timers.Pop()
			continue
		}
		if t.when > target {
			return nil, false
		}
		h.timers.Pop()
		t.fired = true
		return t, true
	}
}

// PendingTurns returns the number of queued turns.
func (h *ManualHost) PendingTurns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// PendingTimers returns the number of armed timers.
func (h *ManualHost) PendingTimers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	h.timers.Each(func(t *manualTimer) {
		if !t.stopped {
			n++
		}
	})
	return n
}

// NextTimer returns the due time of the earliest armed timer.
func (h *ManualHost) NextTimer() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var (
		best  time.Duration
		found bool
	)
	h.timers.Each(func(t *manualTimer) {
		if !t.stopped && (!found || t.when < best) {
			best, found = t.when, true
		}
	})
	return best, found
}

// TurnsExecuted returns how many turns have run.
func (h *ManualHost) TurnsExecuted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.executed
}

// Panics returns the values recovered from turns when no PanicHandler is set.
func (h *ManualHost) Panics() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]any, len(h.panics))
	copy(out, h.panics)
	return out
}

func (h *ManualHost) run(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			if h.PanicHandler != nil {
				h.PanicHandler.HandlePanic("manual", rec, debug.Stack())
				return
			}
			h.mu.Lock()
			h.panics = append(h.panics, rec)
			h.mu.Unlock()
		}
	}()
	fn()
}
