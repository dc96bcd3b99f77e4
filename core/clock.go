package core

import (
	"time"

	"github.com/noodlebox/clock/mocktime"
	"github.com/noodlebox/clock/realtime"
)

// Clock is the time source a LoopHost reads and arms wake-ups on.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f on its own goroutine after d. The returned stop
	// function reports whether it prevented the call.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// RealClock follows the wall clock.
type RealClock struct {
	c realtime.Clock
}

// NewRealClock returns a clock backed by the process's monotonic time.
func NewRealClock() *RealClock {
	return &RealClock{c: realtime.NewClock()}
}

func (c *RealClock) Now() time.Time { return c.c.Now() }

func (c *RealClock) AfterFunc(d time.Duration, f func()) func() bool {
	return c.c.AfterFunc(d, f).Stop
}

// ScaledClock runs at a multiple of real time: 2 is twice as fast, 0.5 is
// slow motion. Frame budgets and timeouts are measured on the scaled time.
type ScaledClock struct {
	c mocktime.Clock
}

// NewScaledClock starts a clock at the current wall time running at scale.
func NewScaledClock(scale float64) *ScaledClock {
	c := mocktime.NewClock(time.Now())
	if scale > 0 {
		c.SetScale(scale)
	}
	c.Start()
	return &ScaledClock{c: c}
}

func (c *ScaledClock) Now() time.Time { return c.c.Now() }

func (c *ScaledClock) AfterFunc(d time.Duration, f func()) func() bool {
	return c.c.AfterFunc(d, f).Stop
}

// SetScale changes the speed of the clock without jumping its time.
func (c *ScaledClock) SetScale(scale float64) {
	if scale > 0 {
		c.c.SetScale(scale)
	}
}

func (c *ScaledClock) Scale() float64 { return c.c.Scale() }

// Stop freezes the clock. Pending wake-ups stay armed until Start.
func (c *ScaledClock) Stop() { c.c.Stop() }

// Start resumes a frozen clock.
func (c *ScaledClock) Start() { c.c.Start() }
