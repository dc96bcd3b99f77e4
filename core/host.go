package core

import "time"

// Host is the environment a Scheduler runs in. It owns the single logical
// thread that executes turns.
type Host interface {
	// Now returns the scheduler time: a monotonic offset from the host's
	// origin.
	Now() time.Duration

	// PostTurn queues fn to run on a later turn of the host thread. Turns
	// run in FIFO order and never overlap. PostTurn never blocks.
	PostTurn(fn func())

	// AfterFunc arranges for fn to run on a host turn once d has elapsed.
	// The returned stop function reports whether it prevented the call.
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}
