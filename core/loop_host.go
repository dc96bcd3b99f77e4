package core

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// LoopHostConfig holds configuration options for LoopHost.
type LoopHostConfig struct {
	// Name labels logs and panic reports. Defaults to "loop".
	Name string

	// Logger defaults to a console DefaultLogger.
	Logger Logger

	// PanicHandler receives values recovered from panicking turns.
	// Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// RejectedTaskHandler is told about turns posted after Shutdown.
	// Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler
}

// LoopHost binds a dedicated goroutine to execute turns sequentially.
// It is the production Host: every scheduler callback runs on that goroutine.
//
// Turns are kept in an unbounded FIFO so that the loop goroutine can post to
// itself without blocking.
type LoopHost struct {
	clock  Clock
	origin time.Time

	// Turn queue
	queueMu sync.Mutex
	queue   []func()
	wake    chan struct{}

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc

	// For graceful shutdown
	stopped      chan struct{}
	once         sync.Once
	closed       atomic.Bool
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	name            string
	logger          Logger
	panicHandler    PanicHandler
	rejectedHandler RejectedTaskHandler

	turns  atomic.Uint64
	panics atomic.Uint64
	timers atomic.Int64
}

// NewLoopHost creates and starts a new LoopHost reading time from clock.
// A nil clock means NewRealClock. It immediately spawns the loop goroutine.
func NewLoopHost(clock Clock, cfg *LoopHostConfig) *LoopHost {
	if clock == nil {
		clock = NewRealClock()
	}
	c := LoopHostConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Name == "" {
		c.Name = "loop"
	}
	if c.Logger == nil {
		c.Logger = NewDefaultLogger()
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &DefaultPanicHandler{Logger: c.Logger}
	}
	if c.RejectedTaskHandler == nil {
		c.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: c.Logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &LoopHost{
		clock:           clock,
		origin:          clock.Now(),
		wake:            make(chan struct{}, 1),
		ctx:             ctx,
		cancel:          cancel,
		stopped:         make(chan struct{}),
		shutdownChan:    make(chan struct{}),
		name:            c.Name,
		logger:          c.Logger,
		panicHandler:    c.PanicHandler,
		rejectedHandler: c.RejectedTaskHandler,
	}

	go h.runLoop()

	return h
}

// Name returns the name of the host
func (h *LoopHost) Name() string { return h.name }

// Now returns the time elapsed on the host clock since the host was created.
func (h *LoopHost) Now() time.Duration {
	return h.clock.Now().Sub(h.origin)
}

// PostTurn queues fn behind every turn already queued.
// Turns posted after Shutdown are dropped and reported as rejected.
func (h *LoopHost) PostTurn(fn func()) {
	if h.closed.Load() {
		h.rejectedHandler.HandleRejectedTask(h.name, "host closed")
		return
	}

	h.queueMu.Lock()
	h.queue = append(h.queue, fn)
	h.queueMu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// AfterFunc posts fn as a turn once d has elapsed on the host clock.
func (h *LoopHost) AfterFunc(d time.Duration, fn func()) func() bool {
	if d < 0 {
		d = 0
	}
	h.timers.Add(1)
	var fired atomic.Bool
	stop := h.clock.AfterFunc(d, func() {
		if fired.CompareAndSwap(false, true) {
			h.timers.Add(-1)
		}
		h.PostTurn(fn)
	})
	return func() bool {
		ok := stop()
		if ok && fired.CompareAndSwap(false, true) {
			h.timers.Add(-1)
		}
		return ok
	}
}

// Shutdown marks the host as closed and signals shutdown waiters.
// Unlike Stop(), this method does NOT terminate the loop, so it can be called
// from a turn.
//
// After calling Shutdown():
// - WaitShutdown() will return
// - IsClosed() will return true
// - New turns posted will be rejected
// - Already queued turns will still execute
// - Call Stop() to actually terminate the loop
func (h *LoopHost) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.closed.Store(true)
		close(h.shutdownChan)
	})
}

// IsClosed returns true if the host has been shut down or stopped
func (h *LoopHost) IsClosed() bool {
	return h.closed.Load()
}

// Stop stops the host and waits for the running turn to complete.
// Queued turns that have not started are discarded.
// Stop must not be called from a turn.
func (h *LoopHost) Stop() {
	h.once.Do(func() {
		h.Shutdown()
		h.cancel()
		<-h.stopped
	})
}

// WaitIdle blocks until all currently queued turns have completed execution.
// This is implemented by posting a barrier turn and waiting for it to execute.
//
// Turns posted by those turns (a scheduler yielding and re-posting, for
// example) are not waited for.
func (h *LoopHost) WaitIdle(ctx context.Context) error {
	if h.IsClosed() {
		return ErrHostClosed
	}

	done := make(chan struct{})
	h.PostTurn(func() { close(done) })

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrHostClosed
	}
}

// WaitShutdown blocks until Shutdown() is called on this host, possibly by a
// turn running on the host itself.
func (h *LoopHost) WaitShutdown(ctx context.Context) error {
	select {
	case <-h.shutdownChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the host state.
func (h *LoopHost) Stats() HostStats {
	h.queueMu.Lock()
	pending := len(h.queue)
	h.queueMu.Unlock()
	return HostStats{
		Name:    h.name,
		Pending: pending,
		Turns:   h.turns.Load(),
		Panics:  h.panics.Load(),
		Timers:  int(h.timers.Load()),
		Closed:  h.IsClosed(),
	}
}

func (h *LoopHost) next() (func(), bool) {
	h.queueMu.Lock()
	defer h.queueMu.Unlock()
	if len(h.queue) == 0 {
		return nil, false
	}
	fn := h.queue[0]
	h.queue[0] = nil
	h.queue = h.queue[1:]
	if len(h.queue) == 0 {
		h.queue = nil
	}
	return fn, true
}

// runLoop occupies the dedicated goroutine
func (h *LoopHost) runLoop() {
	defer close(h.stopped)

	for {
		if h.ctx.Err() != nil {
			return
		}
		if fn, ok := h.next(); ok {
			h.runTurn(fn)
			continue
		}
		select {
		case <-h.wake:
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *LoopHost) runTurn(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.panics.Add(1)
			stack := debug.Stack()
			if pe, ok := rec.(*CallbackPanicError); ok && len(pe.Stack) > 0 {
				stack = pe.Stack
			}
			h.panicHandler.HandlePanic(h.name, rec, stack)
		}
	}()
	h.turns.Add(1)
	fn()
}
