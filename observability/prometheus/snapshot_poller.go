package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-frame-scheduler/core"
)

// SchedulerSnapshotProvider is satisfied by *core.Scheduler.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// HostSnapshotProvider is satisfied by *core.LoopHost.
type HostSnapshotProvider interface {
	Stats() core.HostStats
}

// PollerOptions configures a SnapshotPoller.
type PollerOptions struct {
	// Namespace prefixes every gauge. Defaults to "framescheduler".
	Namespace string
	// Interval between samples. Defaults to one second.
	Interval time.Duration
}

type schedulerGauges struct {
	ready, delayed, completed, cancelled, frameInterval, closed *prom.GaugeVec
}

func (g *schedulerGauges) set(name string, s core.SchedulerStats) {
	g.ready.WithLabelValues(name).Set(float64(s.Ready))
	g.delayed.WithLabelValues(name).Set(float64(s.Delayed))
	g.completed.WithLabelValues(name).Set(float64(s.Completed))
	g.cancelled.WithLabelValues(name).Set(float64(s.Cancelled))
	g.frameInterval.WithLabelValues(name).Set(s.FrameInterval.Seconds())
	g.closed.WithLabelValues(name).Set(boolGauge(s.Closed))
}

type hostGauges struct {
	pending, timers, turns, closed *prom.GaugeVec
}

func (g *hostGauges) set(name string, s core.HostStats) {
	g.pending.WithLabelValues(name).Set(float64(s.Pending))
	g.timers.WithLabelValues(name).Set(float64(s.Timers))
	g.turns.WithLabelValues(name).Set(float64(s.Turns))
	g.closed.WithLabelValues(name).Set(boolGauge(s.Closed))
}

// SnapshotPoller samples Stats() from registered schedulers and hosts on a
// ticker and publishes them as gauges labelled by name.
type SnapshotPoller struct {
	interval time.Duration
	sched    schedulerGauges
	host     hostGauges

	mu         sync.Mutex
	schedulers map[string]SchedulerSnapshotProvider
	hosts      map[string]HostSnapshotProvider
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSnapshotPoller builds the gauges and registers them with reg (default
// registerer when nil).
func NewSnapshotPoller(reg prom.Registerer, opts PollerOptions) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if opts.Namespace == "" {
		opts.Namespace = defaultNamespace
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	var regErr error
	gauge := func(name, help, label string) *prom.GaugeVec {
		g := prom.NewGaugeVec(prom.GaugeOpts{Namespace: opts.Namespace, Name: name, Help: help}, []string{label})
		if regErr != nil {
			return g
		}
		g, regErr = registerCollector(reg, g)
		return g
	}

	p := &SnapshotPoller{
		interval: opts.Interval,
		sched: schedulerGauges{
			ready:         gauge("scheduler_ready", "Tasks in the ready queue.", "scheduler"),
			delayed:       gauge("scheduler_delayed", "Tasks waiting in the timer queue.", "scheduler"),
			completed:     gauge("scheduler_completed_total", "Tasks that ran to completion.", "scheduler"),
			cancelled:     gauge("scheduler_cancelled_total", "Tasks cancelled before completing.", "scheduler"),
			frameInterval: gauge("scheduler_frame_interval_seconds", "Current frame budget.", "scheduler"),
			closed:        gauge("scheduler_closed", "1 once the scheduler is shut down.", "scheduler"),
		},
		host: hostGauges{
			pending: gauge("host_pending_turns", "Turns queued on the host.", "host"),
			timers:  gauge("host_timers", "Timers armed on the host.", "host"),
			turns:   gauge("host_turns_total", "Turns the host has run.", "host"),
			closed:  gauge("host_closed", "1 once the host is stopped.", "host"),
		},
		schedulers: make(map[string]SchedulerSnapshotProvider),
		hosts:      make(map[string]HostSnapshotProvider),
	}
	if regErr != nil {
		return nil, regErr
	}
	return p, nil
}

// AddScheduler registers provider under name, replacing any previous one.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.schedulers[normalizeLabel(name, "scheduler")] = provider
	p.mu.Unlock()
}

// AddHost registers provider under name, replacing any previous one.
func (p *SnapshotPoller) AddHost(name string, provider HostSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.hosts[normalizeLabel(name, "host")] = provider
	p.mu.Unlock()
}

// Start samples once immediately and then every interval until ctx ends or
// Stop is called. Starting a running poller does nothing.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop ends polling and waits for the loop to exit. The poller can be
// started again afterwards.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
}

// Collect takes one sample now.
func (p *SnapshotPoller) Collect() {
	p.mu.Lock()
	schedulers := make(map[string]SchedulerSnapshotProvider, len(p.schedulers))
	for k, v := range p.schedulers {
		schedulers[k] = v
	}
	hosts := make(map[string]HostSnapshotProvider, len(p.hosts))
	for k, v := range p.hosts {
		hosts[k] = v
	}
	p.mu.Unlock()

	// Stats() takes the provider's own lock; sample outside ours.
	for name, provider := range schedulers {
		p.sched.set(name, provider.Stats())
	}
	for name, provider := range hosts {
		p.host.set(name, provider.Stats())
	}
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Collect()
		}
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
