// Package prometheus exposes scheduler metrics and Stats() snapshots as
// Prometheus collectors.
package prometheus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-frame-scheduler/core"
)

const defaultNamespace = "framescheduler"

// DefaultDurationBuckets spans a tenth of a frame to a few frames.
var DefaultDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5}

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter implements core.Metrics on Prometheus vectors. Every series
// carries a "scheduler" label; duration and timeout series add "priority",
// queue depth adds "queue" (ready or timer).
type MetricsExporter struct {
	callbackSeconds *prom.HistogramVec
	panics          *prom.CounterVec
	rejected        *prom.CounterVec
	timeouts        *prom.CounterVec
	yields          *prom.CounterVec
	queueDepth      *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates the collectors under namespace (default
// "framescheduler") and registers them with reg (default registerer when
// nil). Collectors already registered by an earlier exporter are reused.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = DefaultDurationBuckets
	}

	counter := func(name, help string, labels ...string) *prom.CounterVec {
		return prom.NewCounterVec(prom.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	m := &MetricsExporter{
		callbackSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Callback invocation duration in seconds.",
			Buckets:   buckets,
		}, []string{"scheduler", "priority"}),
		panics:   counter("task_panic_total", "Callbacks that panicked.", "scheduler"),
		rejected: counter("task_rejected_total", "Tasks refused by ScheduleCallback.", "scheduler", "reason"),
		timeouts: counter("task_timeout_total", "Callbacks invoked after their expiration time.", "scheduler", "priority"),
		yields:   counter("yield_total", "Slices that gave the host back with work remaining.", "scheduler"),
		queueDepth: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks in the ready or timer queue.",
		}, []string{"scheduler", "queue"}),
	}

	var err error
	if m.callbackSeconds, err = registerCollector(reg, m.callbackSeconds); err != nil {
		return nil, err
	}
	for _, c := range []**prom.CounterVec{&m.panics, &m.rejected, &m.timeouts, &m.yields} {
		if *c, err = registerCollector(reg, *c); err != nil {
			return nil, err
		}
	}
	if m.queueDepth, err = registerCollector(reg, m.queueDepth); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MetricsExporter) RecordTaskDuration(schedulerName string, priority core.PriorityLevel, duration time.Duration) {
	if m == nil {
		return
	}
	m.callbackSeconds.WithLabelValues(schedulerLabel(schedulerName), priorityLabel(priority)).Observe(duration.Seconds())
}

func (m *MetricsExporter) RecordTaskPanic(schedulerName string, _ any) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(schedulerLabel(schedulerName)).Inc()
}

func (m *MetricsExporter) RecordQueueDepth(schedulerName string, queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(schedulerLabel(schedulerName), normalizeLabel(queue, "unknown")).Set(float64(depth))
}

func (m *MetricsExporter) RecordTaskRejected(schedulerName string, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(schedulerLabel(schedulerName), normalizeLabel(reason, "unknown")).Inc()
}

func (m *MetricsExporter) RecordYield(schedulerName string) {
	if m == nil {
		return
	}
	m.yields.WithLabelValues(schedulerLabel(schedulerName)).Inc()
}

func (m *MetricsExporter) RecordTaskTimeout(schedulerName string, priority core.PriorityLevel) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(schedulerLabel(schedulerName), priorityLabel(priority)).Inc()
}

func schedulerLabel(name string) string {
	return normalizeLabel(name, "unknown")
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func priorityLabel(priority core.PriorityLevel) string {
	if !priority.IsValid() {
		return "unknown"
	}
	return strings.ReplaceAll(priority.String(), "-", "_")
}

// registerCollector registers c, or returns the collector of the same type
// that is already registered under the same descriptor.
func registerCollector[T prom.Collector](reg prom.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prom.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return c, err
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return c, fmt.Errorf("collector type mismatch for %T", c)
	}
	return existing, nil
}
