package config

import (
	"github.com/Swind/go-frame-scheduler/core"
)

// Config is the schedsim configuration file.
//
// All durations are Go duration strings (e.g. "5ms", "250ms", "2s").
type Config struct {
	Scheduler SchedulerSection `json:"scheduler"`
	Logging   LoggingSection   `json:"logging"`
	Metrics   MetricsSection   `json:"metrics"`

	// Timeout bounds a whole run. "0s" or empty waits until the workload drains.
	Timeout string `json:"timeout,omitempty"`

	Workload []WorkloadEntry `json:"workload"`
}

// SchedulerSection maps onto core.SchedulerConfig.
//
// FrameInterval and FrameRate are mutually exclusive; when both are omitted
// the scheduler uses core.DefaultFrameInterval.
type SchedulerSection struct {
	Name            string  `json:"name,omitempty"`
	FrameInterval   string  `json:"frame_interval,omitempty"`
	FrameRate       int     `json:"frame_rate,omitempty"`
	HistoryCapacity int     `json:"history_capacity,omitempty"`
	OverdueLogRate  float64 `json:"overdue_log_rate,omitempty"`

	// TimeScale runs the host clock faster (>1) or slower (<1) than real time.
	TimeScale float64 `json:"time_scale,omitempty"`
}

type LoggingSection struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console,omitempty"`
}

type MetricsSection struct {
	Enabled      bool   `json:"enabled,omitempty"`
	Addr         string `json:"addr,omitempty"`
	Namespace    string `json:"namespace,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

// WorkloadEntry describes one scheduled task. Each slice keeps the host busy
// for SliceWork; the task returns a continuation until it has run Slices
// slices.
type WorkloadEntry struct {
	Name      string             `json:"name"`
	Priority  core.PriorityLevel `json:"priority,omitempty"`
	Delay     string             `json:"delay,omitempty"`
	Slices    int                `json:"slices,omitempty"`
	SliceWork string             `json:"slice_work,omitempty"`
}

const (
	defaultMetricsAddr  = ":9090"
	defaultPollInterval = "1s"
	defaultLogLevel     = "info"
)

// applyDefaults fills omitted fields in place.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = defaultMetricsAddr
	}
	if c.Metrics.PollInterval == "" {
		c.Metrics.PollInterval = defaultPollInterval
	}
	if c.Scheduler.TimeScale == 0 {
		c.Scheduler.TimeScale = 1
	}
	for i := range c.Workload {
		w := &c.Workload[i]
		if w.Priority == core.NoPriority {
			w.Priority = core.NormalPriority
		}
		if w.Slices == 0 {
			w.Slices = 1
		}
	}
}
