package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Swind/go-frame-scheduler/core"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// maxFrameRate matches the bound enforced by Scheduler.ForceFrameRate.
const maxFrameRate = 125

// Load reads, decodes and validates the file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, b)
}

// Parse decodes data as YAML or JSON depending on the extension of path.
// Unknown fields are rejected. The result has defaults applied and is valid.
func Parse(path string, data []byte) (*Config, error) {
	jb, err := toJSON(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%w: trailing data", ErrInvalidConfig)
		}
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	s := c.Scheduler
	interval, err := parseDuration("scheduler.frame_interval", s.FrameInterval)
	if err != nil {
		return fail("%v", err)
	}
	if interval > 0 && s.FrameRate != 0 {
		return fail("scheduler.frame_interval and scheduler.frame_rate are mutually exclusive")
	}
	if s.FrameRate < 0 || s.FrameRate > maxFrameRate {
		return fail("scheduler.frame_rate must be within 0..%d, got %d", maxFrameRate, s.FrameRate)
	}
	if s.HistoryCapacity < 0 {
		return fail("scheduler.history_capacity must be >= 0")
	}
	if s.TimeScale < 0 {
		return fail("scheduler.time_scale must be > 0")
	}

	if !validLogLevel(c.Logging.Level) {
		return fail("logging.level: unknown level %q", c.Logging.Level)
	}

	if _, err := parseDuration("metrics.poll_interval", c.Metrics.PollInterval); err != nil {
		return fail("%v", err)
	}
	if _, err := parseDuration("timeout", c.Timeout); err != nil {
		return fail("%v", err)
	}

	seen := make(map[string]struct{}, len(c.Workload))
	for i, w := range c.Workload {
		path := fmt.Sprintf("workload[%d]", i)
		name := strings.TrimSpace(w.Name)
		if name == "" {
			return fail("%s.name is required", path)
		}
		if _, dup := seen[name]; dup {
			return fail("%s.name %q is duplicated", path, name)
		}
		seen[name] = struct{}{}
		if !w.Priority.IsValid() {
			return fail("%s.priority: %v", path, core.ErrInvalidPriority)
		}
		if w.Slices < 1 {
			return fail("%s.slices must be >= 1", path)
		}
		if _, err := parseDuration(path+".delay", w.Delay); err != nil {
			return fail("%v", err)
		}
		if _, err := parseDuration(path+".slice_work", w.SliceWork); err != nil {
			return fail("%v", err)
		}
	}
	return nil
}

func validLogLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "disabled", "off":
		return true
	}
	return false
}

// FrameInterval returns the configured frame budget, or 0 for the default.
func (c *Config) FrameInterval() time.Duration {
	if c.Scheduler.FrameRate > 0 {
		return time.Second / time.Duration(c.Scheduler.FrameRate)
	}
	return mustDuration(c.Scheduler.FrameInterval)
}

// RunTimeout returns the run bound, or 0 for none.
func (c *Config) RunTimeout() time.Duration { return mustDuration(c.Timeout) }

func (c *Config) PollInterval() time.Duration { return mustDuration(c.Metrics.PollInterval) }

// DelayDuration returns the entry's start delay.
func (w WorkloadEntry) DelayDuration() time.Duration { return mustDuration(w.Delay) }

// SliceWorkDuration returns how long each slice works for.
func (w WorkloadEntry) SliceWorkDuration() time.Duration { return mustDuration(w.SliceWork) }

// SchedulerConfig builds a core.SchedulerConfig from the scheduler section.
// logger and metrics may be nil.
func (c *Config) SchedulerConfig(logger core.Logger, metrics core.Metrics) *core.SchedulerConfig {
	return &core.SchedulerConfig{
		Name:            c.Scheduler.Name,
		FrameInterval:   c.FrameInterval(),
		Logger:          logger,
		Metrics:         metrics,
		HistoryCapacity: c.Scheduler.HistoryCapacity,
		OverdueLogRate:  c.Scheduler.OverdueLogRate,
	}
}

// LoggerOptions builds core.LoggerOptions from the logging section.
func (c *Config) LoggerOptions(out io.Writer) core.LoggerOptions {
	return core.LoggerOptions{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		Output:  out,
	}
}

// Apply pushes the hot-reloadable settings to a running scheduler.
func Apply(s *core.Scheduler, c *Config) {
	if s == nil || c == nil {
		return
	}
	if d := c.FrameInterval(); d > 0 {
		s.SetFrameInterval(d)
		return
	}
	// Dropping the setting restores the scheduler's configured budget.
	_ = s.ForceFrameRate(0)
}
