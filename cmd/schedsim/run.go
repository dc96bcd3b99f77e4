package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/Swind/go-frame-scheduler/config"
	"github.com/Swind/go-frame-scheduler/core"
	obs "github.com/Swind/go-frame-scheduler/observability/prometheus"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a workload file on a real-time loop host",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Required: true,
				Usage:    "Workload file (.yaml, .yml or .json)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (enables metrics)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override logging.level",
			},
			&cli.Float64Flag{
				Name:  "time-scale",
				Usage: "Override scheduler.time_scale (2 runs twice as fast)",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Reload the frame budget when the config file changes",
			},
		},

		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to load config: %v", err), 1)
	}

	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("time-scale") {
		cfg.Scheduler.TimeScale = c.Float64("time-scale")
	}
	if addr := c.String("metrics-addr"); addr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if cfg.Scheduler.TimeScale <= 0 {
		return cli.Exit("time scale must be > 0", 1)
	}

	runID := uuid.NewString()
	logger := core.NewLogger(cfg.LoggerOptions(c.App.ErrWriter)).With(core.F("run_id", runID))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var clock core.Clock = core.NewRealClock()
	if cfg.Scheduler.TimeScale != 1 {
		scaled := core.NewScaledClock(cfg.Scheduler.TimeScale)
		defer scaled.Stop()
		clock = scaled
	}

	schedName := cfg.Scheduler.Name
	if schedName == "" {
		schedName = "schedsim"
	}
	cfg.Scheduler.Name = schedName

	host := core.NewLoopHost(clock, &core.LoopHostConfig{Name: schedName, Logger: logger})
	defer host.Stop()

	var (
		metrics core.Metrics
		poller  *obs.SnapshotPoller
	)
	if cfg.Metrics.Enabled {
		m, shutdown, err := serveMetrics(ctx, cfg, logger)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to start metrics: %v", err), 1)
		}
		defer shutdown()
		metrics, poller = m.exporter, m.poller
	}

	sched := core.NewScheduler(host, cfg.SchedulerConfig(logger, metrics))
	if poller != nil {
		poller.AddHost(schedName, host)
		poller.AddScheduler(schedName, sched)
		poller.Start(ctx)
		defer poller.Stop()
	}
	return simulate(ctx, c, cfg, path, sched, logger)
}

func simulate(ctx context.Context, c *cli.Context, cfg *config.Config, path string, sched *core.Scheduler, logger core.Logger) error {
	defer sched.Shutdown()

	if c.Bool("watch") {
		w := config.NewWatcher(path, cfg, logger)
		w.OnChange(func(next *config.Config) { config.Apply(sched, next) })
		go func() {
			if err := w.Watch(ctx); err != nil {
				logger.Warn("config watch stopped", core.F("error", err))
			}
		}()
	}

	logger.Info("workload starting",
		core.F("tasks", len(cfg.Workload)),
		core.F("frame_interval", sched.FrameInterval()),
		core.F("time_scale", cfg.Scheduler.TimeScale),
	)

	wl, err := scheduleWorkload(sched, cfg.Workload, spinOn(sched))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	var timeout <-chan time.Time
	if d := cfg.RunTimeout(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	status := "completed"
	select {
	case <-wl.Done():
	case <-timeout:
		status = "timed out"
		wl.Cancel()
	case <-ctx.Done():
		status = "interrupted"
		wl.Cancel()
	}

	stats := sched.Stats()
	logger.Info("workload "+status,
		core.F("completed", stats.Completed),
		core.F("continuations", stats.Continuations),
		core.F("yields", stats.Yields),
		core.F("cancelled", stats.Cancelled),
	)

	capacity := cfg.Scheduler.HistoryCapacity
	if capacity <= 0 {
		capacity = 100
	}
	if err := printHistory(c.App.Writer, sched.RecentExecutions(capacity)); err != nil {
		return err
	}
	if status == "timed out" {
		return cli.Exit("workload did not finish before timeout", 2)
	}
	return nil
}

type metricsStack struct {
	exporter *obs.MetricsExporter
	poller   *obs.SnapshotPoller
}

func serveMetrics(ctx context.Context, cfg *config.Config, logger core.Logger) (*metricsStack, func(), error) {
	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter(cfg.Metrics.Namespace, reg, obs.ExporterOptions{})
	if err != nil {
		return nil, nil, err
	}
	poller, err := obs.NewSnapshotPoller(reg, obs.PollerOptions{
		Namespace: cfg.Metrics.Namespace,
		Interval:  cfg.PollInterval(),
	})
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", core.F("addr", cfg.Metrics.Addr), core.F("error", err))
		}
	}()
	logger.Info("metrics listening", core.F("addr", cfg.Metrics.Addr))

	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = server.Shutdown(sctx)
	}
	return &metricsStack{exporter: exporter, poller: poller}, shutdown, nil
}
