package main

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/Swind/go-frame-scheduler/config"
	"github.com/Swind/go-frame-scheduler/core"
)

// workFunc occupies the host for d of scheduler time.
type workFunc func(d time.Duration)

// spinOn busy-waits on the scheduler clock, so a scaled clock scales the work
// too.
func spinOn(s *core.Scheduler) workFunc {
	return func(d time.Duration) {
		if d <= 0 {
			return
		}
		end := s.Now() + d
		for s.Now() < end {
		}
	}
}

// workload tracks the tasks scheduled from config entries.
type workload struct {
	tasks []*core.Task

	mu        sync.Mutex
	remaining int
	done      chan struct{}
}

// scheduleWorkload submits every entry to s. The returned workload's Done
// channel closes once all of them have run their last slice.
func scheduleWorkload(s *core.Scheduler, entries []config.WorkloadEntry, work workFunc) (*workload, error) {
	wl := &workload{remaining: len(entries), done: make(chan struct{})}
	if len(entries) == 0 {
		close(wl.done)
		return wl, nil
	}

	for _, e := range entries {
		task, err := s.ScheduleCallback(e.Priority, wl.callback(e, work),
			core.WithDelay(e.DelayDuration()),
			core.WithLabel(e.Name),
		)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", e.Name, err)
		}
		wl.tasks = append(wl.tasks, task)
	}
	return wl, nil
}

func (wl *workload) callback(e config.WorkloadEntry, work workFunc) core.Callback {
	left := e.Slices
	sliceWork := e.SliceWorkDuration()

	var step core.Callback
	step = func(bool) core.Result {
		work(sliceWork)
		left--
		if left > 0 {
			return core.Continue(step)
		}
		wl.finish()
		return core.Done()
	}
	return step
}

func (wl *workload) finish() {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	wl.remaining--
	if wl.remaining == 0 {
		close(wl.done)
	}
}

// Done is closed when every task has finished.
func (wl *workload) Done() <-chan struct{} { return wl.done }

// Cancel drops tasks that have not finished yet.
func (wl *workload) Cancel() {
	for _, t := range wl.tasks {
		t.Cancel()
	}
}

// printHistory writes records oldest first. RecentExecutions returns them
// newest first.
func printHistory(w io.Writer, newestFirst []core.TaskExecutionRecord) error {
	records := slices.Clone(newestFirst)
	slices.Reverse(records)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tLABEL\tPRIORITY\tSTART\tDURATION\tRESULT")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%v\t%v\t%s\n",
			r.TaskID, r.Label, r.Priority, r.StartedAt, r.Duration, outcome(r))
	}
	return tw.Flush()
}

func outcome(r core.TaskExecutionRecord) string {
	var s string
	switch {
	case r.Panicked:
		s = "panicked"
	case r.Continued:
		s = "continued"
	default:
		s = "done"
	}
	if r.DidTimeout {
		s += " (timed out)"
	}
	return s
}
