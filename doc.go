// Package framescheduler provides a cooperative priority task scheduler for Go.
//
// Callbacks are tagged with a priority level and run one at a time on a single
// host goroutine. The scheduler works in short slices: once a slice has used
// its frame budget (5ms by default) and the next task has not expired, it
// yields the goroutine and resumes on a later turn without losing its order.
//
// # Quick Start
//
// Initialize the global scheduler at application startup:
//
//	framescheduler.InitGlobalScheduler(nil)
//	defer framescheduler.ShutdownGlobalScheduler()
//
// Schedule work at a priority:
//
//	framescheduler.ScheduleCallback(framescheduler.NormalPriority, framescheduler.Func(func(didTimeout bool) {
//		// Your code here - runs on the scheduler goroutine
//	}))
//
// # Key Concepts
//
// PriorityLevel: Immediate, UserBlocking, Normal, Low and Idle. Each level has
// a timeout; a task's expiration time is its start time plus that timeout, and
// ready tasks run in order of expiration. Expired tasks run even when the frame
// budget is spent, so low priority work cannot starve.
//
// Callback: returns Done() when finished, or Continue(next) to be resumed in a
// later slice with the same identity and place in the queue.
//
// Host: the thread a Scheduler runs on. LoopHost is a dedicated goroutine;
// schedulertest.ManualHost is a deterministic host for tests.
//
// # Example
//
//	import (
//		framescheduler "github.com/Swind/go-frame-scheduler"
//	)
//
//	func main() {
//		framescheduler.InitGlobalScheduler(nil)
//		defer framescheduler.ShutdownGlobalScheduler()
//
//		items := loadItems()
//		var work framescheduler.Callback
//		work = func(didTimeout bool) framescheduler.Result {
//			for len(items) > 0 {
//				process(items[0])
//				items = items[1:]
//				if framescheduler.ShouldYield() {
//					return framescheduler.Continue(work)
//				}
//			}
//			return framescheduler.Done()
//		}
//		framescheduler.ScheduleCallback(framescheduler.LowPriority, work)
//	}
//
package framescheduler
