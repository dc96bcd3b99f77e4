package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPriority is returned when a priority level is not part of
	// the catalog.
	ErrInvalidPriority = errors.New("scheduler: invalid priority level")

	// ErrSchedulerClosed is returned when scheduling on a scheduler that has
	// been shut down.
	ErrSchedulerClosed = errors.New("scheduler: closed")

	// ErrInvalidFrameRate is returned by ForceFrameRate for values outside
	// 0..125.
	ErrInvalidFrameRate = errors.New("scheduler: frame rate must be between 0 and 125")

	// ErrNilCallback is returned when scheduling a nil callback.
	ErrNilCallback = errors.New("scheduler: nil callback")

	// ErrHostClosed is returned by host operations after shutdown.
	ErrHostClosed = errors.New("scheduler: host is closed")
)

// CallbackPanicError wraps a value recovered from a panicking task callback.
// The scheduler re-panics with it after its own bookkeeping has completed.
type CallbackPanicError struct {
	TaskID   uint64
	Label    string
	Priority PriorityLevel
	Value    any
	Stack    []byte
}

func (e *CallbackPanicError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("scheduler: task %d (%s, %s) panicked: %v", e.TaskID, e.Label, e.Priority, e.Value)
	}
	return fmt.Sprintf("scheduler: task %d (%s) panicked: %v", e.TaskID, e.Priority, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *CallbackPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
