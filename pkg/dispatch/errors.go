package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrDispatcherClosed is returned by Submit once shutdown has begun.
	// The task was not enqueued and will never execute.
	ErrDispatcherClosed = errors.New("dispatcher is closed")

	// ErrNilTask is returned when a nil task is submitted.
	ErrNilTask = errors.New("task cannot be nil")

	// ErrNoWorkers is returned by NewDispatcher for a worker count below 1.
	ErrNoWorkers = errors.New("worker count must be at least 1")
)

// PanicError is the error a worker reports when a task panics. The panic is
// recovered so the worker keeps running; observers can detect it with
// errors.As.
type PanicError struct {
	TaskName string
	Value    interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.TaskName, e.Value)
}
