package dispatch

import (
	"context"
)

// Task is a deferred unit of work submitted to a Dispatcher or MessageQueue.
// A task runs at most once: either a worker executes it, or shutdown drops it.
type Task interface {
	// Execute performs the work. ctx is the owning pool's run context and is
	// cancelled when the pool shuts down.
	Execute(ctx context.Context) error

	// Name returns a human-readable label used in logs and metrics.
	Name() string
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements Task.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Name implements Task with a generic label.
func (f TaskFunc) Name() string {
	return "TaskFunc"
}

// NamedTask pairs a TaskFunc with a caller-chosen name.
type NamedTask struct {
	name string
	fn   TaskFunc
}

// NewNamedTask creates a task that reports the given name.
func NewNamedTask(name string, fn TaskFunc) *NamedTask {
	return &NamedTask{name: name, fn: fn}
}

// Execute implements Task.
func (t *NamedTask) Execute(ctx context.Context) error {
	return t.fn(ctx)
}

// Name implements Task.
func (t *NamedTask) Name() string {
	return t.name
}
