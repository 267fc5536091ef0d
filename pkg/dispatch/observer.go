package dispatch

import "time"

// Observer receives task lifecycle events from a pool. Implementations must
// be safe for concurrent use; callbacks run on submitter and worker
// goroutines with no pool lock held.
type Observer interface {
	// TaskEnqueued fires after a task lands in a queue. depth is the queue
	// depth including the new task.
	TaskEnqueued(pool string, queue int, depth int)

	// TaskStarted fires when a worker pops a task and begins executing it.
	TaskStarted(pool string, queue int, task Task)

	// TaskFinished fires when execution returns. err is the task's error, or
	// the recovered panic wrapped as an error.
	TaskFinished(pool string, queue int, task Task, elapsed time.Duration, err error)

	// TaskRejected fires when Submit refuses a task because the pool is
	// closed.
	TaskRejected(pool string)

	// TasksDropped fires once during shutdown with the number of tasks
	// discarded without executing.
	TasksDropped(pool string, count int)
}

// NopObserver is an Observer that ignores every event. It is the default.
type NopObserver struct{}

func (NopObserver) TaskEnqueued(string, int, int)                      {}
func (NopObserver) TaskStarted(string, int, Task)                      {}
func (NopObserver) TaskFinished(string, int, Task, time.Duration, error) {}
func (NopObserver) TaskRejected(string)                                {}
func (NopObserver) TasksDropped(string, int)                           {}
