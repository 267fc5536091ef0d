package dispatch

import (
	"context"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"
)

// MessageQueue is the single-worker counterpart of Dispatcher: one queue, one
// goroutine, strict submission-order execution. Use it as a lightweight
// serial task drain when global ordering matters.
type MessageQueue struct {
	name     string
	logger   simpleLogger
	observer Observer

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	submitted int64
	completed int64
	rejected  int64
	dropped   int64
	panicked  int64
}

// NewMessageQueue creates a serial queue and starts its worker goroutine.
func NewMessageQueue(ctx context.Context, name string) *MessageQueue {
	ctx, cancel := context.WithCancel(ctx)

	q := &MessageQueue{
		name:     name,
		logger:   newDefaultSimpleLogger(),
		observer: NopObserver{},
		running:  true,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.worker()
	return q
}

// SetObserver attaches a lifecycle observer. Call before the first Submit.
func (q *MessageQueue) SetObserver(observer Observer) {
	if observer != nil {
		q.observer = observer
	}
}

// Submit appends a task to the queue. Returns ErrDispatcherClosed once Close
// has begun; the task is discarded and will never run.
func (q *MessageQueue) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		atomic.AddInt64(&q.rejected, 1)
		q.observer.TaskRejected(q.name)
		return ErrDispatcherClosed
	}
	q.queue = append(q.queue, task)
	depth := len(q.queue)
	q.cond.Signal()
	q.mu.Unlock()

	atomic.AddInt64(&q.submitted, 1)
	q.observer.TaskEnqueued(q.name, 0, depth)
	return nil
}

// Close stops the queue, drops pending tasks unexecuted, and waits for the
// worker to return. Idempotent.
func (q *MessageQueue) Close() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.running = false

	dropped := len(q.queue)
	q.queue = nil
	q.cond.Signal()
	q.mu.Unlock()

	q.cancel()
	<-q.done

	if dropped > 0 {
		atomic.AddInt64(&q.dropped, int64(dropped))
		q.logger.Warnf("message queue %s: dropped %d queued tasks at shutdown", q.name, dropped)
		q.observer.TasksDropped(q.name, dropped)
	}
}

func (q *MessageQueue) worker() {
	defer close(q.done)

	labels := pprof.Labels("pool", q.name, "worker", "0")
	pprof.Do(context.Background(), labels, func(context.Context) {
		q.loop()
	})
}

func (q *MessageQueue) loop() {
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && q.running {
			q.cond.Wait()
		}
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}

		task := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		q.execute(task)
	}
}

func (q *MessageQueue) execute(task Task) {
	q.observer.TaskStarted(q.name, 0, task)
	start := time.Now()

	err := q.invoke(task)

	atomic.AddInt64(&q.completed, 1)
	q.observer.TaskFinished(q.name, 0, task, time.Since(start), err)
	if err != nil {
		q.logger.Errorf("message queue %s: task %s failed: %v", q.name, task.Name(), err)
	}
}

func (q *MessageQueue) invoke(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&q.panicked, 1)
			err = &PanicError{TaskName: task.Name(), Value: r}
		}
	}()
	return task.Execute(q.ctx)
}

// Name returns the queue's diagnostic name.
func (q *MessageQueue) Name() string {
	return q.name
}

// IsRunning reports whether the queue still accepts submissions.
func (q *MessageQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Stats returns a snapshot of queue counters and depth.
func (q *MessageQueue) Stats() Stats {
	q.mu.Lock()
	depth := len(q.queue)
	q.mu.Unlock()

	return Stats{
		Submitted:   atomic.LoadInt64(&q.submitted),
		Completed:   atomic.LoadInt64(&q.completed),
		Rejected:    atomic.LoadInt64(&q.rejected),
		Dropped:     atomic.LoadInt64(&q.dropped),
		Panicked:    atomic.LoadInt64(&q.panicked),
		Workers:     1,
		QueueDepths: []int{depth},
	}
}
