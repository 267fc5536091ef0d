// Package dispatch provides a fixed-size task pool in which every worker
// owns its own FIFO queue. Submission appends to the least-loaded queue, so
// tasks that land in the same queue execute in submission order while tasks
// in different queues run concurrently. MessageQueue is the single-worker
// specialization for callers that need strict global ordering.
package dispatch

import (
	"context"
	"fmt"
	"runtime/pprof"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Dispatcher.
type Config struct {
	// Workers is the number of worker goroutines (and queues). Must be >= 1.
	Workers int

	// Name labels the pool in logs, goroutine profiles and metrics.
	Name string

	// Observer receives task lifecycle events. Nil means no observation.
	Observer Observer
}

// DefaultConfig returns a configuration suitable for general background work.
func DefaultConfig(name string) Config {
	return Config{
		Workers: 4,
		Name:    name,
	}
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Submitted   int64 // tasks accepted by Submit
	Completed   int64 // tasks whose execution returned (including failures)
	Rejected    int64 // tasks refused because the pool was closed
	Dropped     int64 // tasks discarded unexecuted at shutdown
	Panicked    int64 // tasks that panicked during execution
	Workers     int
	QueueDepths []int // pending tasks per queue at snapshot time
}

// Dispatcher owns a fixed set of workers, each draining its own queue. All
// queues share one mutex and one condition variable; the lock is never held
// while a task executes, so a task may Submit to its own pool.
type Dispatcher struct {
	name     string
	logger   simpleLogger
	observer Observer

	mu      sync.Mutex
	cond    *sync.Cond
	queues  [][]Task
	busy    []bool // worker i is executing a popped task
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted int64
	completed int64
	rejected  int64
	dropped   int64
	panicked  int64
}

// NewDispatcher creates a pool with config.Workers workers and starts them
// immediately. ctx bounds the lifetime of task execution: the context passed
// to Task.Execute is derived from it and cancelled when Close begins.
func NewDispatcher(ctx context.Context, config Config) (*Dispatcher, error) {
	if config.Workers < 1 {
		return nil, fmt.Errorf("dispatcher %q: %w", config.Name, ErrNoWorkers)
	}
	if config.Observer == nil {
		config.Observer = NopObserver{}
	}

	ctx, cancel := context.WithCancel(ctx)

	d := &Dispatcher{
		name:     config.Name,
		logger:   newDefaultSimpleLogger(),
		observer: config.Observer,
		queues:   make([][]Task, config.Workers),
		busy:     make([]bool, config.Workers),
		running:  true,
		ctx:      ctx,
		cancel:   cancel,
	}
	d.cond = sync.NewCond(&d.mu)

	d.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go d.worker(i)
	}

	return d, nil
}

// Submit enqueues a task on the queue with the fewest pending tasks, counting
// a worker's in-flight task as one pending unit so an idle worker is always
// preferred over a busy one. Ties go to the lowest queue index. Submit never
// blocks on execution; it only briefly takes the pool lock.
//
// Returns ErrDispatcherClosed once Close has begun; the task is discarded and
// will never run.
func (d *Dispatcher) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		atomic.AddInt64(&d.rejected, 1)
		d.observer.TaskRejected(d.name)
		return ErrDispatcherClosed
	}

	target := 0
	min := d.loadLocked(0)
	for i := 1; i < len(d.queues); i++ {
		if load := d.loadLocked(i); load < min {
			target, min = i, load
		}
	}
	d.queues[target] = append(d.queues[target], task)
	depth := len(d.queues[target])

	// Broadcast rather than single-wake: the chosen worker is not
	// necessarily the one currently waiting, and shutdown shares the signal.
	d.cond.Broadcast()
	d.mu.Unlock()

	atomic.AddInt64(&d.submitted, 1)
	d.observer.TaskEnqueued(d.name, target, depth)
	return nil
}

// loadLocked is the queue selection key: pending tasks plus the in-flight
// task, if any. Caller holds d.mu.
func (d *Dispatcher) loadLocked(i int) int {
	load := len(d.queues[i])
	if d.busy[i] {
		load++
	}
	return load
}

// Close stops the pool: no further submissions are accepted, tasks still
// queued are dropped without executing, and Close blocks until every worker
// has returned. In-flight tasks observe ctx cancellation but are waited for.
// Close is idempotent; concurrent callers after the first return immediately.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.running = false

	dropped := 0
	for i := range d.queues {
		dropped += len(d.queues[i])
		d.queues[i] = nil
	}
	d.cond.Broadcast()
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()

	if dropped > 0 {
		atomic.AddInt64(&d.dropped, int64(dropped))
		d.logger.Warnf("dispatcher %s: dropped %d queued tasks at shutdown", d.name, dropped)
		d.observer.TasksDropped(d.name, dropped)
	}
}

// worker runs one worker goroutine, labeled for goroutine profiles.
func (d *Dispatcher) worker(i int) {
	defer d.wg.Done()

	labels := pprof.Labels("pool", d.name, "worker", strconv.Itoa(i))
	pprof.Do(context.Background(), labels, func(context.Context) {
		d.loop(i)
	})
}

// loop drains queue i until the pool is closed and the queue is empty.
func (d *Dispatcher) loop(i int) {
	for {
		d.mu.Lock()
		d.busy[i] = false
		for len(d.queues[i]) == 0 && d.running {
			d.cond.Wait()
		}
		if len(d.queues[i]) == 0 {
			d.mu.Unlock()
			return
		}

		q := d.queues[i]
		task := q[0]
		q[0] = nil // release the task for GC once executed
		d.queues[i] = q[1:]
		d.busy[i] = true
		d.mu.Unlock()

		d.execute(i, task)
	}
}

// execute runs one task with no lock held. Panics are recovered so a failing
// task cannot silently shrink the pool's capacity.
func (d *Dispatcher) execute(queue int, task Task) {
	d.observer.TaskStarted(d.name, queue, task)
	start := time.Now()

	err := d.invoke(task)

	atomic.AddInt64(&d.completed, 1)
	d.observer.TaskFinished(d.name, queue, task, time.Since(start), err)
	if err != nil {
		d.logger.Errorf("dispatcher %s: task %s failed: %v", d.name, task.Name(), err)
	}
}

func (d *Dispatcher) invoke(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&d.panicked, 1)
			err = &PanicError{TaskName: task.Name(), Value: r}
		}
	}()
	return task.Execute(d.ctx)
}

// Name returns the pool's diagnostic name.
func (d *Dispatcher) Name() string {
	return d.name
}

// Workers returns the fixed worker count.
func (d *Dispatcher) Workers() int {
	return len(d.queues)
}

// IsRunning reports whether the pool still accepts submissions.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stats returns a snapshot of pool counters and queue depths.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	depths := make([]int, len(d.queues))
	for i := range d.queues {
		depths[i] = len(d.queues[i])
	}
	workers := len(d.queues)
	d.mu.Unlock()

	return Stats{
		Submitted:   atomic.LoadInt64(&d.submitted),
		Completed:   atomic.LoadInt64(&d.completed),
		Rejected:    atomic.LoadInt64(&d.rejected),
		Dropped:     atomic.LoadInt64(&d.dropped),
		Panicked:    atomic.LoadInt64(&d.panicked),
		Workers:     workers,
		QueueDepths: depths,
	}
}
