package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingObserver captures lifecycle events for assertions.
type recordingObserver struct {
	mu       sync.Mutex
	enqueued []int // queue indices in enqueue order
	rejected int
	dropped  int
}

func (o *recordingObserver) TaskEnqueued(pool string, queue int, depth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enqueued = append(o.enqueued, queue)
}

func (o *recordingObserver) TaskStarted(string, int, Task) {}

func (o *recordingObserver) TaskFinished(string, int, Task, time.Duration, error) {}

func (o *recordingObserver) TaskRejected(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

func (o *recordingObserver) TasksDropped(pool string, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped += count
}

func (o *recordingObserver) enqueueOrder() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.enqueued...)
}

func TestNewDispatcher_RejectsZeroWorkers(t *testing.T) {
	_, err := NewDispatcher(context.Background(), Config{Workers: 0, Name: "bad"})
	if !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("NewDispatcher(0 workers) error = %v, want ErrNoWorkers", err)
	}
}

func TestDispatcher_SingleWorkerFIFO(t *testing.T) {
	d, err := NewDispatcher(context.Background(), Config{Workers: 1, Name: "fifo"})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	results := make(chan int, 5)
	for i := 0; i < 5; i++ {
		i := i
		if err := d.Submit(TaskFunc(func(context.Context) error {
			results <- i
			return nil
		})); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	for want := 0; want < 5; want++ {
		select {
		case got := <-results:
			if got != want {
				t.Fatalf("task order: got %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for task %d", want)
		}
	}

	d.Close()
}

func TestDispatcher_ConcurrentExecution(t *testing.T) {
	d, err := NewDispatcher(context.Background(), Config{Workers: 3, Name: "parallel"})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	defer d.Close()

	arrivals := make(chan struct{}, 3)
	release := make(chan struct{})

	for i := 0; i < 3; i++ {
		if err := d.Submit(TaskFunc(func(context.Context) error {
			arrivals <- struct{}{}
			<-release
			return nil
		})); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	// All three must start before any finishes.
	for i := 0; i < 3; i++ {
		select {
		case <-arrivals:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 3 tasks started concurrently", i)
		}
	}
	close(release)
}

func TestDispatcher_CloseWithoutSubmit(t *testing.T) {
	d, err := NewDispatcher(context.Background(), Config{Workers: 4, Name: "idle"})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() blocked on an idle pool")
	}
}

func TestDispatcher_PrefersIdleWorker(t *testing.T) {
	d, err := NewDispatcher(context.Background(), Config{Workers: 2, Name: "balance"})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	defer d.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	if err := d.Submit(TaskFunc(func(context.Context) error {
		close(started)
		<-release
		return nil
	})); err != nil {
		t.Fatalf("Submit(blocker) error = %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("blocker task never started")
	}

	// The second task must run on the idle worker, not queue behind the
	// blocked one.
	done := make(chan struct{})
	if err := d.Submit(TaskFunc(func(context.Context) error {
		close(done)
		return nil
	})); err != nil {
		t.Fatalf("Submit(second) error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second task waited behind a busy worker")
	}
	close(release)
}

func TestDispatcher_LoadBalancingOrder(t *testing.T) {
	obs := &recordingObserver{}
	d, err := NewDispatcher(context.Background(), Config{Workers: 2, Name: "order", Observer: obs})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	blocker := TaskFunc(func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	})

	// Occupy both workers, submitting the second only once the first is
	// in flight so placement stays deterministic.
	if err := d.Submit(blocker); err != nil {
		t.Fatalf("Submit(blocker 0) error = %v", err)
	}
	<-started
	if err := d.Submit(blocker); err != nil {
		t.Fatalf("Submit(blocker 1) error = %v", err)
	}
	<-started

	// Both queues empty, both workers busy: ties break to queue 0, then the
	// deeper queue 0 loses to queue 1.
	noop := TaskFunc(func(context.Context) error { return nil })
	if err := d.Submit(noop); err != nil {
		t.Fatalf("Submit(noop 1) error = %v", err)
	}
	if err := d.Submit(noop); err != nil {
		t.Fatalf("Submit(noop 2) error = %v", err)
	}

	close(release)
	d.Close()

	got := obs.enqueueOrder()
	want := []int{0, 1, 0, 1}
	if len(got) != len(want) {
		t.Fatalf("enqueue order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("enqueue order = %v, want %v", got, want)
		}
	}
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	obs := &recordingObserver{}
	d, err := NewDispatcher(context.Background(), Config{Workers: 2, Name: "closed", Observer: obs})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	d.Close()

	executed := make(chan struct{}, 1)
	err = d.Submit(TaskFunc(func(context.Context) error {
		executed <- struct{}{}
		return nil
	}))
	if !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Submit() after Close error = %v, want ErrDispatcherClosed", err)
	}

	select {
	case <-executed:
		t.Fatal("rejected task must never execute")
	case <-time.After(100 * time.Millisecond):
	}

	if stats := d.Stats(); stats.Rejected != 1 {
		t.Errorf("Stats().Rejected = %d, want 1", stats.Rejected)
	}
	if obs.rejected != 1 {
		t.Errorf("observer rejected = %d, want 1", obs.rejected)
	}
}

func TestDispatcher_DropsQueuedTasksOnClose(t *testing.T) {
	obs := &recordingObserver{}
	d, err := NewDispatcher(context.Background(), Config{Workers: 1, Name: "drop", Observer: obs})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	started := make(chan struct{})
	if err := d.Submit(TaskFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done() // released by Close cancelling the run context
		return nil
	})); err != nil {
		t.Fatalf("Submit(blocker) error = %v", err)
	}
	<-started

	executed := make(chan struct{}, 1)
	if err := d.Submit(TaskFunc(func(context.Context) error {
		executed <- struct{}{}
		return nil
	})); err != nil {
		t.Fatalf("Submit(queued) error = %v", err)
	}

	d.Close()

	select {
	case <-executed:
		t.Fatal("queued task executed despite shutdown drop")
	default:
	}

	stats := d.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", stats.Dropped)
	}
	if obs.dropped != 1 {
		t.Errorf("observer dropped = %d, want 1", obs.dropped)
	}
}

func TestDispatcher_SubmitFromTask(t *testing.T) {
	d, err := NewDispatcher(context.Background(), Config{Workers: 1, Name: "reentrant"})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	defer d.Close()

	inner := make(chan struct{})
	if err := d.Submit(TaskFunc(func(context.Context) error {
		// Submitting from inside a task must not deadlock: the pool lock is
		// not held during execution.
		return d.Submit(TaskFunc(func(context.Context) error {
			close(inner)
			return nil
		}))
	})); err != nil {
		t.Fatalf("Submit(outer) error = %v", err)
	}

	select {
	case <-inner:
	case <-time.After(2 * time.Second):
		t.Fatal("re-entrant Submit deadlocked or was lost")
	}
}

func TestDispatcher_PanicRecovery(t *testing.T) {
	d, err := NewDispatcher(context.Background(), Config{Workers: 1, Name: "panics"})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	defer d.Close()

	if err := d.Submit(NewNamedTask("explode", func(context.Context) error {
		panic("boom")
	})); err != nil {
		t.Fatalf("Submit(panicking) error = %v", err)
	}

	// The worker must survive the panic and keep draining its queue.
	survived := make(chan struct{})
	if err := d.Submit(TaskFunc(func(context.Context) error {
		close(survived)
		return nil
	})); err != nil {
		t.Fatalf("Submit(follow-up) error = %v", err)
	}

	select {
	case <-survived:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after task panic")
	}

	if stats := d.Stats(); stats.Panicked != 1 {
		t.Errorf("Stats().Panicked = %d, want 1", stats.Panicked)
	}
}

func TestDispatcher_NilTask(t *testing.T) {
	d, err := NewDispatcher(context.Background(), Config{Workers: 1, Name: "nil"})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	defer d.Close()

	if err := d.Submit(nil); !errors.Is(err, ErrNilTask) {
		t.Fatalf("Submit(nil) error = %v, want ErrNilTask", err)
	}
}

func TestDispatcher_Stats(t *testing.T) {
	d, err := NewDispatcher(context.Background(), Config{Workers: 3, Name: "stats"})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		if err := d.Submit(TaskFunc(func(context.Context) error {
			done <- struct{}{}
			return nil
		})); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	<-done
	<-done
	d.Close()

	stats := d.Stats()
	if stats.Submitted != 2 {
		t.Errorf("Stats().Submitted = %d, want 2", stats.Submitted)
	}
	if stats.Completed != 2 {
		t.Errorf("Stats().Completed = %d, want 2", stats.Completed)
	}
	if stats.Workers != 3 {
		t.Errorf("Stats().Workers = %d, want 3", stats.Workers)
	}
	if len(stats.QueueDepths) != 3 {
		t.Errorf("len(Stats().QueueDepths) = %d, want 3", len(stats.QueueDepths))
	}
	if d.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}
}

func TestTaskNames(t *testing.T) {
	fn := TaskFunc(func(context.Context) error { return nil })
	if fn.Name() != "TaskFunc" {
		t.Errorf("TaskFunc.Name() = %q", fn.Name())
	}

	named := NewNamedTask("reindex", fn)
	if named.Name() != "reindex" {
		t.Errorf("NamedTask.Name() = %q, want %q", named.Name(), "reindex")
	}
	if err := named.Execute(context.Background()); err != nil {
		t.Errorf("NamedTask.Execute() error = %v", err)
	}
}
