package prometheus

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dispatchio/dispatch/pkg/dispatch"
)

// Observer records pool lifecycle events into Prometheus metrics. It
// implements dispatch.Observer.
type Observer struct {
	metrics *Metrics
}

// NewObserver creates an observer backed by the given metrics. nil uses the
// process-wide instance.
func NewObserver(metrics *Metrics) *Observer {
	if metrics == nil {
		metrics = GetMetrics()
	}
	return &Observer{metrics: metrics}
}

func (o *Observer) TaskEnqueued(pool string, queue int, depth int) {
	o.metrics.TasksSubmitted.WithLabelValues(pool).Inc()
	o.metrics.QueueDepth.WithLabelValues(pool, strconv.Itoa(queue)).Set(float64(depth))
}

func (o *Observer) TaskStarted(pool string, queue int, task dispatch.Task) {
	o.metrics.QueueDepth.WithLabelValues(pool, strconv.Itoa(queue)).Dec()
}

func (o *Observer) TaskFinished(pool string, queue int, task dispatch.Task, elapsed time.Duration, err error) {
	o.metrics.TasksCompleted.WithLabelValues(pool).Inc()
	o.metrics.TaskDuration.WithLabelValues(pool).Observe(elapsed.Seconds())

	if err != nil {
		o.metrics.TasksFailed.WithLabelValues(pool).Inc()
		var panicErr *dispatch.PanicError
		if errors.As(err, &panicErr) {
			o.metrics.TaskPanics.WithLabelValues(pool).Inc()
		}
	}
}

func (o *Observer) TaskRejected(pool string) {
	o.metrics.TasksRejected.WithLabelValues(pool).Inc()
}

func (o *Observer) TasksDropped(pool string, count int) {
	o.metrics.TasksDropped.WithLabelValues(pool).Add(float64(count))
	// The queues are empty now; stale depth gauges would mislead.
	o.metrics.QueueDepth.DeletePartialMatch(prometheus.Labels{"pool": pool})
}
