// Package prometheus exposes dispatcher activity as Prometheus metrics.
package prometheus

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DefaultRegistry is the project's private Prometheus registry.
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer labels every metric with the service name.
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "dispatch"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds the dispatcher metric families.
type Metrics struct {
	TasksSubmitted *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
	TasksRejected  *prometheus.CounterVec
	TasksDropped   *prometheus.CounterVec
	TaskPanics     *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	QueueDepth     *prometheus.GaugeVec
}

// GetMetrics returns the process-wide metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates and registers the metric families.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		TasksSubmitted: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_tasks_submitted_total",
				Help: "Total number of tasks accepted by Submit",
			},
			[]string{"pool"},
		),
		TasksCompleted: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_tasks_completed_total",
				Help: "Total number of tasks whose execution returned",
			},
			[]string{"pool"},
		),
		TasksFailed: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_tasks_failed_total",
				Help: "Total number of tasks that returned an error or panicked",
			},
			[]string{"pool"},
		),
		TasksRejected: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_tasks_rejected_total",
				Help: "Total number of submissions refused because the pool was closed",
			},
			[]string{"pool"},
		),
		TasksDropped: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_tasks_dropped_total",
				Help: "Total number of queued tasks discarded at shutdown",
			},
			[]string{"pool"},
		),
		TaskPanics: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_task_panics_total",
				Help: "Total number of recovered task panics",
			},
			[]string{"pool"},
		),
		TaskDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pool"},
		),
		QueueDepth: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatch_queue_depth",
				Help: "Pending tasks per worker queue",
			},
			[]string{"pool", "queue"},
		),
	}
}

// Handler serves the default registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
