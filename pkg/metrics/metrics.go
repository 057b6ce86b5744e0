package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the engine exports. All collectors are
// registered on the registry passed to New, so tests can use a private
// registry and production uses prometheus.DefaultRegisterer.
type Metrics struct {
	ExecutionsStarted  prometheus.Counter
	ExecutionsFinished *prometheus.CounterVec
	ExecutionDuration  prometheus.Histogram
	ActiveExecutions   prometheus.Gauge

	NodesExecuted *prometheus.CounterVec
	NodeDuration  *prometheus.HistogramVec
	NodeRetries   prometheus.Counter

	QueueDepth    prometheus.Gauge
	QueueWaitTime prometheus.Histogram
	JobsProcessed *prometheus.CounterVec
	ActiveWorkers prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExecutionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "canvasflow",
			Subsystem: "engine",
			Name:      "executions_started_total",
			Help:      "Workflow executions started.",
		}),
		ExecutionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canvasflow",
			Subsystem: "engine",
			Name:      "executions_finished_total",
			Help:      "Workflow executions finished, by terminal status.",
		}, []string{"status"}),
		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "canvasflow",
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "End to end workflow execution duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		ActiveExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "canvasflow",
			Subsystem: "engine",
			Name:      "active_executions",
			Help:      "Executions currently running or paused.",
		}),

		NodesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canvasflow",
			Subsystem: "engine",
			Name:      "nodes_executed_total",
			Help:      "Node executions, by node type and outcome.",
		}, []string{"node_type", "outcome"}),
		NodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canvasflow",
			Subsystem: "engine",
			Name:      "node_duration_seconds",
			Help:      "Single node execution duration, by node type.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"node_type"}),
		NodeRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "canvasflow",
			Subsystem: "engine",
			Name:      "node_retries_total",
			Help:      "Node jobs requeued after a retryable failure.",
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "canvasflow",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs waiting in the priority queue.",
		}),
		QueueWaitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "canvasflow",
			Subsystem: "queue",
			Name:      "wait_seconds",
			Help:      "Time jobs spend queued before a worker picks them up.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canvasflow",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Jobs taken off the queue, by result.",
		}, []string{"result"}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "canvasflow",
			Subsystem: "queue",
			Name:      "active_workers",
			Help:      "Workers currently executing a job.",
		}),
	}
}

// NewNop returns metrics backed by a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
