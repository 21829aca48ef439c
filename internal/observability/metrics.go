package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mockinterview"

var (
	// AdvancesTotal counts advance calls by executor and outcome (ok, fallback, error, rejected).
	AdvancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advances_total",
			Help:      "Total number of interview advance calls",
		},
		[]string{"executor", "outcome"},
	)

	// ExecutorFallbacksTotal counts graph executor failures recovered by the procedural path.
	ExecutorFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_fallbacks_total",
			Help:      "Total number of graph executor failures recovered by the procedural executor",
		},
	)

	// EvaluateDegradedTotal counts evaluate joins that substituted a neutral result.
	EvaluateDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluate_degraded_total",
			Help:      "Evaluate steps that substituted a default result",
		},
		[]string{"part", "reason"}, // part: score, emotion; reason: error, deadline
	)

	// EvaluateDuration observes the wall time of the evaluate join.
	EvaluateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluate_duration_seconds",
			Help:      "Duration of the evaluate fan-out/fan-in join",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// EventsPublishedTotal counts bus publications by event type.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published on the bus",
		},
		[]string{"event_type", "stage"}, // stage: local, forward, relay
	)

	// EventHandlerFailuresTotal counts isolated handler panics.
	EventHandlerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Event handlers that panicked during dispatch",
		},
		[]string{"event_type"},
	)

	// TasksTotal counts task attempts by lane, operation and status.
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Task attempts by queue, operation and status",
		},
		[]string{"queue", "operation", "status"}, // status: success, retry, failure
	)

	// TaskDuration observes task attempt durations.
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of task attempts in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"queue", "operation"},
	)

	// InterventionsTotal counts turn-coordinator escalations by level.
	InterventionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interventions_total",
			Help:      "Turn intervention escalations by level",
		},
		[]string{"level"},
	)

	// RealtimeClients is the number of open real-time connections.
	RealtimeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_clients",
			Help:      "Open real-time client connections",
		},
	)
)

var allMetrics = []prometheus.Collector{
	AdvancesTotal,
	ExecutorFallbacksTotal,
	EvaluateDegradedTotal,
	EvaluateDuration,
	EventsPublishedTotal,
	EventHandlerFailuresTotal,
	TasksTotal,
	TaskDuration,
	InterventionsTotal,
	RealtimeClients,
}

// NewRegistry returns a registry with every service metric plus Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// MetricsHandler serves the registry in the OpenMetrics format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
