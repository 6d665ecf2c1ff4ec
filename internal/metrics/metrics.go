package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline's prometheus collectors. A nil *Metrics is
// valid and records nothing, which keeps test wiring short.
type Metrics struct {
	readingsIngested prometheus.Counter
	storeLatency     prometheus.Histogram
	tasksDropped     *prometheus.CounterVec
	taskFailures     *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	cacheOps         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_readings_ingested_total",
			Help: "Readings durably written by the ingest path.",
		}),
		storeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_store_write_seconds",
			Help:    "Latency of batched durable writes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		tasksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_background_tasks_dropped_total",
			Help: "Background tasks dropped because the worker queue was full.",
		}, []string{"task"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_background_task_failures_total",
			Help: "Background tasks that returned an error or panicked.",
		}, []string{"task"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_alerts_total",
			Help: "Alert outcomes by reason.",
		}, []string{"reason", "outcome"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_cache_operations_total",
			Help: "Cache lookups and failures.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.readingsIngested, m.storeLatency, m.tasksDropped, m.taskFailures, m.alerts, m.cacheOps)
	return m
}

// Alert outcomes.
const (
	AlertDelivered  = "delivered"
	AlertSuppressed = "suppressed"
	AlertFailed     = "failed"
)

// Cache results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

func (m *Metrics) ReadingsIngested(n int) {
	if m == nil {
		return
	}
	m.readingsIngested.Add(float64(n))
}

func (m *Metrics) ObserveStoreWrite(seconds float64) {
	if m == nil {
		return
	}
	m.storeLatency.Observe(seconds)
}

func (m *Metrics) TaskDropped(task string) {
	if m == nil {
		return
	}
	m.tasksDropped.WithLabelValues(task).Inc()
}

func (m *Metrics) TaskFailed(task string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(task).Inc()
}

func (m *Metrics) Alert(reason, outcome string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(reason, outcome).Inc()
}

func (m *Metrics) Cache(result string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(result).Inc()
}
