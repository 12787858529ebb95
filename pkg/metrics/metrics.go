package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lock protocol metrics
	LocksAcquiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbroker_locks_acquired_total",
			Help: "Total number of file locks acquired by kind",
		},
		[]string{"kind"},
	)

	LocksReleasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbroker_locks_released_total",
			Help: "Total number of file locks released by kind",
		},
		[]string{"kind"},
	)

	LockConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshbroker_lock_conflicts_total",
			Help: "Total number of lock requests that enqueued instead of acquiring",
		},
	)

	LockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meshbroker_lock_wait_duration_seconds",
			Help:    "Time a waiter spent queued before a lock_retry signal",
			Buckets: prometheus.DefBuckets,
		},
	)

	WaitersQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshbroker_waiters_queue_depth",
			Help: "Current depth of the waiters queue per workspace",
		},
		[]string{"workspace_id"},
	)

	// Consensus metrics
	ConsensusTalliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbroker_consensus_tallies_total",
			Help: "Total number of consensus tallies by outcome",
		},
		[]string{"outcome"},
	)

	// Backend health metrics
	HealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshbroker_backend_healthy",
			Help: "Whether a backend is currently connected (1) or not (0)",
		},
		[]string{"backend"},
	)

	ReconnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbroker_reconnect_attempts_total",
			Help: "Total number of reconnect attempts by backend",
		},
		[]string{"backend"},
	)

	ReconnectFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbroker_reconnect_failed_total",
			Help: "Total number of terminal reconnect-failed events by backend",
		},
		[]string{"backend"},
	)

	// Durable-store metrics
	SequenceNumberGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshbroker_sequence_number",
			Help: "Last sequence number produced, per topic",
		},
		[]string{"topic"},
	)

	DurableProduceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshbroker_durable_produce_duration_seconds",
			Help:    "Time taken to produce a durable-store message by topic",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	// Bridge-level operation metrics
	BridgeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbroker_bridge_operations_total",
			Help: "Total number of bridge operations by type and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		LocksAcquiredTotal,
		LocksReleasedTotal,
		LockConflictsTotal,
		LockWaitDuration,
		WaitersQueueDepth,
		ConsensusTalliesTotal,
		HealthStatus,
		ReconnectAttemptsTotal,
		ReconnectFailedTotal,
		SequenceNumberGauge,
		DurableProduceDuration,
		BridgeOperationsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
