package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CoordinatorMetrics records per-operation outcomes of the consistency coordinator.
type CoordinatorMetrics struct {
	duration    *prometheus.HistogramVec
	outcomes    *prometheus.CounterVec
	lockRetries *prometheus.CounterVec
}

// NewCoordinatorMetrics registers the coordinator metrics on the provided registerer.
func NewCoordinatorMetrics(reg prometheus.Registerer) *CoordinatorMetrics {
	if reg == nil {
		return &CoordinatorMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "operation_duration_seconds",
		Help:      "Duration of coordinator operations including lock waits and retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "operation_total",
		Help:      "Coordinator operations by outcome code (ok on success).",
	}, []string{"operation", "code"})
	lockRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "lock_retries_total",
		Help:      "Attempts retried after a lock timeout.",
	}, []string{"operation"})
	reg.MustRegister(duration, outcomes, lockRetries)
	return &CoordinatorMetrics{
		duration:    duration,
		outcomes:    outcomes,
		lockRetries: lockRetries,
	}
}

// Observe records one finished operation. An empty code means success.
func (m *CoordinatorMetrics) Observe(operation, code string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	operation = normalizeLabel(operation)
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
	m.outcomes.WithLabelValues(operation, code).Inc()
}

// IncLockRetry counts one lock-timeout retry.
func (m *CoordinatorMetrics) IncLockRetry(operation string) {
	if m == nil || m.lockRetries == nil {
		return
	}
	m.lockRetries.WithLabelValues(normalizeLabel(operation)).Inc()
}
