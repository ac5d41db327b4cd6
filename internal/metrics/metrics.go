// Package metrics exposes Prometheus instrumentation for aggregate
// maintenance.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records operation latency and transaction conflict behaviour.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	opDuration *prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
	exhausted  *prometheus.CounterVec
	reconciled prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		opDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fanrank",
				Name:      "operation_duration_seconds",
				Help:      "Duration of aggregate operations including transaction retries.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
		conflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fanrank",
				Name:      "tx_conflicts_total",
				Help:      "Transaction attempts that lost an optimistic write and were retried or abandoned.",
			},
			[]string{"operation"},
		),
		exhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fanrank",
				Name:      "tx_retries_exhausted_total",
				Help:      "Operations that gave up after the maximum number of transaction attempts.",
			},
			[]string{"operation"},
		),
		reconciled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fanrank",
				Name:      "aggregates_repaired_total",
				Help:      "Reconciliations that changed a stored aggregate.",
			},
		),
	}
}

// ObserveOperation records how long op took and its outcome label.
func (m *Metrics) ObserveOperation(op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

func (m *Metrics) Conflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) Exhausted(op string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(op).Inc()
}

// Repaired counts a reconciliation that found drift.
func (m *Metrics) Repaired() {
	if m == nil {
		return
	}
	m.reconciled.Inc()
}
