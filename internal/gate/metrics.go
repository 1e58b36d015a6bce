package gate

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the safety gate.
type Metrics struct {
	DecisionsTotal *prometheus.CounterVec
	ExpiriesTotal  prometheus.Counter
}

// NewMetrics creates and registers gate metrics.
//
// Registration is guarded by sync.Once so repeated construction (tests,
// multiple runs) cannot panic with a duplicate collector.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			DecisionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gate_decisions_total",
					Help: "Total number of gate decisions by outcome and reason",
				},
				[]string{"outcome", "reason"},
			),
			ExpiriesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "gate_review_expiries_total",
					Help: "Total number of pending reviews auto-rejected on expiry",
				},
			),
		}
	})
	return globalMetrics
}

// RecordDecision increments the decision counter.
func (m *Metrics) RecordDecision(outcome, reason string) {
	m.DecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordExpiry increments the expiry counter.
func (m *Metrics) RecordExpiry() {
	m.ExpiriesTotal.Inc()
}
