package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the dispatch loop.
type Metrics struct {
	DispatchedTotal *prometheus.CounterVec
	CompletedTotal  *prometheus.CounterVec
	DeferralsTotal  *prometheus.CounterVec
	KindDisabled    *prometheus.GaugeVec
}

// NewMetrics creates and registers dispatcher metrics.
//
// Registration is guarded by sync.Once so repeated construction (tests,
// multiple runs) cannot panic with a duplicate collector.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			DispatchedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "scheduler_tasks_dispatched_total",
					Help: "Total number of executor invocations launched",
				},
				[]string{"kind"},
			),
			CompletedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "scheduler_tasks_completed_total",
					Help: "Total number of tasks that reached a terminal state via dispatch",
				},
				[]string{"kind", "status"},
			),
			DeferralsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "scheduler_task_deferrals_total",
					Help: "Total number of quota deferrals issued by the dispatch loop",
				},
				[]string{"layer"},
			),
			KindDisabled: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "scheduler_kind_disabled",
					Help: "Whether an executor kind is disabled after a systemic failure (1 = disabled)",
				},
				[]string{"kind"},
			),
		}
	})
	return globalMetrics
}

// RecordDispatched increments the dispatch counter for a kind.
func (m *Metrics) RecordDispatched(kind string) {
	m.DispatchedTotal.WithLabelValues(kind).Inc()
}

// RecordCompleted increments the completion counter for a kind and status.
func (m *Metrics) RecordCompleted(kind, status string) {
	m.CompletedTotal.WithLabelValues(kind, status).Inc()
}

// RecordDeferral increments the deferral counter for a limiter layer.
func (m *Metrics) RecordDeferral(layer string) {
	m.DeferralsTotal.WithLabelValues(layer).Inc()
}

// SetKindDisabled flips the disabled gauge for a kind.
func (m *Metrics) SetKindDisabled(kind string, disabled bool) {
	v := 0.0
	if disabled {
		v = 1.0
	}
	m.KindDisabled.WithLabelValues(kind).Set(v)
}
