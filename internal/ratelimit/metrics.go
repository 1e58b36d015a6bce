package ratelimit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the rate limiter.
type Metrics struct {
	GrantsTotal  *prometheus.CounterVec
	DenialsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers rate limiter metrics.
//
// Registration is guarded by sync.Once so repeated construction (tests,
// multiple runs) cannot panic with a duplicate collector.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			GrantsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ratelimit_grants_total",
					Help: "Total number of rate limit permits granted",
				},
				[]string{"layer"}, // "internal" or "external"
			),
			DenialsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ratelimit_denials_total",
					Help: "Total number of rate limit permits denied",
				},
				[]string{"layer"},
			),
		}
	})
	return globalMetrics
}

// RecordGrant increments the grant counter for a layer.
func (m *Metrics) RecordGrant(layer string) {
	m.GrantsTotal.WithLabelValues(layer).Inc()
}

// RecordDenial increments the denial counter for a layer.
func (m *Metrics) RecordDenial(layer string) {
	m.DenialsTotal.WithLabelValues(layer).Inc()
}
