package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the result cache.
type Metrics struct {
	HitsTotal   prometheus.Counter
	MissesTotal prometheus.Counter
}

// NewMetrics creates and registers cache metrics, once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			HitsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "result_cache_hits_total",
				Help: "Total number of result cache hits",
			}),
			MissesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "result_cache_misses_total",
				Help: "Total number of result cache misses (including forced misses)",
			}),
		}
	})
	return globalMetrics
}

// RecordHit increments the hit counter.
func (m *Metrics) RecordHit() { m.HitsTotal.Inc() }

// RecordMiss increments the miss counter.
func (m *Metrics) RecordMiss() { m.MissesTotal.Inc() }
