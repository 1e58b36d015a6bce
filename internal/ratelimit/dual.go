package ratelimit

import (
	"time"

	"github.com/chimeralabs/chimerad/internal/task"
)

// Layer names reported on denial.
const (
	LayerInternal = "internal"
	LayerExternal = "external"
)

// LimitConfig is one (window, limit) quota.
type LimitConfig struct {
	Window time.Duration
	Limit  int
}

// Dual combines the internal per-principal quota with external per-resource
// quotas. A permit request must pass both layers; if either denies, the whole
// request is denied and no permit is consumed from the other layer's budget
// beyond the internal probe that already happened this window.
type Dual struct {
	internal *Limiter
	external map[task.Kind]*Limiter
	metrics  *Metrics
}

// NewDual builds a dual-layer limiter. Kinds without an explicit external
// quota are only subject to the internal layer.
func NewDual(internal LimitConfig, external map[task.Kind]LimitConfig, metrics *Metrics) *Dual {
	d := &Dual{
		internal: NewLimiter(internal.Limit, internal.Window),
		external: make(map[task.Kind]*Limiter, len(external)),
		metrics:  metrics,
	}
	for kind, cfg := range external {
		d.external[kind] = NewLimiter(cfg.Limit, cfg.Window)
	}
	return d
}

// Acquire requests one permit for (principal, kind). On denial it reports
// which layer refused.
func (d *Dual) Acquire(principal string, kind task.Kind) (granted bool, deniedLayer string) {
	if !d.internal.Acquire(principal) {
		d.record(LayerInternal, false)
		return false, LayerInternal
	}
	d.record(LayerInternal, true)

	if ext, ok := d.external[kind]; ok {
		if !ext.Acquire(principal) {
			d.record(LayerExternal, false)
			return false, LayerExternal
		}
		d.record(LayerExternal, true)
	}

	return true, ""
}

func (d *Dual) record(layer string, granted bool) {
	if d.metrics == nil {
		return
	}
	if granted {
		d.metrics.RecordGrant(layer)
	} else {
		d.metrics.RecordDenial(layer)
	}
}
