// Package ratelimit implements the fixed-window request quotas that gate
// executor invocations.
//
// Two layers are enforced: an internal per-principal quota protecting the
// orchestrator's own capacity, and an external per-resource-kind quota
// mirroring downstream third-party limits. A permit must pass both layers.
//
// The limiter is stateless with respect to retry scheduling; denied callers
// own their backoff.
package ratelimit

import (
	"sync"
	"time"
)

// window tracks a single fixed window for one key.
type window struct {
	start time.Time
	count int
}

// Limiter is a keyed fixed-window rate limiter.
//
// All windows share one (limit, duration) pair; keys are created lazily on
// first acquire. The read-modify-write on each counter happens under the
// limiter mutex, so concurrent callers can never push a window past its
// limit.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int
	duration time.Duration
	now      func() time.Time
}

// NewLimiter creates a Limiter granting limit permits per key per duration.
func NewLimiter(limit int, duration time.Duration) *Limiter {
	return &Limiter{
		windows:  make(map[string]*window),
		limit:    limit,
		duration: duration,
		now:      time.Now,
	}
}

// Acquire attempts to take one permit for key. It returns true when granted.
//
// The window resets atomically once its duration has elapsed: the count drops
// to zero before the new request is evaluated.
func (l *Limiter) Acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok {
		w = &window{start: now}
		l.windows[key] = w
	}

	if now.Sub(w.start) >= l.duration {
		w.start = now
		w.count = 0
	}

	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Remaining reports the permits left for key in its current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || l.now().Sub(w.start) >= l.duration {
		return l.limit
	}
	return l.limit - w.count
}

// Limit returns the per-window permit count.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the window duration.
func (l *Limiter) Window() time.Duration { return l.duration }
