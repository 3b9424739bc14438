package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter: at most limit
// events inside any window-sized span.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter falls back to the package defaults when given
// non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time now fits the window, recording it
// when it does. Callers pass non-decreasing times.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Stamps arrive in order, so everything at or before the cutoff is a
	// prefix.
	cut := now.Add(-r.window)
	drop := 0
	for drop < len(r.stamps) && !r.stamps[drop].After(cut) {
		drop++
	}
	if drop > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[drop:]...)
	}

	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}
