package viewer

import (
	"sync"
	"time"
)

const (
	defaultRateEvents = 30
	defaultRateWindow = 10 * time.Second
)

// RateLimiter caps how many envelopes one viewer may send per window. It keeps the
// last limit accept times in a ring, so the oldest one decides whether the next passes.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	window time.Duration
}

// NewRateLimiter returns a limiter admitting limit events per window. Non-positive
// arguments fall back to 30 events per 10s.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateEvents
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{ring: make([]time.Time, limit), window: window}
}

// Allow records an event at now and reports whether it fits the budget.
// Rejected events are not recorded.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waitLocked(now) > 0 {
		return false
	}
	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	return true
}

// RetryAfter is how long a caller must wait after now before Allow would pass.
func (r *RateLimiter) RetryAfter(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waitLocked(now)
}

func (r *RateLimiter) waitLocked(now time.Time) time.Duration {
	oldest := r.ring[r.next]
	if oldest.IsZero() {
		return 0
	}
	if d := oldest.Add(r.window).Sub(now); d > 0 {
		return d
	}
	return 0
}
