package hub

import (
	"sync"
	"time"
)

// rateLimiter is a per-session sliding-window limiter guarding against a
// misbehaving or compromised peer flooding the hub with frames. It is
// independent of backpressure: backpressure protects a slow receiver,
// this protects the hub and other peers from a fast sender.
type rateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

const (
	defaultRateLimitEvents = 200
	defaultRateLimitWindow = 10 * time.Second
)

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		events: make([]time.Time, 0, defaultRateLimitEvents+8),
		limit:  defaultRateLimitEvents,
		window: defaultRateLimitWindow,
	}
}

// Allow reports whether an event at time now should be permitted,
// evicting events that have aged out of the window.
func (r *rateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}
