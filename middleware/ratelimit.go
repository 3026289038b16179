package middleware

import (
	"sync"
	"time"
)

// Limit configures a fixed rate-limit window.
type Limit struct {
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

type window struct {
	count int
	reset time.Time
}

// RateLimiter counts requests per key in fixed windows. The first request for
// a key, or the first after the window expires, starts a fresh window and is
// always allowed; within a window requests are allowed while the counter
// stays at or below the limit.
type RateLimiter struct {
	mu             sync.Mutex
	windows        map[string]*window
	throttledUntil time.Time
	clock          func() time.Time
}

// NewRateLimiter creates an empty limiter. clock may be nil to use wall time.
func NewRateLimiter(clock func() time.Time) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		windows: make(map[string]*window),
		clock:   clock,
	}
}

// Check records one request for key under limit and decides whether it is
// allowed. Once a window's counter exceeds the limit, every further request
// in that window is denied with Remaining zero and the same ResetTime.
func (rl *RateLimiter) Check(key string, limit Limit) Decision {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	maxRequests := limit.MaxRequests
	if now.Before(rl.throttledUntil) {
		if maxRequests /= 2; maxRequests < 1 {
			maxRequests = 1
		}
	}

	w, ok := rl.windows[key]
	if !ok || now.After(w.reset) {
		w = &window{count: 1, reset: now.Add(limit.Window)}
		rl.windows[key] = w
		remaining := maxRequests - 1
		if remaining < 0 {
			remaining = 0
		}
		return Decision{Allowed: true, Remaining: remaining, ResetTime: w.reset}
	}

	w.count++
	remaining := maxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   w.count <= maxRequests,
		Remaining: remaining,
		ResetTime: w.reset,
	}
}

// Throttle tightens the limiter until the deadline: every check runs against
// half the configured maximum. Used by automated responses to load spikes.
func (rl *RateLimiter) Throttle(until time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if until.After(rl.throttledUntil) {
		rl.throttledUntil = until
	}
}

// Throttled reports whether a throttle is currently in force.
func (rl *RateLimiter) Throttled() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.clock().Before(rl.throttledUntil)
}

// Prune drops windows that expired before now, bounding memory on churny key
// sets. Safe to call from a background loop.
func (rl *RateLimiter) Prune() int {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, w := range rl.windows {
		if now.After(w.reset) {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}
