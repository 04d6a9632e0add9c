package challenge

import (
	"sync"
	"time"
)

// RateLimiter caps resolution attempts over a rolling 60-minute window.
// Safe for concurrent use by independent application attempts.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewRateLimiter returns a limiter allowing limit attempts per rolling hour.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: time.Hour,
		now:    time.Now,
	}
}

// Allow records an attempt if the window has capacity and reports whether
// it was admitted. Attempts are counted whether or not they later succeed.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)
	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

// Remaining reports how many attempts the current window still admits.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return r.limit - len(r.stamps)
}

func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	kept := r.stamps[:0]
	for _, t := range r.stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.stamps = kept
}
