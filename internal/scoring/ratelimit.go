package scoring

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a per-client sliding window: at most max
// requests per window. State is process-wide and mutex-protected.
type RateLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	max     int
	window  time.Duration
	sweep   time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing max requests per window.
func NewRateLimiter(max int, window, sweep time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		max:    max,
		window: window,
		sweep:  sweep,
		now:    time.Now,
	}
}

// Allow records a request for the client and reports whether it fits
// the window. Exactly max requests per rolling window succeed.
func (r *RateLimiter) Allow(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	recent := r.hits[clientID][:0]
	for _, t := range r.hits[clientID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.max {
		r.hits[clientID] = recent
		return false
	}

	r.hits[clientID] = append(recent, now)
	return true
}

// Remaining reports how many requests the client has left in the
// current window.
func (r *RateLimiter) Remaining(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	n := 0
	for _, t := range r.hits[clientID] {
		if t.After(cutoff) {
			n++
		}
	}
	if n >= r.max {
		return 0
	}
	return r.max - n
}

// StartSweeper drops clients whose whole window has aged out, on a
// fixed cadence until ctx is canceled. Never blocks the scoring path.
func (r *RateLimiter) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepStale()
			}
		}
	}()
}

func (r *RateLimiter) sweepStale() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	for client, times := range r.hits {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(r.hits, client)
		}
	}
}
