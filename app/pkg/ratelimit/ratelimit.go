// Package ratelimit implements a per-key sliding-window limiter. The
// clock is injected so callers and tests control time explicitly.
package ratelimit

import (
	"sync"
	"time"
)

type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	now         func() time.Time
	hits        map[int64][]time.Time
}

// New creates a limiter allowing maxRequests per window per key. A nil
// clock falls back to time.Now.
func New(maxRequests int, window time.Duration, clock func() time.Time) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         clock,
		hits:        make(map[int64][]time.Time),
	}
}

// Allow records one request for key and reports whether it fits the
// window. Rejected requests are not recorded.
func (l *Limiter) Allow(key int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.hits[key][:0]
	for _, at := range l.hits[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= l.maxRequests {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

// Reset forgets all recorded requests for key.
func (l *Limiter) Reset(key int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, key)
}
