// Package security implements DM admission: the policy gate, the pairing
// and allowlist stores, and per-sender rate limiting.
package security

import (
	"sync"
	"time"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour

	// maxTrackedKeys caps tracked senders to prevent memory exhaustion from
	// rotating sender ids.
	maxTrackedKeys = 4096
)

// RateResult is the outcome of a rate check.
type RateResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimiter is a sliding-window counter over two windows (per-minute and
// per-hour). Timestamps are pruned lazily on access. Safe for concurrent use.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	hits      map[string][]time.Time
	now       func() time.Time
}

// NewRateLimiter creates a limiter; non-positive limits disable that window.
func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		hits:      make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Check reports whether another hit for key is currently allowed.
func (r *RateLimiter) Check(key string) RateResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	window := r.pruneLocked(key, now)

	if r.perHour > 0 && len(window) >= r.perHour {
		return RateResult{RetryAfter: window[0].Add(hourWindow).Sub(now)}
	}
	if r.perMinute > 0 {
		minuteCount := 0
		var oldestInMinute time.Time
		cutoff := now.Add(-minuteWindow)
		for _, t := range window {
			if t.After(cutoff) {
				if minuteCount == 0 {
					oldestInMinute = t
				}
				minuteCount++
			}
		}
		if minuteCount >= r.perMinute {
			return RateResult{RetryAfter: oldestInMinute.Add(minuteWindow).Sub(now)}
		}
	}
	return RateResult{Allowed: true}
}

// Hit records one request for key.
func (r *RateLimiter) Hit(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.hits) >= maxTrackedKeys {
		r.evictLocked(now)
	}
	r.hits[key] = append(r.pruneLocked(key, now), now)
}

// pruneLocked drops timestamps older than the hour window and returns the
// remaining slice. Fully expired keys are removed from the map.
func (r *RateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	window := r.hits[key]
	cutoff := now.Add(-hourWindow)
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	window = window[i:]
	if len(window) == 0 {
		delete(r.hits, key)
	} else {
		r.hits[key] = window
	}
	return window
}

func (r *RateLimiter) evictLocked(now time.Time) {
	cutoff := now.Add(-hourWindow)
	for k, w := range r.hits {
		if len(w) == 0 || !w[len(w)-1].After(cutoff) {
			delete(r.hits, k)
		}
	}
	for len(r.hits) >= maxTrackedKeys {
		for k := range r.hits {
			delete(r.hits, k)
			break
		}
	}
}
