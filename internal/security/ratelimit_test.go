package security

import (
	"testing"
	"time"
)

func TestRateLimiter_BlocksAfterPerMinuteLimit(t *testing.T) {
	rl := NewRateLimiter(2, 100)

	rl.Hit("u1")
	rl.Hit("u1")
	rl.Hit("u1")

	res := rl.Check("u1")
	if res.Allowed {
		t.Error("third hit within a minute must block u1")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("retryAfter = %v, want > 0", res.RetryAfter)
	}
	if !rl.Check("u2").Allowed {
		t.Error("u2 must be unaffected by u1's limit")
	}
}

func TestRateLimiter_MinuteWindowSlides(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(2, 100)
	rl.now = func() time.Time { return now }

	rl.Hit("k")
	rl.Hit("k")
	if rl.Check("k").Allowed {
		t.Fatal("limit reached, check must block")
	}

	now = now.Add(61 * time.Second)
	if !rl.Check("k").Allowed {
		t.Error("hits older than a minute must not count")
	}
}

func TestRateLimiter_HourWindow(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1000, 3)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		rl.Hit("k")
		now = now.Add(2 * time.Minute)
	}

	res := rl.Check("k")
	if res.Allowed {
		t.Fatal("hour limit reached, check must block")
	}
	// Oldest hit was 6 minutes ago; retry when it leaves the hour window.
	want := 54 * time.Minute
	if res.RetryAfter != want {
		t.Errorf("retryAfter = %v, want %v", res.RetryAfter, want)
	}

	now = now.Add(55 * time.Minute)
	if !rl.Check("k").Allowed {
		t.Error("expired hour window must unblock")
	}
}

func TestRateLimiter_LazyPruneRemovesObservedExpiredKeys(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(5, 10)
	rl.now = func() time.Time { return now }

	rl.Hit("gone")
	now = now.Add(2 * time.Hour)
	rl.Check("gone")

	rl.mu.Lock()
	_, exists := rl.hits["gone"]
	rl.mu.Unlock()
	if exists {
		t.Error("fully expired observed key must be removed from the map")
	}
}
