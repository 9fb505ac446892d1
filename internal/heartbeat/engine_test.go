package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/iris/internal/config"
)

func testConfig() config.HeartbeatConfig {
	return config.HeartbeatConfig{
		Enabled: true,
		Intervals: config.HeartbeatIntervals{
			HealthyMs:  300_000,
			DegradedMs: 60_000,
			CriticalMs: 15_000,
		},
		SelfHeal: config.SelfHealConfig{Enabled: true, MaxAttempts: 3, BackoffTicks: 2},
	}
}

// probe is a scriptable checker.
type probe struct {
	status atomic.Value // Status
	checks atomic.Int32
	heals  atomic.Int32
	healOK bool
}

func newProbe(initial Status, healOK bool) *probe {
	p := &probe{healOK: healOK}
	p.status.Store(initial)
	return p
}

func (p *probe) checker(name string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) CheckResult {
			p.checks.Add(1)
			return CheckResult{Status: p.status.Load().(Status)}
		},
		Heal: func(context.Context) bool {
			p.heals.Add(1)
			return p.healOK
		},
	}
}

func newTestEngine(cfg config.HeartbeatConfig) (*Engine, *time.Time) {
	e := New(cfg, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, &now
}

func componentStatus(e *Engine, agentID, name string) Status {
	for _, snap := range e.Snapshot() {
		if snap.AgentID != agentID {
			continue
		}
		for _, c := range snap.Components {
			if c.Name == name {
				return c.Status
			}
		}
	}
	return ""
}

func TestEngine_HealToRecoveringToHealthy(t *testing.T) {
	e, now := newTestEngine(testConfig())
	p := newProbe(StatusDown, true)
	e.AddAgent("opencode", nil, []Checker{p.checker("api")})

	e.RunDue(context.Background())
	if got := componentStatus(e, "opencode", "api"); got != StatusRecovering {
		t.Fatalf("after successful heal status = %s, want recovering", got)
	}
	if p.heals.Load() != 1 {
		t.Fatalf("heals = %d, want 1", p.heals.Load())
	}

	// Recovering holds until backoffTicks consecutive healthy checks.
	p.status.Store(StatusHealthy)
	*now = now.Add(2 * time.Minute)
	e.RunDue(context.Background())
	if got := componentStatus(e, "opencode", "api"); got != StatusRecovering {
		t.Fatalf("after 1 healthy tick status = %s, want recovering", got)
	}

	*now = now.Add(2 * time.Minute)
	e.RunDue(context.Background())
	if got := componentStatus(e, "opencode", "api"); got != StatusHealthy {
		t.Fatalf("after 2 healthy ticks status = %s, want healthy", got)
	}
}

func TestEngine_HealAttemptsCapped(t *testing.T) {
	e, now := newTestEngine(testConfig())
	p := newProbe(StatusDown, false) // heal never succeeds
	e.AddAgent("opencode", nil, []Checker{p.checker("api")})

	for i := 0; i < 6; i++ {
		e.RunDue(context.Background())
		*now = now.Add(time.Hour)
	}
	if p.heals.Load() != 3 {
		t.Errorf("heals = %d, want maxAttempts=3", p.heals.Load())
	}
}

func TestEngine_DirectRecoveryWithoutHeal(t *testing.T) {
	cfg := testConfig()
	cfg.SelfHeal.Enabled = false
	e, now := newTestEngine(cfg)
	p := newProbe(StatusDegraded, false)
	e.AddAgent("opencode", nil, []Checker{p.checker("api")})

	e.RunDue(context.Background())
	if got := componentStatus(e, "opencode", "api"); got != StatusDegraded {
		t.Fatalf("status = %s, want degraded", got)
	}

	// A healthy result with no heal in flight goes straight to healthy.
	p.status.Store(StatusHealthy)
	*now = now.Add(2 * time.Minute)
	e.RunDue(context.Background())
	if got := componentStatus(e, "opencode", "api"); got != StatusHealthy {
		t.Fatalf("status = %s, want healthy", got)
	}
}

func TestEngine_IntervalFollowsWorstComponent(t *testing.T) {
	cfg := testConfig()
	cfg.SelfHeal.Enabled = false
	e, now := newTestEngine(cfg)
	p := newProbe(StatusDown, false)
	e.AddAgent("opencode", nil, []Checker{p.checker("api")})

	start := *now
	e.RunDue(context.Background())
	snap := e.Snapshot()[0]
	if want := start.Add(15 * time.Second); !snap.NextDue.Equal(want) {
		t.Errorf("down component nextDue = %v, want critical cadence %v", snap.NextDue, want)
	}

	// Not due yet: nothing runs.
	*now = start.Add(10 * time.Second)
	e.RunDue(context.Background())
	if p.checks.Load() != 1 {
		t.Errorf("agent ticked before nextDue")
	}
}

func TestEngine_EmptyCheckBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.EmptyCheck = config.EmptyCheckConfig{Enabled: true, MaxBackoffMs: 2_000_000}
	e, now := newTestEngine(cfg)
	p := newProbe(StatusHealthy, false)
	e.AddAgent("opencode", nil, []Checker{p.checker("api")})

	wantIntervals := []time.Duration{
		300 * time.Second,  // first tick: hash recorded
		600 * time.Second,  // consecutiveEmpty=1
		1200 * time.Second, // consecutiveEmpty=2
		2000 * time.Second, // capped at maxBackoffMs
	}
	for i, want := range wantIntervals {
		start := *now
		e.RunDue(context.Background())
		got := e.Snapshot()[0].NextDue.Sub(start)
		if got != want {
			t.Fatalf("tick %d interval = %v, want %v", i, got, want)
		}
		*now = e.Snapshot()[0].NextDue
	}

	// Any status change resets the backoff.
	p.status.Store(StatusDegraded)
	start := *now
	e.RunDue(context.Background())
	if got := e.Snapshot()[0].NextDue.Sub(start); got != 60*time.Second {
		t.Errorf("after change interval = %v, want degraded cadence", got)
	}
}

func TestEngine_ActiveHoursCrossingMidnight(t *testing.T) {
	e, now := newTestEngine(testConfig())
	p := newProbe(StatusHealthy, false)
	hours := &config.ActiveHours{Start: 22, End: 6, Timezone: "UTC"}
	e.AddAgent("opencode", hours, []Checker{p.checker("api")})

	// 12:00 UTC is outside 22→06; the tick is skipped.
	e.RunDue(context.Background())
	if p.checks.Load() != 0 {
		t.Fatal("tick must be skipped outside active hours")
	}

	// 23:00 UTC is inside the wrapped window.
	*now = time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	e.RunDue(context.Background())
	if p.checks.Load() != 1 {
		t.Fatal("tick must run inside active hours")
	}

	// 05:00 UTC next day still inside.
	*now = time.Date(2026, 3, 2, 5, 30, 0, 0, time.UTC)
	e.RunDue(context.Background())
	if p.checks.Load() != 2 {
		t.Fatal("tick must run before the window closes")
	}
}

func TestEngine_BackpressureDefersTick(t *testing.T) {
	cfg := testConfig()
	cfg.Coalesce = config.CoalesceConfig{Enabled: true, CoalesceMs: 5000, RetryMs: 1000}
	pressured := true
	e := New(cfg, func() bool { return pressured })
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	p := newProbe(StatusHealthy, false)
	e.AddAgent("opencode", nil, []Checker{p.checker("api")})

	e.RunDue(context.Background())
	if p.checks.Load() != 0 {
		t.Fatal("backpressured tick must be deferred")
	}
	if got := e.Snapshot()[0].NextDue; !got.Equal(now.Add(time.Second)) {
		t.Errorf("deferred nextDue = %v, want retryMs later", got)
	}

	pressured = false
	now = now.Add(time.Second)
	e.RunDue(context.Background())
	if p.checks.Load() != 1 {
		t.Fatal("tick must run once the queue drains")
	}
}
