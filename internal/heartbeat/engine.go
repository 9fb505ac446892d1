// Package heartbeat runs periodic health checks over named components and
// drives self-healing with bounded attempts and recovery confirmation.
package heartbeat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/config"
)

// Status of one monitored component.
type Status string

const (
	StatusHealthy    Status = "healthy"
	StatusDegraded   Status = "degraded"
	StatusDown       Status = "down"
	StatusRecovering Status = "recovering"
)

// CheckResult is one probe outcome.
type CheckResult struct {
	Status  Status
	Latency time.Duration
	Details string
}

// Checker probes one component. Heal is optional; returning true means the
// heal action was applied and the component should be watched for recovery.
type Checker struct {
	Name  string
	Check func(ctx context.Context) CheckResult
	Heal  func(ctx context.Context) bool
}

// ComponentState is a snapshot of one component's tracked state.
type ComponentState struct {
	Name                    string        `json:"name"`
	Status                  Status        `json:"status"`
	Latency                 time.Duration `json:"latencyMs"`
	Details                 string        `json:"details,omitempty"`
	HealAttempts            int           `json:"healAttempts"`
	ConsecutiveHealthyTicks int           `json:"consecutiveHealthyTicks"`
	LastChecked             time.Time     `json:"lastChecked"`
}

// AgentSnapshot is the externally visible state of one monitored agent.
type AgentSnapshot struct {
	AgentID    string           `json:"agentId"`
	Components []ComponentState `json:"components"`
	NextDue    time.Time        `json:"nextDue"`
}

type agent struct {
	id          string
	checkers    []Checker
	activeHours *config.ActiveHours
	components  map[string]*ComponentState

	nextDue          time.Time
	lastTick         time.Time
	consecutiveEmpty int
	prevHash         string
}

// Engine schedules all agents on one common ticker. Each agent ticks only
// when due; the tick cadence follows its aggregate health.
type Engine struct {
	cfg          config.HeartbeatConfig
	backpressure func() bool // true = defer ticks until the queue drains

	mu     sync.Mutex
	agents map[string]*agent
	now    func() time.Time
}

// New creates an engine. backpressure may be nil.
func New(cfg config.HeartbeatConfig, backpressure func() bool) *Engine {
	return &Engine{
		cfg:          cfg,
		backpressure: backpressure,
		agents:       make(map[string]*agent),
		now:          time.Now,
	}
}

// AddAgent registers a monitored agent with its checkers.
func (e *Engine) AddAgent(id string, activeHours *config.ActiveHours, checkers []Checker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := &agent{
		id:          id,
		checkers:    checkers,
		activeHours: activeHours,
		components:  make(map[string]*ComponentState),
		nextDue:     e.now(),
	}
	for _, c := range checkers {
		a.components[c.Name] = &ComponentState{Name: c.Name, Status: StatusHealthy}
	}
	e.agents[id] = a
}

// Run drives the common ticker until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	if !e.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunDue(ctx)
		}
	}
}

// RunDue ticks every agent whose nextDue has passed. Exposed for tests.
func (e *Engine) RunDue(ctx context.Context) {
	now := e.now()

	e.mu.Lock()
	var due []*agent
	for _, a := range e.agents {
		if now.Before(a.nextDue) {
			continue
		}
		if !e.inActiveHours(a, now) {
			// Skip the tick but keep the cadence so the window re-check
			// happens at the normal interval.
			a.nextDue = now.Add(e.interval(a))
			continue
		}
		if e.cfg.Coalesce.Enabled {
			if coalesce := time.Duration(e.cfg.Coalesce.CoalesceMs) * time.Millisecond; coalesce > 0 && now.Sub(a.lastTick) < coalesce {
				continue
			}
			if e.backpressure != nil && e.backpressure() {
				a.nextDue = now.Add(time.Duration(e.cfg.Coalesce.RetryMs) * time.Millisecond)
				continue
			}
		}
		a.lastTick = now
		due = append(due, a)
	}
	e.mu.Unlock()

	for _, a := range due {
		e.tick(ctx, a)
	}
}

// tick runs all checkers for one agent and applies the state machine.
func (e *Engine) tick(ctx context.Context, a *agent) {
	results := make(map[string]CheckResult, len(a.checkers))
	for _, c := range a.checkers {
		results[c.Name] = c.Check(ctx)
	}
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range a.checkers {
		state := a.components[c.Name]
		res := results[c.Name]
		e.applyResult(state, res, now)

		if e.cfg.SelfHeal.Enabled &&
			(state.Status == StatusDown || state.Status == StatusDegraded) &&
			state.HealAttempts < e.cfg.SelfHeal.MaxAttempts &&
			c.Heal != nil {
			log.Warn().
				Str("agent", a.id).
				Str("component", c.Name).
				Str("status", string(state.Status)).
				Int("attempt", state.HealAttempts+1).
				Msg("invoking self-heal")
			state.HealAttempts++
			if c.Heal(ctx) {
				state.Status = StatusRecovering
				state.ConsecutiveHealthyTicks = 0
			}
		}
	}

	interval := e.interval(a)
	if e.cfg.EmptyCheck.Enabled {
		interval = e.applyEmptyCheck(a, results, interval)
	}
	a.nextDue = now.Add(interval)
}

func (e *Engine) applyResult(state *ComponentState, res CheckResult, now time.Time) {
	prev := state.Status
	state.Latency = res.Latency
	state.Details = res.Details
	state.LastChecked = now

	switch res.Status {
	case StatusHealthy:
		switch prev {
		case StatusHealthy:
			state.HealAttempts = 0
		case StatusRecovering:
			state.ConsecutiveHealthyTicks++
			if state.ConsecutiveHealthyTicks >= e.cfg.SelfHeal.BackoffTicks {
				state.Status = StatusHealthy
				state.HealAttempts = 0
			}
		default: // degraded or down, without a heal in flight
			state.Status = StatusHealthy
			state.ConsecutiveHealthyTicks++
		}
	default:
		state.Status = res.Status
		state.ConsecutiveHealthyTicks = 0
	}
}

// interval picks the cadence from the worst component status.
func (e *Engine) interval(a *agent) time.Duration {
	anyDown, anyDegraded := false, false
	for _, s := range a.components {
		switch s.Status {
		case StatusDown:
			anyDown = true
		case StatusDegraded, StatusRecovering:
			anyDegraded = true
		}
	}
	iv := e.cfg.Intervals
	switch {
	case anyDown:
		return time.Duration(iv.CriticalMs) * time.Millisecond
	case anyDegraded:
		return time.Duration(iv.DegradedMs) * time.Millisecond
	default:
		return time.Duration(iv.HealthyMs) * time.Millisecond
	}
}

// applyEmptyCheck stretches the interval exponentially while every check
// stays healthy and the result set is unchanged.
func (e *Engine) applyEmptyCheck(a *agent, results map[string]CheckResult, base time.Duration) time.Duration {
	allHealthy := true
	for _, r := range results {
		if r.Status != StatusHealthy {
			allHealthy = false
			break
		}
	}
	hash := resultHash(results)
	if !allHealthy || hash != a.prevHash {
		a.consecutiveEmpty = 0
		a.prevHash = hash
		return base
	}

	a.consecutiveEmpty++
	backoff := base
	for i := 0; i < a.consecutiveEmpty; i++ {
		backoff *= 2
		if maxB := time.Duration(e.cfg.EmptyCheck.MaxBackoffMs) * time.Millisecond; maxB > 0 && backoff >= maxB {
			return maxB
		}
	}
	return backoff
}

func resultHash(results map[string]CheckResult) string {
	pairs := make([]string, 0, len(results))
	for name, r := range results {
		pairs = append(pairs, name+"="+string(r.Status))
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, ",")))
	return hex.EncodeToString(sum[:8])
}

// inActiveHours reports whether now falls inside the agent's window.
// Windows crossing midnight (start > end) wrap.
func (e *Engine) inActiveHours(a *agent, now time.Time) bool {
	ah := a.activeHours
	if ah == nil {
		return true
	}
	loc := time.Local
	if ah.Timezone != "" {
		if l, err := time.LoadLocation(ah.Timezone); err == nil {
			loc = l
		}
	}
	hour := now.In(loc).Hour()
	if ah.Start == ah.End {
		return true
	}
	if ah.Start < ah.End {
		return hour >= ah.Start && hour < ah.End
	}
	return hour >= ah.Start || hour < ah.End
}

// Snapshot returns the current state of every agent, sorted by id.
func (e *Engine) Snapshot() []AgentSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AgentSnapshot, 0, len(e.agents))
	for _, a := range e.agents {
		snap := AgentSnapshot{AgentID: a.id, NextDue: a.nextDue}
		for _, c := range a.checkers {
			snap.Components = append(snap.Components, *a.components[c.Name])
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Healthy reports whether no component of any agent is down.
func (e *Engine) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.agents {
		for _, s := range a.components {
			if s.Status == StatusDown {
				return false
			}
		}
	}
	return true
}
