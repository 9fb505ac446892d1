package heartbeat

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/iris/internal/agentapi"
)

// Degraded latency threshold for the Agent API probe.
const slowAgentThreshold = 2 * time.Second

// AgentAPIChecker probes the Agent health endpoint. There is no in-process
// heal for an external server, so recovery is observation-only.
func AgentAPIChecker(client *agentapi.Client) Checker {
	return Checker{
		Name: "agent-api",
		Check: func(ctx context.Context) CheckResult {
			start := time.Now()
			ok := client.CheckHealth(ctx)
			latency := time.Since(start)
			switch {
			case !ok:
				return CheckResult{Status: StatusDown, Latency: latency, Details: "health endpoint unreachable"}
			case latency > slowAgentThreshold:
				return CheckResult{Status: StatusDegraded, Latency: latency, Details: "slow health response"}
			default:
				return CheckResult{Status: StatusHealthy, Latency: latency}
			}
		},
	}
}

// ChannelChecker watches one adapter's connection flag and heals by
// restarting the adapter.
func ChannelChecker(name string, connected func() bool, restart func(ctx context.Context) error) Checker {
	c := Checker{
		Name: name,
		Check: func(context.Context) CheckResult {
			if connected() {
				return CheckResult{Status: StatusHealthy}
			}
			return CheckResult{Status: StatusDown, Details: "transport disconnected"}
		},
	}
	if restart != nil {
		c.Heal = func(ctx context.Context) bool {
			return restart(ctx) == nil
		}
	}
	return c
}
