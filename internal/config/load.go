package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Default returns a Config with spec defaults applied.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port:     19876,
			Hostname: "127.0.0.1",
		},
		Channels: map[string]ChannelConfig{},
		Security: SecurityConfig{
			DefaultDMPolicy:    "pairing",
			PairingCodeTTLMs:   3_600_000,
			PairingCodeLength:  8,
			RateLimitPerMinute: 30,
			RateLimitPerHour:   300,
		},
		OpenCode: OpenCodeConfig{
			Port:     4096,
			Hostname: "127.0.0.1",
		},
		Heartbeat: HeartbeatConfig{
			Intervals: HeartbeatIntervals{
				HealthyMs:  300_000,
				DegradedMs: 60_000,
				CriticalMs: 15_000,
			},
			SelfHeal:   SelfHealConfig{Enabled: true, MaxAttempts: 3, BackoffTicks: 2},
			EmptyCheck: EmptyCheckConfig{MaxBackoffMs: 1_800_000},
			Coalesce:   CoalesceConfig{CoalesceMs: 5_000, RetryMs: 2_000},
		},
	}
}

// ResolvePath returns the config file path, honoring IRIS_CONFIG_PATH.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("IRIS_CONFIG_PATH"); v != "" {
		return v
	}
	return "iris.config.json"
}

// Load reads config from a JSON file and substitutes ${env:NAME} references.
// A missing file yields defaults; a malformed file or unset env reference
// is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	data, err = substituteEnv(data)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// envRefPattern matches ${env:NAME} inside string values.
var envRefPattern = regexp.MustCompile(`\$\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces ${env:NAME} with the environment value, failing
// when the variable is unset. Substitution happens on the raw bytes before
// JSON decode, with the replacement JSON-escaped.
func substituteEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envRefPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(envRefPattern.FindSubmatch(m)[1])
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		escaped, _ := json.Marshal(val)
		// Strip the surrounding quotes: the reference sits inside a JSON string.
		return escaped[1 : len(escaped)-1]
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("config references unset environment variable %s", missing[0])
	}
	return out, nil
}

// Validate checks invariants a running gateway depends on. Unknown channel
// types, bad policies and out-of-range ports fail fast instead of surfacing
// as runtime errors later.
func (c *Config) Validate() error {
	if c.Gateway.Port < 0 || c.Gateway.Port > 65534 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if c.OpenCode.Port <= 0 || c.OpenCode.Port > 65535 {
		return fmt.Errorf("opencode.port %d out of range", c.OpenCode.Port)
	}
	for id, ch := range c.Channels {
		switch TrimmedType(ch.Type) {
		case "telegram", "whatsapp", "discord", "slack", "webchat":
		default:
			return fmt.Errorf("channel %q: unknown type %q", id, ch.Type)
		}
		switch ch.DMPolicy {
		case "", "open", "pairing", "allowlist", "disabled":
		default:
			return fmt.Errorf("channel %q: invalid dmPolicy %q", id, ch.DMPolicy)
		}
		if s := ch.Streaming; s != nil {
			switch s.BreakOn {
			case "", "paragraph", "sentence", "word":
			default:
				return fmt.Errorf("channel %q: invalid streaming.breakOn %q", id, s.BreakOn)
			}
		}
		if !ch.Enabled {
			continue
		}
		switch TrimmedType(ch.Type) {
		case "telegram", "discord":
			if ch.Token == "" {
				return fmt.Errorf("channel %q: token is required", id)
			}
		case "slack":
			// slack-go accepts the legacy token field in place of botToken.
			if (ch.BotToken == "" && ch.Token == "") || ch.AppToken == "" {
				return fmt.Errorf("channel %q: botToken and appToken are required", id)
			}
		}
	}
	switch c.Security.DefaultDMPolicy {
	case "", "open", "pairing", "allowlist", "disabled":
	default:
		return fmt.Errorf("invalid security.defaultDmPolicy %q", c.Security.DefaultDMPolicy)
	}
	for _, job := range c.Cron {
		if job.Name == "" {
			return fmt.Errorf("cron job without a name")
		}
		if job.Schedule == "" {
			return fmt.Errorf("cron job %q: schedule is required", job.Name)
		}
	}
	for _, hb := range c.Heartbeat.Agents {
		if ah := hb.ActiveHours; ah != nil {
			if ah.Start < 0 || ah.Start > 23 || ah.End < 0 || ah.End > 23 {
				return fmt.Errorf("heartbeat agent %q: activeHours out of range", hb.AgentID)
			}
		}
	}
	return nil
}
