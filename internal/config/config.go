// Package config defines the iris.config.json schema and loader.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the Iris gateway.
type Config struct {
	Gateway   GatewayConfig            `json:"gateway"`
	Channels  map[string]ChannelConfig `json:"channels"`
	Security  SecurityConfig           `json:"security"`
	OpenCode  OpenCodeConfig           `json:"opencode"`
	Cron      []CronJobConfig          `json:"cron,omitempty"`
	Logging   LoggingConfig            `json:"logging"`
	Heartbeat HeartbeatConfig          `json:"heartbeat"`
	AutoReply AutoReplyConfig          `json:"autoReply"`
	Canvas    map[string]any           `json:"canvas,omitempty"`
	MCP       map[string]any           `json:"mcp,omitempty"`
}

// GatewayConfig configures the read-only health/metrics HTTP server.
type GatewayConfig struct {
	Port     int    `json:"port"`
	Hostname string `json:"hostname"`
}

// ToolServerConfig is derived from the gateway block; the tool server
// binds to the next port up unless overridden.
func (g GatewayConfig) ToolServerAddr() string {
	return joinHostPort(g.Hostname, g.Port+1)
}

func (g GatewayConfig) Addr() string {
	return joinHostPort(g.Hostname, g.Port)
}

func joinHostPort(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return host + ":" + strconv.Itoa(port)
}

// ChannelConfig configures one channel adapter instance.
type ChannelConfig struct {
	Type           string           `json:"type"` // telegram|whatsapp|discord|slack|webchat
	Enabled        bool             `json:"enabled"`
	Token          string           `json:"token,omitempty"`
	AppToken       string           `json:"appToken,omitempty"`
	BotToken       string           `json:"botToken,omitempty"`
	DMPolicy       string           `json:"dmPolicy,omitempty"` // overrides security.defaultDmPolicy
	GroupPolicy    *GroupPolicy     `json:"groupPolicy,omitempty"`
	MentionPattern string           `json:"mentionPattern,omitempty"`
	MaxTextLength  int              `json:"maxTextLength,omitempty"`
	Streaming      *StreamingConfig `json:"streaming,omitempty"`
}

// GroupPolicy gates group-chat traffic.
type GroupPolicy struct {
	Enabled         bool     `json:"enabled"`
	RequireMention  bool     `json:"requireMention"`
	AllowedCommands []string `json:"allowedCommands,omitempty"`
}

// StreamingConfig configures the per-channel response coalescer.
type StreamingConfig struct {
	Enabled     bool   `json:"enabled"`
	MinChars    int    `json:"minChars,omitempty"`
	MaxChars    int    `json:"maxChars,omitempty"`
	IdleMs      int    `json:"idleMs,omitempty"`
	BreakOn     string `json:"breakOn,omitempty"` // paragraph|sentence|word
	EditInPlace bool   `json:"editInPlace,omitempty"`
}

// SecurityConfig controls DM admission.
type SecurityConfig struct {
	DefaultDMPolicy    string `json:"defaultDmPolicy"`
	PairingCodeTTLMs   int64  `json:"pairingCodeTtlMs"`
	PairingCodeLength  int    `json:"pairingCodeLength"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute"`
	RateLimitPerHour   int    `json:"rateLimitPerHour"`
}

// PairingTTL returns the pairing-code lifetime as a duration.
func (s SecurityConfig) PairingTTL() time.Duration {
	return time.Duration(s.PairingCodeTTLMs) * time.Millisecond
}

// OpenCodeConfig locates the Agent backend.
type OpenCodeConfig struct {
	Port       int    `json:"port"`
	Hostname   string `json:"hostname"`
	AutoSpawn  bool   `json:"autoSpawn"`
	ProjectDir string `json:"projectDir,omitempty"`
}

func (o OpenCodeConfig) BaseURL() string {
	host := o.Hostname
	if host == "" {
		host = "127.0.0.1"
	}
	return "http://" + host + ":" + strconv.Itoa(o.Port)
}

// CronJobConfig is a cron job seeded from config (merged into the persisted store).
type CronJobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
	Channel  string `json:"channel"`
	ChatID   string `json:"chatId"`
	Enabled  bool   `json:"enabled"`
}

// LoggingConfig selects level, optional file sink, and JSON formatting.
type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	File  string `json:"file,omitempty"`
	JSON  bool   `json:"json,omitempty"`
}

// HeartbeatConfig configures the self-heal engine.
type HeartbeatConfig struct {
	Enabled    bool                   `json:"enabled"`
	Intervals  HeartbeatIntervals     `json:"intervals"`
	SelfHeal   SelfHealConfig         `json:"selfHeal"`
	EmptyCheck EmptyCheckConfig       `json:"emptyCheck"`
	Coalesce   CoalesceConfig         `json:"coalesce"`
	Agents     []HeartbeatAgentConfig `json:"agents,omitempty"`
}

// HeartbeatIntervals are tick intervals keyed by aggregate health, in ms.
type HeartbeatIntervals struct {
	HealthyMs  int64 `json:"healthyMs"`
	DegradedMs int64 `json:"degradedMs"`
	CriticalMs int64 `json:"criticalMs"`
}

type SelfHealConfig struct {
	Enabled      bool `json:"enabled"`
	MaxAttempts  int  `json:"maxAttempts"`
	BackoffTicks int  `json:"backoffTicks"`
}

type EmptyCheckConfig struct {
	Enabled      bool  `json:"enabled"`
	MaxBackoffMs int64 `json:"maxBackoffMs"`
}

type CoalesceConfig struct {
	Enabled    bool  `json:"enabled"`
	CoalesceMs int64 `json:"coalesceMs"`
	RetryMs    int64 `json:"retryMs"`
}

// HeartbeatAgentConfig declares one monitored agent.
type HeartbeatAgentConfig struct {
	AgentID     string       `json:"agentId"`
	ActiveHours *ActiveHours `json:"activeHours,omitempty"`
}

// ActiveHours is a wall-clock window; windows may cross midnight.
type ActiveHours struct {
	Start    int    `json:"start"` // hour 0-23, inclusive
	End      int    `json:"end"`   // hour 0-23, exclusive
	Timezone string `json:"timezone,omitempty"`
}

// AutoReplyConfig holds the template list.
type AutoReplyConfig struct {
	Enabled   bool                `json:"enabled"`
	Templates []AutoReplyTemplate `json:"templates,omitempty"`
}

// AutoReplyTemplate is one trigger/response rule.
type AutoReplyTemplate struct {
	Name        string   `json:"name"`
	Priority    int      `json:"priority,omitempty"`
	Trigger     string   `json:"trigger"` // exact|regex|keyword|command|schedule
	Pattern     string   `json:"pattern,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Command     string   `json:"command,omitempty"`
	Hours       []int    `json:"hours,omitempty"` // [start, end) for schedule trigger
	Days        []int    `json:"days,omitempty"`  // 0=Sunday..6 for schedule trigger
	Channels    []string `json:"channels,omitempty"`
	ChatTypes   []string `json:"chatTypes,omitempty"`
	Response    string   `json:"response"`
	CooldownMs  int64    `json:"cooldownMs,omitempty"`
	Once        bool     `json:"once,omitempty"`
	ForwardToAI bool     `json:"forwardToAi,omitempty"`
}

// StateDir returns the state directory, honoring IRIS_STATE_DIR.
func StateDir() string {
	if v := os.Getenv("IRIS_STATE_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".iris"
	}
	return filepath.Join(home, ".iris")
}

// EnabledChannels returns ids of enabled channels, sorted for stable iteration.
func (c *Config) EnabledChannels() []string {
	var ids []string
	for id, ch := range c.Channels {
		if ch.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DMPolicyFor resolves the effective DM policy for a channel.
func (c *Config) DMPolicyFor(channelID string) string {
	if ch, ok := c.Channels[channelID]; ok && ch.DMPolicy != "" {
		return ch.DMPolicy
	}
	if c.Security.DefaultDMPolicy != "" {
		return c.Security.DefaultDMPolicy
	}
	return "pairing"
}

// TrimmedType normalizes a channel type string.
func TrimmedType(t string) string { return strings.ToLower(strings.TrimSpace(t)) }
