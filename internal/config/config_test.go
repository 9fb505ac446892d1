package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iris.config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 19876 {
		t.Errorf("gateway port = %d", cfg.Gateway.Port)
	}
	if cfg.Security.DefaultDMPolicy != "pairing" {
		t.Errorf("default dm policy = %q", cfg.Security.DefaultDMPolicy)
	}
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "123:abc")
	path := writeConfig(t, `{
		"channels": {
			"telegram": {"type": "telegram", "enabled": true, "token": "${env:TEST_BOT_TOKEN}"}
		}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Channels["telegram"].Token; got != "123:abc" {
		t.Errorf("token = %q", got)
	}
}

func TestLoad_UnsetEnvReferenceFails(t *testing.T) {
	path := writeConfig(t, `{"channels": {"t": {"type": "telegram", "token": "${env:IRIS_TEST_NEVER_SET}"}}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unset env reference")
	}
}

func TestDMPolicyFor(t *testing.T) {
	cfg := Default()
	cfg.Security.DefaultDMPolicy = "allowlist"
	cfg.Channels = map[string]ChannelConfig{
		"tg":   {Type: "telegram", DMPolicy: "open"},
		"disc": {Type: "discord"},
	}

	if got := cfg.DMPolicyFor("tg"); got != "open" {
		t.Errorf("channel override = %q", got)
	}
	if got := cfg.DMPolicyFor("disc"); got != "allowlist" {
		t.Errorf("default fallback = %q", got)
	}
	if got := cfg.DMPolicyFor("unknown"); got != "allowlist" {
		t.Errorf("unknown channel = %q", got)
	}
}

func TestEnabledChannels_Sorted(t *testing.T) {
	cfg := Default()
	cfg.Channels = map[string]ChannelConfig{
		"zeta":  {Type: "webchat", Enabled: true},
		"alpha": {Type: "webchat", Enabled: true},
		"off":   {Type: "webchat"},
	}
	ids := cfg.EnabledChannels()
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "zeta" {
		t.Errorf("ids = %v", ids)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(*Config) {}, false},
		{"unknown channel type", func(c *Config) {
			c.Channels["x"] = ChannelConfig{Type: "irc", Enabled: true}
		}, true},
		{"unknown dm policy", func(c *Config) {
			c.Channels["x"] = ChannelConfig{Type: "webchat", DMPolicy: "maybe"}
		}, true},
		{"enabled telegram without token", func(c *Config) {
			c.Channels["x"] = ChannelConfig{Type: "telegram", Enabled: true}
		}, true},
		{"enabled slack without app token", func(c *Config) {
			c.Channels["x"] = ChannelConfig{Type: "slack", Enabled: true, BotToken: "xoxb-1"}
		}, true},
		{"disabled channel needs no token", func(c *Config) {
			c.Channels["x"] = ChannelConfig{Type: "telegram"}
		}, false},
		{"invalid streaming breakOn", func(c *Config) {
			c.Channels["x"] = ChannelConfig{Type: "webchat", Streaming: &StreamingConfig{BreakOn: "comma"}}
		}, true},
		{"slack legacy token accepted", func(c *Config) {
			c.Channels["x"] = ChannelConfig{Type: "slack", Enabled: true, Token: "xoxb-1", AppToken: "xapp-1"}
		}, false},
		{"cron job without schedule", func(c *Config) {
			c.Cron = []CronJobConfig{{Name: "daily", Prompt: "hi"}}
		}, true},
		{"cron job without name", func(c *Config) {
			c.Cron = []CronJobConfig{{Schedule: "0 9 * * *", Prompt: "hi"}}
		}, true},
		{"active hours out of range", func(c *Config) {
			c.Heartbeat.Agents = []HeartbeatAgentConfig{{AgentID: "a", ActiveHours: &ActiveHours{Start: 25}}}
		}, true},
		{"bad opencode port", func(c *Config) {
			c.OpenCode.Port = 0
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToolServerAddr(t *testing.T) {
	g := GatewayConfig{Port: 19876, Hostname: "127.0.0.1"}
	if got := g.Addr(); got != "127.0.0.1:19876" {
		t.Errorf("Addr = %q", got)
	}
	if got := g.ToolServerAddr(); got != "127.0.0.1:19877" {
		t.Errorf("ToolServerAddr = %q", got)
	}
}
