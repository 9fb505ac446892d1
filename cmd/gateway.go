package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/iris/internal/agentapi"
	"github.com/nextlevelbuilder/iris/internal/autoreply"
	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/channels"
	"github.com/nextlevelbuilder/iris/internal/channels/discord"
	"github.com/nextlevelbuilder/iris/internal/channels/slack"
	"github.com/nextlevelbuilder/iris/internal/channels/telegram"
	"github.com/nextlevelbuilder/iris/internal/channels/webchat"
	"github.com/nextlevelbuilder/iris/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/cron"
	"github.com/nextlevelbuilder/iris/internal/heartbeat"
	"github.com/nextlevelbuilder/iris/internal/httpapi"
	"github.com/nextlevelbuilder/iris/internal/outbound"
	"github.com/nextlevelbuilder/iris/internal/router"
	"github.com/nextlevelbuilder/iris/internal/security"
	"github.com/nextlevelbuilder/iris/internal/sessions"
)

// backpressureThreshold is the outbound queue depth at which heartbeat
// ticks are deferred.
const backpressureThreshold = 200

func gatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Gateway process management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the gateway in the foreground",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runGateway(); err != nil {
				fail(err)
			}
		},
	})
	return cmd
}

func runGateway() error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	if len(cfg.EnabledChannels()) == 0 {
		return fmt.Errorf("no channels enabled in %s", cfgPath)
	}

	stateDir := config.StateDir()
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", Version).Str("config", cfgPath).Str("state_dir", stateDir).Msg("starting iris gateway")

	// Persistent stores.
	pairingStore, err := security.NewPairingStore(stateDir, cfg.Security.PairingTTL(), cfg.Security.PairingCodeLength)
	if err != nil {
		return err
	}
	allowlistStore, err := security.NewAllowlistStore(stateDir)
	if err != nil {
		return err
	}
	sessionMap, err := sessions.NewMap(stateDir)
	if err != nil {
		return err
	}
	cronStore, err := cron.NewStore(stateDir)
	if err != nil {
		return err
	}

	// Agent backend.
	agent := agentapi.NewClient(cfg.OpenCode.BaseURL())
	if cfg.OpenCode.AutoSpawn && !agent.CheckHealth(ctx) {
		stopAgent, err := agentapi.Spawn(ctx, agent, cfg.OpenCode.Port, cfg.OpenCode.ProjectDir)
		if err != nil {
			return fmt.Errorf("auto-spawn agent: %w", err)
		}
		defer stopAgent()
	}

	registry := channels.NewRegistry(nil)
	cache := channels.NewMessageCache(0, 0)
	cache.StartSweeper(ctx)

	// Outbound deliveries resolve the adapter at send time; sent ids feed
	// the message cache so the Agent can act on them later.
	queue := outbound.NewQueue(
		func(ctx context.Context, msg bus.OutboundMessage) error {
			adapter, ok := registry.Get(msg.ChannelID)
			if !ok {
				return fmt.Errorf("unknown channel %s", msg.ChannelID)
			}
			id, err := adapter.SendText(ctx, msg.ChatID, msg.Text, channels.SendOptions{ReplyToID: msg.ReplyToID})
			if err != nil {
				return err
			}
			cache.Put(id, msg.ChannelID, msg.ChatID)
			return nil
		},
		func(channelID string) string {
			if a, ok := registry.Get(channelID); ok {
				return a.Type()
			}
			return ""
		},
	)

	limiter := security.NewRateLimiter(cfg.Security.RateLimitPerMinute, cfg.Security.RateLimitPerHour)
	gate := security.NewGate(cfg.DMPolicyFor, limiter, pairingStore, allowlistStore)

	replyEngine := autoreply.New(cfg.AutoReply)
	if err := autoreply.WatchConfig(ctx, replyEngine, cfgPath); err != nil {
		log.Warn().Err(err).Msg("auto-reply hot reload unavailable")
	}

	rtr := router.New(cfg, registry, gate, replyEngine, sessionMap, agent, queue, cache.Put)
	registry.SetSink(rtr.HandleEvent)

	var webchatAdapter *webchat.Adapter
	for _, id := range cfg.EnabledChannels() {
		chCfg := cfg.Channels[id]
		adapter, err := buildAdapter(id, chCfg, stateDir, registry.Sink())
		if err != nil {
			log.Error().Str("channel", id).Err(err).Msg("channel setup failed, skipping")
			continue
		}
		registry.Register(adapter)
		if wc, ok := adapter.(*webchat.Adapter); ok {
			webchatAdapter = wc
		}
	}

	queue.Start(ctx)
	rtr.Start(ctx)
	agent.SubscribeEvents(ctx, rtr.HandleAgentEvent)
	registry.StartAll(ctx)

	// Heartbeat engine.
	var engine *heartbeat.Engine
	if cfg.Heartbeat.Enabled {
		engine = heartbeat.New(cfg.Heartbeat, func() bool { return queue.Len() > backpressureThreshold })
		engine.AddAgent("opencode", activeHoursFor(cfg, "opencode"), []heartbeat.Checker{heartbeat.AgentAPIChecker(agent)})
		for _, id := range registry.IDs() {
			id := id
			adapter, _ := registry.Get(id)
			engine.AddAgent("channel:"+id, activeHoursFor(cfg, id), []heartbeat.Checker{
				heartbeat.ChannelChecker(id, func() bool { return registry.Connected(id) }, func(ctx context.Context) error {
					_ = adapter.Stop(ctx)
					return adapter.Start(ctx)
				}),
			})
		}
		go engine.Run(ctx)
	}

	// Cron scheduler.
	sched := cron.NewScheduler(cronStore, agent, queue, func(channelID string) int {
		if a, ok := registry.Get(channelID); ok {
			return a.Capabilities().MaxTextLength
		}
		return 0
	})
	if err := sched.Seed(cfg.Cron); err != nil {
		return fmt.Errorf("seed cron jobs: %w", err)
	}
	go sched.Run(ctx)

	// HTTP surfaces.
	health := httpapi.NewHealthServer(cfg.Gateway.Addr(), Version, registry, agent, engine)
	if webchatAdapter != nil {
		health.Mount("/webchat/ws", webchatAdapter.Handler())
	}
	go func() {
		if err := health.Start(ctx); err != nil {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	tools := httpapi.NewToolServer(cfg.Gateway.ToolServerAddr(), registry, cache, allowlistStore, sessionMap, httpapi.NewResourceStore(stateDir))
	go func() {
		if err := tools.Start(ctx); err != nil {
			log.Error().Err(err).Msg("tool server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	registry.StopAll(shutdownCtx)
	return nil
}

func buildAdapter(id string, chCfg config.ChannelConfig, stateDir string, sink bus.EventSink) (channels.Adapter, error) {
	switch config.TrimmedType(chCfg.Type) {
	case "telegram":
		return telegram.New(id, chCfg, sink)
	case "discord":
		return discord.New(id, chCfg, sink)
	case "whatsapp":
		return whatsapp.New(id, chCfg, stateDir, sink)
	case "slack":
		return slack.New(id, chCfg, sink)
	case "webchat":
		return webchat.New(id, chCfg, sink)
	default:
		return nil, fmt.Errorf("unknown channel type %q", chCfg.Type)
	}
}

func activeHoursFor(cfg *config.Config, agentID string) *config.ActiveHours {
	for _, a := range cfg.Heartbeat.Agents {
		if a.AgentID == agentID {
			return a.ActiveHours
		}
	}
	return nil
}
