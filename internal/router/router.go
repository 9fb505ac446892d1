// Package router orchestrates the inbound pipeline: admission, mention
// gating, session resolution, and the Agent round trip, plus fan-in of Agent
// stream events back to channels.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/agentapi"
	"github.com/nextlevelbuilder/iris/internal/autoreply"
	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/channels"
	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/security"
	"github.com/nextlevelbuilder/iris/internal/sessions"
	"github.com/nextlevelbuilder/iris/internal/stream"
	"github.com/nextlevelbuilder/iris/internal/textsplit"
)

const (
	pendingTTL    = 5 * time.Minute
	sweepInterval = time.Minute

	// An unpaired sender gets at most one pairing-code reply per minute no
	// matter how much they keep typing.
	pairingReplyDebounce = time.Minute

	resetReply = "Session reset. Send a message to start fresh."
)

// PendingResponse remembers where a non-streaming Agent response must go.
type PendingResponse struct {
	ChannelID string
	ChatID    string
	ReplyToID string
	CreatedAt time.Time
}

// SentRecorder is notified of every message the router sends directly, so
// the message cache can resolve later edit/delete requests.
type SentRecorder func(messageID, channelID, chatID string)

// Enqueuer is the outbound queue surface the router needs.
type Enqueuer interface {
	Enqueue(msg bus.OutboundMessage)
}

// Router wires the pipeline. One instance serves all channels.
type Router struct {
	cfg       *config.Config
	registry  *channels.Registry
	gate      *security.Gate
	autoReply *autoreply.Engine
	sessions  *sessions.Map
	agent     *agentapi.Client
	queue     Enqueuer
	onSent    SentRecorder

	ctx context.Context

	mu             sync.Mutex
	pending        map[string]PendingResponse
	coalescers     map[string]*stream.Coalescer
	pairingReplied map[string]time.Time // channel:sender → last pairing reply
	now            func() time.Time
}

// New creates a router. onSent may be nil.
func New(cfg *config.Config, registry *channels.Registry, gate *security.Gate, autoReply *autoreply.Engine, sessionMap *sessions.Map, agent *agentapi.Client, queue Enqueuer, onSent SentRecorder) *Router {
	return &Router{
		cfg:            cfg,
		registry:       registry,
		gate:           gate,
		autoReply:      autoReply,
		sessions:       sessionMap,
		agent:          agent,
		queue:          queue,
		onSent:         onSent,
		ctx:            context.Background(),
		pending:        make(map[string]PendingResponse),
		coalescers:     make(map[string]*stream.Coalescer),
		pairingReplied: make(map[string]time.Time),
		now:            time.Now,
	}
}

// Start installs the base context and begins the pending-response sweeper.
func (r *Router) Start(ctx context.Context) {
	r.ctx = ctx
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepPending()
			}
		}
	}()
}

// HandleEvent consumes one adapter event. Messages are routed on their own
// goroutine so a slow Agent call never blocks an adapter's receive loop.
func (r *Router) HandleEvent(ev bus.AdapterEvent) {
	switch ev.Kind {
	case bus.EventMessage:
		if ev.Message != nil {
			msg := *ev.Message
			go r.route(msg)
		}
	case bus.EventError:
		log.Error().Str("channel", ev.ChannelID).Err(ev.Err).Msg("channel error")
	}
}

func (r *Router) route(msg bus.InboundMessage) {
	adapter, ok := r.registry.Get(msg.ChannelID)
	if !ok {
		log.Warn().Str("channel", msg.ChannelID).Msg("message from unknown channel")
		return
	}
	chCfg := r.cfg.Channels[msg.ChannelID]

	// Group traffic is off unless the channel opts in.
	if msg.ChatType == bus.ChatGroup && (chCfg.GroupPolicy == nil || !chCfg.GroupPolicy.Enabled) {
		return
	}

	decision := r.gate.Check(msg.ChannelID, msg.SenderID, msg.SenderName)
	if !decision.Allowed {
		log.Debug().
			Str("channel", msg.ChannelID).
			Str("sender", msg.SenderID).
			Str("reason", decision.Reason).
			Msg("message rejected")
		if decision.Message != "" && r.shouldSendRejection(msg, decision) {
			r.reply(msg, decision.Message)
		}
		return
	}

	text := msg.Text
	if msg.ChatType == bus.ChatGroup {
		requireMention := chCfg.GroupPolicy.RequireMention
		botID := r.botID(adapter)
		if !channels.ShouldProcessGroupMessage(msg, requireMention, chCfg.MentionPattern, botID) {
			return
		}
		if requireMention {
			text = channels.StripMention(text, chCfg.MentionPattern, botID)
		}
	}

	trimmed := strings.ToLower(strings.TrimSpace(text))
	key := sessions.Key(msg.ChannelID, msg.ChatID, msg.SenderID, msg.ChatType)

	if trimmed == "/new" || trimmed == "/start" {
		if _, err := r.sessions.Reset(key); err != nil {
			log.Error().Str("key", key).Err(err).Msg("session reset failed")
		}
		r.reply(msg, resetReply)
		return
	}

	if msg.ChatType == bus.ChatGroup && !commandAllowed(text, chCfg.GroupPolicy.AllowedCommands) {
		return
	}

	if m, ok := r.autoReply.Match(msg); ok {
		r.reply(msg, m.Response)
		if !m.ForwardToAI {
			return
		}
	}

	sessionID, created, err := r.sessions.Resolve(r.ctx, key, sessionTitle(msg), func(ctx context.Context, title string) (string, error) {
		sess, err := r.agent.CreateSession(ctx, title)
		if err != nil {
			return "", err
		}
		return sess.ID, nil
	})
	if err != nil {
		log.Error().Str("key", key).Err(err).Msg("session resolve failed")
		return
	}
	if created {
		log.Info().Str("key", key).Str("session", sessionID).Msg("created agent session")
	}

	r.mu.Lock()
	r.pending[sessionID] = PendingResponse{
		ChannelID: msg.ChannelID,
		ChatID:    msg.ChatID,
		ReplyToID: msg.ID,
		CreatedAt: r.now(),
	}
	r.mu.Unlock()

	if adapter.Capabilities().Typing {
		if ts, ok := adapter.(channels.TypingSender); ok {
			go func() {
				if err := ts.SendTyping(r.ctx, msg.ChatID); err != nil {
					log.Debug().Str("channel", msg.ChannelID).Err(err).Msg("typing indicator failed")
				}
			}()
		}
	}

	if chCfg.Streaming != nil && chCfg.Streaming.Enabled {
		r.installCoalescer(sessionID, adapter, msg, *chCfg.Streaming)
	}

	if err := r.agent.SendMessageAsync(r.ctx, sessionID, text); err != nil {
		log.Error().Str("session", sessionID).Err(err).Msg("agent send failed")
		r.dropSession(sessionID, true)
	}
}

// HandleAgentEvent consumes one Agent stream event.
func (r *Router) HandleAgentEvent(ev agentapi.Event) {
	switch ev.Type {
	case agentapi.EventPartial:
		r.mu.Lock()
		c := r.coalescers[ev.SessionID]
		r.mu.Unlock()
		if c != nil {
			c.Append(ev.Delta)
		}

	case agentapi.EventResponse:
		r.mu.Lock()
		c := r.coalescers[ev.SessionID]
		pending, hasPending := r.pending[ev.SessionID]
		delete(r.coalescers, ev.SessionID)
		delete(r.pending, ev.SessionID)
		r.mu.Unlock()

		if c != nil {
			// Streamed already; End flushes whatever residue is left.
			c.End()
			return
		}
		if !hasPending {
			log.Debug().Str("session", ev.SessionID).Msg("response with no pending destination")
			return
		}
		if strings.TrimSpace(ev.Text) == "" {
			return
		}
		r.deliverChunked(pending, ev.Text)

	case agentapi.EventError:
		log.Error().Str("session", ev.SessionID).Str("error", ev.Error).Msg("agent run failed")
		r.dropSession(ev.SessionID, true)
	}
}

// deliverChunked splits a whole response per the channel's limit and
// enqueues the chunks; only the first chunk replies to the inbound message.
func (r *Router) deliverChunked(p PendingResponse, text string) {
	max := 0
	if adapter, ok := r.registry.Get(p.ChannelID); ok {
		max = adapter.Capabilities().MaxTextLength
	}
	if max <= 0 {
		max = textsplit.TelegramMax
	}
	for i, chunk := range textsplit.Chunk(text, max) {
		out := bus.OutboundMessage{ChannelID: p.ChannelID, ChatID: p.ChatID, Text: chunk}
		if i == 0 {
			out.ReplyToID = p.ReplyToID
		}
		r.queue.Enqueue(out)
	}
}

// installCoalescer wires a per-session coalescer that sends flushes straight
// through the adapter, editing the first sent message in place when
// configured and supported.
func (r *Router) installCoalescer(sessionID string, adapter channels.Adapter, msg bus.InboundMessage, sc config.StreamingConfig) {
	caps := adapter.Capabilities()
	editInPlace := sc.EditInPlace && caps.Edit
	editor, _ := adapter.(channels.Editor)
	if editor == nil {
		editInPlace = false
	}

	var firstID string
	onFlush := func(f stream.Flush) {
		if f.IsEdit && firstID != "" {
			text := f.Text
			if caps.MaxTextLength > 0 && len(text) > caps.MaxTextLength {
				text = textsplit.Chunk(text, caps.MaxTextLength)[0]
			}
			if err := editor.EditMessage(r.ctx, msg.ChatID, firstID, text); err != nil {
				log.Warn().Str("channel", msg.ChannelID).Err(err).Msg("streaming edit failed")
			}
			return
		}
		opts := channels.SendOptions{}
		if firstID == "" {
			opts.ReplyToID = msg.ID
		}
		id, err := adapter.SendText(r.ctx, msg.ChatID, f.Text, opts)
		if err != nil {
			log.Warn().Str("channel", msg.ChannelID).Err(err).Msg("streaming send failed")
			return
		}
		if firstID == "" {
			firstID = id
		}
		if r.onSent != nil {
			r.onSent(id, msg.ChannelID, msg.ChatID)
		}
	}

	maxChars := sc.MaxChars
	if caps.MaxTextLength > 0 && (maxChars <= 0 || maxChars > caps.MaxTextLength) {
		maxChars = caps.MaxTextLength
	}
	c := stream.New(stream.Options{
		MinChars:    sc.MinChars,
		MaxChars:    maxChars,
		Idle:        time.Duration(sc.IdleMs) * time.Millisecond,
		BreakOn:     sc.BreakOn,
		EditInPlace: editInPlace,
	}, onFlush)

	r.mu.Lock()
	r.coalescers[sessionID] = c
	r.mu.Unlock()
}

// dropSession tears down in-flight state for a session. With cancel set the
// coalescer discards its buffer instead of flushing.
func (r *Router) dropSession(sessionID string, cancel bool) {
	r.mu.Lock()
	c := r.coalescers[sessionID]
	delete(r.coalescers, sessionID)
	delete(r.pending, sessionID)
	r.mu.Unlock()
	if c != nil {
		if cancel {
			c.Cancel()
		} else {
			c.End()
		}
	}
}

// PendingCount reports in-flight Agent round trips.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) sweepPending() {
	cutoff := r.now().Add(-pendingTTL)
	r.mu.Lock()
	var stale []string
	for id, p := range r.pending {
		if p.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	for _, id := range stale {
		log.Warn().Str("session", id).Msg("pending response expired without an agent reply")
		r.dropSession(id, true)
	}
}

// shouldSendRejection debounces pairing-code replies per sender; other
// rejection messages always go out.
func (r *Router) shouldSendRejection(msg bus.InboundMessage, decision security.Decision) bool {
	if decision.Reason != security.ReasonPairingRequired {
		return true
	}
	key := msg.ChannelID + ":" + msg.SenderID
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if last, ok := r.pairingReplied[key]; ok && now.Sub(last) < pairingReplyDebounce {
		return false
	}
	r.pairingReplied[key] = now
	return true
}

func (r *Router) reply(msg bus.InboundMessage, text string) {
	r.queue.Enqueue(bus.OutboundMessage{
		ChannelID: msg.ChannelID,
		ChatID:    msg.ChatID,
		Text:      text,
		ReplyToID: msg.ID,
	})
}

type selfIdentifier interface{ BotUserID() string }

// botID resolves the identity used for default @mention gating, falling back
// to the channel id when the platform has no cheap self lookup.
func (r *Router) botID(adapter channels.Adapter) string {
	if si, ok := adapter.(selfIdentifier); ok && si.BotUserID() != "" {
		return si.BotUserID()
	}
	return adapter.ID()
}

// commandAllowed enforces groupPolicy.allowedCommands: with a non-empty
// list, slash commands not on it are dropped. Non-command text always passes.
func commandAllowed(text string, allowed []string) bool {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") || len(allowed) == 0 {
		return true
	}
	cmd := strings.ToLower(strings.TrimPrefix(strings.Fields(trimmed)[0], "/"))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, "/")) == cmd {
			return true
		}
	}
	return false
}

func sessionTitle(msg bus.InboundMessage) string {
	who := msg.SenderName
	if who == "" {
		who = msg.SenderID
	}
	return msg.ChannelID + ": " + who
}
