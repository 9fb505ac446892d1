// Package slack implements the Slack channel adapter over Socket Mode, so
// no public inbound endpoint is needed.
package slack

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/channels"
	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/textsplit"
)

// Adapter connects one Slack app to the gateway.
type Adapter struct {
	id     string
	cfg    config.ChannelConfig
	api    *slack.Client
	socket *socketmode.Client
	sink   bus.EventSink

	cancel context.CancelFunc
	done   chan struct{}

	nameMu sync.Mutex
	names  map[string]string // userID → display name
}

// New creates a Slack adapter. Requires both the bot token (xoxb-) and the
// app-level token (xapp-) for Socket Mode.
func New(id string, cfg config.ChannelConfig, sink bus.EventSink) (*Adapter, error) {
	botToken := cfg.BotToken
	if botToken == "" {
		botToken = cfg.Token
	}
	if botToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack channel %s: botToken and appToken are required", id)
	}
	api := slack.New(botToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Adapter{
		id:     id,
		cfg:    cfg,
		api:    api,
		socket: socketmode.New(api),
		sink:   sink,
		names:  make(map[string]string),
	}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Type() string { return "slack" }

func (a *Adapter) Capabilities() channels.Capabilities {
	max := a.cfg.MaxTextLength
	if max <= 0 {
		max = textsplit.SlackMax
	}
	// Slack's Web API has no typing indicator.
	return channels.Capabilities{
		Text: true, Image: true, Video: true, Audio: true, Document: true,
		Reaction: true, Edit: true, Delete: true, Reply: true, Thread: true,
		MaxTextLength: max,
	}
}

// Start opens the Socket Mode connection and begins consuming events.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go func() {
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			a.sink(bus.AdapterEvent{Kind: bus.EventError, ChannelID: a.id, Err: err})
		}
	}()

	go func() {
		defer close(a.done)
		for {
			select {
			case <-runCtx.Done():
				a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "stopped"})
				return
			case evt, ok := <-a.socket.Events:
				if !ok {
					a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "socket closed"})
					return
				}
				a.handleSocketEvent(evt)
			}
		}
	}()
	return nil
}

// Stop cancels the Socket Mode loop and waits for it to exit.
func (a *Adapter) Stop(_ context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		select {
		case <-a.done:
		case <-time.After(10 * time.Second):
			log.Warn().Str("channel", a.id).Msg("slack event loop did not exit within timeout")
		}
	}
	return nil
}

func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		log.Info().Str("channel", a.id).Msg("slack connected")
		a.sink(bus.AdapterEvent{Kind: bus.EventConnected, ChannelID: a.id})
	case socketmode.EventTypeDisconnect:
		a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "socket disconnect"})
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if apiEvent.Type == slackevents.CallbackEvent {
			if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
				a.handleMessage(ev)
			}
		}
	}
}

func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	// Plain user messages only: edits, joins, and bot posts carry a subtype
	// or bot id and are dropped.
	if ev.SubType != "" || ev.BotID != "" || ev.User == "" {
		return
	}

	chatType := bus.ChatGroup
	if ev.ChannelType == "im" {
		chatType = bus.ChatDM
	}

	msg := &bus.InboundMessage{
		ID:         ev.TimeStamp,
		ChannelID:  a.id,
		SenderID:   ev.User,
		SenderName: a.resolveName(ev.User),
		ChatID:     ev.Channel,
		ChatType:   chatType,
		Text:       ev.Text,
		Timestamp:  parseSlackTS(ev.TimeStamp),
		Raw:        ev,
	}
	if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
		msg.ReplyToID = ev.ThreadTimeStamp
	}
	a.sink(bus.AdapterEvent{Kind: bus.EventMessage, ChannelID: a.id, Message: msg})
}

// resolveName looks up a user's display name, caching per user id.
func (a *Adapter) resolveName(userID string) string {
	a.nameMu.Lock()
	if name, ok := a.names[userID]; ok {
		a.nameMu.Unlock()
		return name
	}
	a.nameMu.Unlock()

	name := userID
	if user, err := a.api.GetUserInfo(userID); err == nil {
		if user.Profile.DisplayName != "" {
			name = user.Profile.DisplayName
		} else if user.RealName != "" {
			name = user.RealName
		} else {
			name = user.Name
		}
	}
	a.nameMu.Lock()
	a.names[userID] = name
	a.nameMu.Unlock()
	return name
}

// parseSlackTS converts a Slack "seconds.fraction" timestamp to time.Time.
func parseSlackTS(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Now()
	}
	var nsec int64
	if frac != "" {
		if micro, err := strconv.ParseInt(frac, 10, 64); err == nil {
			nsec = micro * int64(time.Microsecond)
		}
	}
	return time.Unix(sec, nsec)
}

// SendText delivers text; the returned message id is the Slack timestamp.
func (a *Adapter) SendText(ctx context.Context, chatID, text string, opts channels.SendOptions) (string, error) {
	msgOpts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if opts.ReplyToID != "" {
		msgOpts = append(msgOpts, slack.MsgOptionTS(opts.ReplyToID))
	}
	_, ts, err := a.api.PostMessageContext(ctx, chatID, msgOpts...)
	if err != nil {
		return "", fmt.Errorf("slack send: %w", err)
	}
	return ts, nil
}

// SendMedia posts an attachment by URL.
func (a *Adapter) SendMedia(ctx context.Context, chatID string, media bus.MediaAttachment) (string, error) {
	text := media.URL
	if media.Caption != "" {
		text = media.Caption + "\n" + media.URL
	}
	_, ts, err := a.api.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack send media: %w", err)
	}
	return ts, nil
}

// EditMessage replaces a sent message's text.
func (a *Adapter) EditMessage(ctx context.Context, chatID, messageID, text string) error {
	_, _, _, err := a.api.UpdateMessageContext(ctx, chatID, messageID, slack.MsgOptionText(text, false))
	return err
}

// DeleteMessage removes a sent message.
func (a *Adapter) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	_, _, err := a.api.DeleteMessageContext(ctx, chatID, messageID)
	return err
}

// React adds an emoji reaction; emoji is the Slack name without colons.
func (a *Adapter) React(ctx context.Context, chatID, messageID, emoji string) error {
	emoji = strings.Trim(emoji, ":")
	return a.api.AddReactionContext(ctx, emoji, slack.ItemRef{Channel: chatID, Timestamp: messageID})
}
