// Package discord implements the Discord channel adapter over the gateway
// websocket via discordgo.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/channels"
	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/textsplit"
)

// Adapter connects one Discord bot to the gateway.
type Adapter struct {
	id        string
	cfg       config.ChannelConfig
	session   *discordgo.Session
	sink      bus.EventSink
	botUserID string
}

// New creates a Discord adapter with message-content intents.
func New(id string, cfg config.ChannelConfig, sink bus.EventSink) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Adapter{id: id, cfg: cfg, session: session, sink: sink}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Type() string { return "discord" }

func (a *Adapter) Capabilities() channels.Capabilities {
	max := a.cfg.MaxTextLength
	if max <= 0 {
		max = textsplit.DiscordMax
	}
	return channels.Capabilities{
		Text: true, Image: true, Video: true, Audio: true, Document: true,
		Reaction: true, Typing: true, Edit: true, Delete: true, Reply: true, Thread: true,
		MaxTextLength: max,
	}
}

// BotUserID returns the bot's own user id, available after Start. The router
// uses it to detect mentions.
func (a *Adapter) BotUserID() string { return a.botUserID }

// Start opens the gateway connection and resolves the bot identity.
func (a *Adapter) Start(_ context.Context) error {
	a.session.AddHandler(a.handleMessage)
	a.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "gateway disconnect"})
	})
	a.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		a.sink(bus.AdapterEvent{Kind: bus.EventConnected, ChannelID: a.id})
	})

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	a.botUserID = user.ID

	log.Info().Str("channel", a.id).Str("username", user.Username).Msg("discord connected")
	a.sink(bus.AdapterEvent{Kind: bus.EventConnected, ChannelID: a.id})
	return nil
}

// Stop closes the gateway connection.
func (a *Adapter) Stop(_ context.Context) error {
	err := a.session.Close()
	a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "stopped"})
	return err
}

func (a *Adapter) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	// Drop our own echoes and other bots.
	if m.Author == nil || m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}

	chatType := bus.ChatGroup
	if m.GuildID == "" {
		chatType = bus.ChatDM
	}

	var media []bus.MediaAttachment
	for _, att := range m.Attachments {
		media = append(media, bus.MediaAttachment{URL: att.URL, ContentType: att.ContentType})
	}

	msg := &bus.InboundMessage{
		ID:         m.ID,
		ChannelID:  a.id,
		SenderID:   m.Author.ID,
		SenderName: displayName(m),
		ChatID:     m.ChannelID,
		ChatType:   chatType,
		Text:       m.Content,
		Media:      media,
		Timestamp:  m.Timestamp,
		Raw:        m,
	}
	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	a.sink(bus.AdapterEvent{Kind: bus.EventMessage, ChannelID: a.id, Message: msg})
}

// displayName prefers server nickname, then global display name, then
// username.
func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// SendText delivers text and returns the Discord message id.
func (a *Adapter) SendText(_ context.Context, chatID, text string, opts channels.SendOptions) (string, error) {
	send := &discordgo.MessageSend{Content: text}
	if opts.ReplyToID != "" {
		send.Reference = &discordgo.MessageReference{MessageID: opts.ReplyToID, ChannelID: chatID}
	}
	sent, err := a.session.ChannelMessageSendComplex(chatID, send)
	if err != nil {
		return "", fmt.Errorf("discord send: %w", err)
	}
	return sent.ID, nil
}

// SendMedia sends an attachment by embedding its URL.
func (a *Adapter) SendMedia(_ context.Context, chatID string, media bus.MediaAttachment) (string, error) {
	content := media.URL
	if media.Caption != "" {
		content = media.Caption + "\n" + media.URL
	}
	sent, err := a.session.ChannelMessageSend(chatID, content)
	if err != nil {
		return "", fmt.Errorf("discord send media: %w", err)
	}
	return sent.ID, nil
}

// SendTyping shows the typing indicator (Discord keeps it for ~10s).
func (a *Adapter) SendTyping(_ context.Context, chatID string) error {
	return a.session.ChannelTyping(chatID)
}

// EditMessage replaces a sent message's content.
func (a *Adapter) EditMessage(_ context.Context, chatID, messageID, text string) error {
	_, err := a.session.ChannelMessageEdit(chatID, messageID, text)
	return err
}

// DeleteMessage removes a sent message.
func (a *Adapter) DeleteMessage(_ context.Context, chatID, messageID string) error {
	return a.session.ChannelMessageDelete(chatID, messageID)
}

// React adds an emoji reaction to a message.
func (a *Adapter) React(_ context.Context, chatID, messageID, emoji string) error {
	return a.session.MessageReactionAdd(chatID, messageID, emoji)
}
