// Package telegram implements the Telegram channel adapter over the Bot API
// using long polling.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/channels"
	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/textsplit"
)

// Adapter connects one Telegram bot to the gateway.
type Adapter struct {
	id         string
	cfg        config.ChannelConfig
	bot        *telego.Bot
	sink       bus.EventSink
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram adapter. The bot token is validated lazily on Start.
func New(id string, cfg config.ChannelConfig, sink bus.EventSink) (*Adapter, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Adapter{id: id, cfg: cfg, bot: bot, sink: sink}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Type() string { return "telegram" }

// BotUserID returns the bot username used for default mention gating.
func (a *Adapter) BotUserID() string { return a.bot.Username() }

func (a *Adapter) Capabilities() channels.Capabilities {
	max := a.cfg.MaxTextLength
	if max <= 0 {
		max = textsplit.TelegramMax
	}
	return channels.Capabilities{
		Text: true, Image: true, Video: true, Audio: true, Document: true,
		Reaction: true, Typing: true, Edit: true, Delete: true, Reply: true,
		MaxTextLength: max,
	}
}

// Start begins long polling for updates. It returns once polling is
// established; updates are consumed on a background goroutine.
func (a *Adapter) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	a.pollCancel = cancel
	a.pollDone = make(chan struct{})

	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	log.Info().Str("channel", a.id).Str("username", a.bot.Username()).Msg("telegram connected")
	a.sink(bus.AdapterEvent{Kind: bus.EventConnected, ChannelID: a.id})

	go func() {
		defer close(a.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "stopped"})
				return
			case update, ok := <-updates:
				if !ok {
					a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "updates channel closed"})
					return
				}
				if update.Message != nil {
					a.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the update goroutine to exit so
// Telegram releases the getUpdates lock before any restart.
func (a *Adapter) Stop(_ context.Context) error {
	if a.pollCancel != nil {
		a.pollCancel()
	}
	if a.pollDone != nil {
		select {
		case <-a.pollDone:
		case <-time.After(10 * time.Second):
			log.Warn().Str("channel", a.id).Msg("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, message *telego.Message) {
	if message.From == nil {
		return
	}

	chatType := bus.ChatGroup
	if message.Chat.Type == telego.ChatTypePrivate {
		chatType = bus.ChatDM
	}

	msg := &bus.InboundMessage{
		ID:         strconv.Itoa(message.MessageID),
		ChannelID:  a.id,
		SenderID:   strconv.FormatInt(message.From.ID, 10),
		SenderName: senderName(message.From),
		ChatID:     strconv.FormatInt(message.Chat.ID, 10),
		ChatType:   chatType,
		Text:       messageText(message),
		Media:      a.collectMedia(ctx, message),
		Timestamp:  time.Unix(message.Date, 0),
		Raw:        message,
	}
	if message.ReplyToMessage != nil {
		msg.ReplyToID = strconv.Itoa(message.ReplyToMessage.MessageID)
	}
	a.sink(bus.AdapterEvent{Kind: bus.EventMessage, ChannelID: a.id, Message: msg})
}

func senderName(from *telego.User) string {
	name := from.FirstName
	if from.LastName != "" {
		name += " " + from.LastName
	}
	if name == "" {
		name = from.Username
	}
	return name
}

func messageText(m *telego.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// collectMedia resolves attachment download URLs best-effort; a failed
// GetFile leaves the attachment referenced by file id only.
func (a *Adapter) collectMedia(ctx context.Context, m *telego.Message) []bus.MediaAttachment {
	var media []bus.MediaAttachment
	add := func(fileID, contentType string) {
		att := bus.MediaAttachment{URL: fileID, ContentType: contentType, Caption: m.Caption}
		if file, err := a.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID}); err == nil {
			att.URL = a.bot.FileDownloadURL(file.FilePath)
		}
		media = append(media, att)
	}

	if len(m.Photo) > 0 {
		add(m.Photo[len(m.Photo)-1].FileID, "image/jpeg")
	}
	if m.Document != nil {
		add(m.Document.FileID, m.Document.MimeType)
	}
	if m.Video != nil {
		add(m.Video.FileID, m.Video.MimeType)
	}
	if m.Voice != nil {
		add(m.Voice.FileID, m.Voice.MimeType)
	}
	if m.Audio != nil {
		add(m.Audio.FileID, m.Audio.MimeType)
	}
	return media
}

// SendText delivers text and returns the Telegram message id.
func (a *Adapter) SendText(ctx context.Context, chatID, text string, opts channels.SendOptions) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}
	params := tu.Message(tu.ID(id), text)
	if opts.ReplyToID != "" {
		if replyID, err := strconv.Atoi(opts.ReplyToID); err == nil {
			params.ReplyParameters = &telego.ReplyParameters{MessageID: replyID}
		}
	}
	sent, err := a.bot.SendMessage(ctx, params)
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendMedia sends a media attachment by URL.
func (a *Adapter) SendMedia(ctx context.Context, chatID string, media bus.MediaAttachment) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}
	params := tu.Document(tu.ID(id), tu.FileFromURL(media.URL))
	params.Caption = media.Caption
	sent, err := a.bot.SendDocument(ctx, params)
	if err != nil {
		return "", fmt.Errorf("telegram send media: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendTyping shows the typing indicator (Telegram keeps it for ~5s).
func (a *Adapter) SendTyping(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return a.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(id), telego.ChatActionTyping))
}

// EditMessage replaces a sent message's text.
func (a *Adapter) EditMessage(ctx context.Context, chatID, messageID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}
	_, err = a.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(id),
		MessageID: msgID,
		Text:      text,
	})
	return err
}

// DeleteMessage removes a sent message.
func (a *Adapter) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}
	return a.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: tu.ID(id), MessageID: msgID})
}

// React sets an emoji reaction on a message.
func (a *Adapter) React(ctx context.Context, chatID, messageID, emoji string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}
	return a.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    tu.ID(id),
		MessageID: msgID,
		Reaction:  []telego.ReactionType{&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji}},
	})
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}
