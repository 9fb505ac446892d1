// Package whatsapp implements the WhatsApp channel adapter over the
// multidevice protocol via whatsmeow. Session credentials persist in a
// SQLite store under the state directory; first start prints a QR code to
// link the device.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/channels"
	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/textsplit"
)

// Adapter connects one WhatsApp account to the gateway.
type Adapter struct {
	id       string
	cfg      config.ChannelConfig
	stateDir string
	sink     bus.EventSink

	container *sqlstore.Container
	client    *whatsmeow.Client
}

// New creates a WhatsApp adapter. stateDir is the gateway state directory;
// auth lives in its whatsapp-auth/ subdirectory.
func New(id string, cfg config.ChannelConfig, stateDir string, sink bus.EventSink) (*Adapter, error) {
	return &Adapter{id: id, cfg: cfg, stateDir: stateDir, sink: sink}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Type() string { return "whatsapp" }

func (a *Adapter) Capabilities() channels.Capabilities {
	max := a.cfg.MaxTextLength
	if max <= 0 {
		max = textsplit.WhatsAppMax
	}
	return channels.Capabilities{
		Text: true, Image: true, Video: true, Audio: true, Document: true,
		Reaction: true, Typing: true, Edit: true, Delete: true, Reply: true,
		MaxTextLength: max,
	}
}

// Start opens the session store and connects. Without stored credentials it
// prints a QR code and blocks until the phone links or the code expires.
func (a *Adapter) Start(ctx context.Context) error {
	authDir := filepath.Join(a.stateDir, "whatsapp-auth")
	if err := os.MkdirAll(authDir, 0o700); err != nil {
		return fmt.Errorf("create whatsapp auth dir: %w", err)
	}
	dsn := "file:" + filepath.Join(authDir, "session.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)"

	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return fmt.Errorf("open whatsapp session store: %w", err)
	}
	a.container = container

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load whatsapp device: %w", err)
	}

	a.client = whatsmeow.NewClient(device, waLog.Noop)
	a.client.AddEventHandler(a.handleEvent)

	if a.client.Store.ID == nil {
		qrChan, _ := a.client.GetQRChannel(ctx)
		if err := a.client.Connect(); err != nil {
			return fmt.Errorf("whatsapp connect: %w", err)
		}
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				log.Info().Str("channel", a.id).Msg("scan the QR code with WhatsApp to link this device")
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			case "success":
				log.Info().Str("channel", a.id).Msg("whatsapp device linked")
			default:
				return fmt.Errorf("whatsapp pairing failed: %s", evt.Event)
			}
		}
		return nil
	}

	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	return nil
}

// Stop disconnects and closes the session store.
func (a *Adapter) Stop(_ context.Context) error {
	if a.client != nil {
		a.client.Disconnect()
	}
	if a.container != nil {
		a.container.Close()
	}
	a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "stopped"})
	return nil
}

func (a *Adapter) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		log.Info().Str("channel", a.id).Msg("whatsapp connected")
		a.sink(bus.AdapterEvent{Kind: bus.EventConnected, ChannelID: a.id})
	case *events.Disconnected:
		a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "transport dropped"})
	case *events.LoggedOut:
		a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "logged out"})
	case *events.Message:
		a.handleMessage(v)
	}
}

func (a *Adapter) handleMessage(v *events.Message) {
	// Drop echoes of our own sends.
	if v.Info.IsFromMe {
		return
	}

	chatType := bus.ChatDM
	if v.Info.IsGroup {
		chatType = bus.ChatGroup
	}

	text, media := extractContent(v.Message)
	if text == "" && len(media) == 0 {
		return
	}

	msg := &bus.InboundMessage{
		ID:         string(v.Info.ID),
		ChannelID:  a.id,
		SenderID:   v.Info.Sender.ToNonAD().String(),
		SenderName: v.Info.PushName,
		ChatID:     v.Info.Chat.String(),
		ChatType:   chatType,
		Text:       text,
		Media:      media,
		Timestamp:  v.Info.Timestamp,
		Raw:        v,
	}
	if ext := v.Message.GetExtendedTextMessage(); ext != nil {
		if ci := ext.GetContextInfo(); ci != nil {
			msg.ReplyToID = ci.GetStanzaID()
		}
	}
	a.sink(bus.AdapterEvent{Kind: bus.EventMessage, ChannelID: a.id, Message: msg})
}

// extractContent pulls text from the possible message shapes: plain
// conversation, extended text, or media captions.
func extractContent(m *waProto.Message) (string, []bus.MediaAttachment) {
	if m == nil {
		return "", nil
	}
	if t := m.GetConversation(); t != "" {
		return t, nil
	}
	if ext := m.GetExtendedTextMessage(); ext != nil {
		return ext.GetText(), nil
	}
	if img := m.GetImageMessage(); img != nil {
		return img.GetCaption(), []bus.MediaAttachment{{ContentType: img.GetMimetype(), Caption: img.GetCaption()}}
	}
	if vid := m.GetVideoMessage(); vid != nil {
		return vid.GetCaption(), []bus.MediaAttachment{{ContentType: vid.GetMimetype(), Caption: vid.GetCaption()}}
	}
	if doc := m.GetDocumentMessage(); doc != nil {
		return doc.GetCaption(), []bus.MediaAttachment{{ContentType: doc.GetMimetype(), Caption: doc.GetCaption()}}
	}
	if aud := m.GetAudioMessage(); aud != nil {
		return "", []bus.MediaAttachment{{ContentType: aud.GetMimetype()}}
	}
	return "", nil
}

// SendText delivers text and returns the WhatsApp message id.
func (a *Adapter) SendText(ctx context.Context, chatID, text string, opts channels.SendOptions) (string, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid whatsapp chat id %q: %w", chatID, err)
	}
	msg := &waProto.Message{Conversation: proto.String(text)}
	if opts.ReplyToID != "" {
		msg = &waProto.Message{ExtendedTextMessage: &waProto.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: &waProto.ContextInfo{StanzaID: proto.String(opts.ReplyToID)},
		}}
	}
	resp, err := a.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("whatsapp send: %w", err)
	}
	return string(resp.ID), nil
}

// SendTyping shows the composing indicator.
func (a *Adapter) SendTyping(ctx context.Context, chatID string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return err
	}
	return a.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// EditMessage replaces a previously sent message's text.
func (a *Adapter) EditMessage(ctx context.Context, chatID, messageID, text string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return err
	}
	edit := a.client.BuildEdit(jid, types.MessageID(messageID), &waProto.Message{Conversation: proto.String(text)})
	_, err = a.client.SendMessage(ctx, jid, edit)
	return err
}

// DeleteMessage revokes a previously sent message.
func (a *Adapter) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return err
	}
	revoke := a.client.BuildRevoke(jid, types.EmptyJID, types.MessageID(messageID))
	_, err = a.client.SendMessage(ctx, jid, revoke)
	return err
}

// React sends an emoji reaction to a message.
func (a *Adapter) React(ctx context.Context, chatID, messageID, emoji string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return err
	}
	reaction := a.client.BuildReaction(jid, jid, types.MessageID(messageID), emoji)
	_, err = a.client.SendMessage(ctx, jid, reaction)
	return err
}
