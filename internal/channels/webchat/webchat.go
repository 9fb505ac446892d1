// Package webchat implements an in-process browser channel over WebSocket.
// The gateway HTTP server mounts Handler(); each connection authenticates
// with a user query parameter and speaks newline-free JSON frames.
package webchat

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/channels"
	"github.com/nextlevelbuilder/iris/internal/config"
)

const defaultMaxTextLength = 100_000

// Frame is the wire format in both directions. Client → gateway uses type
// "message"; gateway → client additionally uses "edit", "delete" and
// "typing".
type Frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// Adapter serves webchat clients. Every conversation is a DM keyed by the
// connecting user id; a user may hold several tabs open at once.
type Adapter struct {
	id   string
	cfg  config.ChannelConfig
	sink bus.EventSink

	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    map[string]map[*websocket.Conn]bool // userID → open sockets
	seq      atomic.Int64
	started  atomic.Bool
}

// New creates a webchat adapter.
func New(id string, cfg config.ChannelConfig, sink bus.EventSink) (*Adapter, error) {
	return &Adapter{
		id:   id,
		cfg:  cfg,
		sink: sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway binds to loopback; cross-origin checks add nothing.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]map[*websocket.Conn]bool),
	}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Type() string { return "webchat" }

func (a *Adapter) Capabilities() channels.Capabilities {
	max := a.cfg.MaxTextLength
	if max <= 0 {
		max = defaultMaxTextLength
	}
	return channels.Capabilities{
		Text: true, Typing: true, Edit: true, Delete: true, Reply: true,
		MaxTextLength: max,
	}
}

// Start marks the adapter ready. The transport is the gateway HTTP server,
// which mounts Handler separately.
func (a *Adapter) Start(_ context.Context) error {
	a.started.Store(true)
	a.sink(bus.AdapterEvent{Kind: bus.EventConnected, ChannelID: a.id})
	return nil
}

// Stop closes all open client sockets.
func (a *Adapter) Stop(_ context.Context) error {
	a.started.Store(false)
	a.mu.Lock()
	for _, set := range a.conns {
		for conn := range set {
			conn.Close()
		}
	}
	a.conns = make(map[string]map[*websocket.Conn]bool)
	a.mu.Unlock()
	a.sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: a.id, Reason: "stopped"})
	return nil
}

// Handler upgrades webchat connections. The user query parameter is the
// stable sender/chat id; name is optional.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.started.Load() {
			http.Error(w, "webchat not running", http.StatusServiceUnavailable)
			return
		}
		userID := r.URL.Query().Get("user")
		if userID == "" {
			http.Error(w, "missing user parameter", http.StatusBadRequest)
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			name = userID
		}

		conn, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Str("channel", a.id).Err(err).Msg("webchat upgrade failed")
			return
		}
		a.addConn(userID, conn)
		go a.readLoop(userID, name, conn)
	})
}

func (a *Adapter) addConn(userID string, conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set := a.conns[userID]
	if set == nil {
		set = make(map[*websocket.Conn]bool)
		a.conns[userID] = set
	}
	set[conn] = true
}

func (a *Adapter) removeConn(userID string, conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if set := a.conns[userID]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(a.conns, userID)
		}
	}
}

func (a *Adapter) readLoop(userID, name string, conn *websocket.Conn) {
	defer func() {
		a.removeConn(userID, conn)
		conn.Close()
	}()
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != "message" || frame.Text == "" {
			continue
		}
		id := frame.ID
		if id == "" {
			id = a.nextID()
		}
		a.sink(bus.AdapterEvent{Kind: bus.EventMessage, ChannelID: a.id, Message: &bus.InboundMessage{
			ID:         id,
			ChannelID:  a.id,
			SenderID:   userID,
			SenderName: name,
			ChatID:     userID,
			ChatType:   bus.ChatDM,
			Text:       frame.Text,
			ReplyToID:  frame.ReplyToID,
			Timestamp:  time.Now(),
		}})
	}
}

func (a *Adapter) nextID() string {
	return "wc-" + strconv.FormatInt(a.seq.Add(1), 10)
}

// broadcast writes a frame to every open socket of a user. Dead sockets are
// pruned as they fail.
func (a *Adapter) broadcast(userID string, frame Frame) error {
	a.mu.Lock()
	set := a.conns[userID]
	conns := make([]*websocket.Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	a.mu.Unlock()

	if len(conns) == 0 {
		return fmt.Errorf("webchat user %s has no open connection", userID)
	}
	var lastErr error
	delivered := false
	for _, conn := range conns {
		if err := conn.WriteJSON(frame); err != nil {
			lastErr = err
			a.removeConn(userID, conn)
			conn.Close()
			continue
		}
		delivered = true
	}
	if !delivered {
		return fmt.Errorf("webchat write to %s: %w", userID, lastErr)
	}
	return nil
}

// SendText pushes text to the user's open tabs. Outbound ids are UUIDs so
// they can never collide with client-supplied or sequence-assigned inbound
// ids.
func (a *Adapter) SendText(_ context.Context, chatID, text string, opts channels.SendOptions) (string, error) {
	id := uuid.NewString()
	err := a.broadcast(chatID, Frame{Type: "message", ID: id, Text: text, ReplyToID: opts.ReplyToID})
	if err != nil {
		return "", err
	}
	return id, nil
}

// SendTyping pushes a typing frame.
func (a *Adapter) SendTyping(_ context.Context, chatID string) error {
	return a.broadcast(chatID, Frame{Type: "typing"})
}

// EditMessage pushes an edit frame for a previously sent message id.
func (a *Adapter) EditMessage(_ context.Context, chatID, messageID, text string) error {
	return a.broadcast(chatID, Frame{Type: "edit", ID: messageID, Text: text})
}

// DeleteMessage pushes a delete frame.
func (a *Adapter) DeleteMessage(_ context.Context, chatID, messageID string) error {
	return a.broadcast(chatID, Frame{Type: "delete", ID: messageID})
}
