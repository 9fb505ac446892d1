package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/channels"
	"github.com/nextlevelbuilder/iris/internal/security"
	"github.com/nextlevelbuilder/iris/internal/sessions"
)

// ToolServer accepts calls from the Agent and routes them to adapters. It is
// the reverse direction of the normal pipeline.
type ToolServer struct {
	addr      string
	registry  *channels.Registry
	cache     *channels.MessageCache
	allowlist *security.AllowlistStore
	sessions  *sessions.Map
	resources *ResourceStore
}

// NewToolServer wires the Agent-facing surface.
func NewToolServer(addr string, registry *channels.Registry, cache *channels.MessageCache, allowlist *security.AllowlistStore, sessionMap *sessions.Map, resources *ResourceStore) *ToolServer {
	return &ToolServer{
		addr:      addr,
		registry:  registry,
		cache:     cache,
		allowlist: allowlist,
		sessions:  sessionMap,
		resources: resources,
	}
}

// Handler returns the route table.
func (s *ToolServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tool/send-message", s.handleSendMessage)
	mux.HandleFunc("/tool/channel-action", s.handleChannelAction)
	mux.HandleFunc("/tool/user-info", s.handleUserInfo)
	mux.HandleFunc("/tool/list-channels", s.handleListChannels)
	s.resources.mount(mux)
	return mux
}

// Start serves until ctx is cancelled.
func (s *ToolServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  serverTimeout,
		WriteTimeout: serverTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", s.addr).Msg("tool server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type sendMessageRequest struct {
	Channel   string `json:"channel"`
	ChatID    string `json:"chatId"`
	Text      string `json:"text"`
	ReplyToID string `json:"replyToId,omitempty"`
}

func (s *ToolServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Channel == "" || req.ChatID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "channel, chatId and text are required")
		return
	}
	adapter, ok := s.registry.Get(req.Channel)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel: "+req.Channel)
		return
	}
	id, err := adapter.SendText(r.Context(), req.ChatID, req.Text, channels.SendOptions{ReplyToID: req.ReplyToID})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.cache.Put(id, req.Channel, req.ChatID)
	writeJSON(w, http.StatusOK, map[string]string{"messageId": id})
}

type channelActionRequest struct {
	Action    string `json:"action"` // typing|react|edit|delete
	Channel   string `json:"channel,omitempty"`
	ChatID    string `json:"chatId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
}

func (s *ToolServer) handleChannelAction(w http.ResponseWriter, r *http.Request) {
	var req channelActionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// A message id alone is enough: the cache remembers where it was sent.
	if (req.Channel == "" || req.ChatID == "") && req.MessageID != "" {
		if origin, ok := s.cache.Get(req.MessageID); ok {
			req.Channel = origin.ChannelID
			req.ChatID = origin.ChatID
		}
	}
	if req.Channel == "" || req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "channel and chatId are required (or a cached messageId)")
		return
	}
	adapter, ok := s.registry.Get(req.Channel)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel: "+req.Channel)
		return
	}

	err := s.performAction(r.Context(), adapter, req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, channels.ErrUnsupported) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *ToolServer) performAction(ctx context.Context, adapter channels.Adapter, req channelActionRequest) error {
	caps := adapter.Capabilities()
	switch req.Action {
	case "typing":
		if ts, ok := adapter.(channels.TypingSender); ok && caps.Typing {
			return ts.SendTyping(ctx, req.ChatID)
		}
	case "react":
		if re, ok := adapter.(channels.Reactor); ok && caps.Reaction {
			return re.React(ctx, req.ChatID, req.MessageID, req.Emoji)
		}
	case "edit":
		if ed, ok := adapter.(channels.Editor); ok && caps.Edit {
			return ed.EditMessage(ctx, req.ChatID, req.MessageID, req.Text)
		}
	case "delete":
		if de, ok := adapter.(channels.Deleter); ok && caps.Delete {
			return de.DeleteMessage(ctx, req.ChatID, req.MessageID)
		}
	default:
		return channels.Unsupported(adapter.ID(), "action "+req.Action)
	}
	return channels.Unsupported(adapter.ID(), req.Action)
}

type userInfoRequest struct {
	Channel string `json:"channel"`
	UserID  string `json:"userId"`
}

func (s *ToolServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	var req userInfoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Channel == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "channel and userId are required")
		return
	}

	allowed, err := s.allowlist.Has(req.Channel, req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"channel":     req.Channel,
		"userId":      req.UserID,
		"allowlisted": allowed,
	}
	key := sessions.Key(req.Channel, "", req.UserID, bus.ChatDM)
	if entry, ok := s.sessions.Get(key); ok {
		resp["session"] = entry
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *ToolServer) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	type channelInfo struct {
		ID           string                `json:"id"`
		Type         string                `json:"type"`
		Connected    bool                  `json:"connected"`
		Capabilities channels.Capabilities `json:"capabilities"`
	}
	var out []channelInfo
	for _, id := range s.registry.IDs() {
		a, _ := s.registry.Get(id)
		out = append(out, channelInfo{
			ID:           id,
			Type:         a.Type(),
			Connected:    s.registry.Connected(id),
			Capabilities: a.Capabilities(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}
