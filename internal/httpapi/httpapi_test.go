package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/iris/internal/agentapi"
	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/channels"
)

type fakeAdapter struct {
	id      string
	caps    channels.Capabilities
	sent    []string
	edited  []string
	deleted []string
}

func (f *fakeAdapter) ID() string                          { return f.id }
func (f *fakeAdapter) Type() string                        { return "webchat" }
func (f *fakeAdapter) Capabilities() channels.Capabilities { return f.caps }
func (f *fakeAdapter) Start(context.Context) error         { return nil }
func (f *fakeAdapter) Stop(context.Context) error          { return nil }

func (f *fakeAdapter) SendText(_ context.Context, _, text string, _ channels.SendOptions) (string, error) {
	f.sent = append(f.sent, text)
	return "msg-1", nil
}

func (f *fakeAdapter) EditMessage(_ context.Context, _, messageID, text string) error {
	f.edited = append(f.edited, messageID+":"+text)
	return nil
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, _, messageID string) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func healthyAgent(t *testing.T) *agentapi.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return agentapi.NewClient(srv.URL)
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthServer_ReadyGating(t *testing.T) {
	registry := channels.NewRegistry(nil)
	adapter := &fakeAdapter{id: "webchat", caps: channels.Capabilities{Text: true}}
	registry.Register(adapter)

	s := NewHealthServer("127.0.0.1:0", "test", registry, healthyAgent(t), nil)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with no connections = %d, want 503", rec.Code)
	}

	registry.Sink()(bus.AdapterEvent{Kind: bus.EventConnected, ChannelID: "webchat"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready with a connected channel = %d, want 200", rec.Code)
	}
}

func TestHealthServer_HealthAndMetrics(t *testing.T) {
	registry := channels.NewRegistry(nil)
	registry.Register(&fakeAdapter{id: "webchat"})
	registry.Sink()(bus.AdapterEvent{Kind: bus.EventConnected, ChannelID: "webchat"})

	s := NewHealthServer("127.0.0.1:0", "1.2.3", registry, healthyAgent(t), nil)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/health = %d", rec.Code)
	}
	var body struct {
		Status   string          `json:"status"`
		Version  string          `json:"version"`
		Channels []ChannelStatus `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Version != "1.2.3" || len(body.Channels) != 1 {
		t.Errorf("health body = %+v", body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", rec.Code)
	}
	text := rec.Body.String()
	for _, metric := range []string{"iris_uptime_seconds", "iris_channels_connected", "iris_memory_rss_bytes", "iris_memory_heap_used_bytes"} {
		if !strings.Contains(text, metric) {
			t.Errorf("metrics output missing %s", metric)
		}
	}
	if !strings.Contains(text, "iris_channels_connected 1") {
		t.Error("connected gauge must report 1")
	}
}

func newToolServer(t *testing.T, adapter channels.Adapter) (*ToolServer, *channels.MessageCache) {
	t.Helper()
	registry := channels.NewRegistry(nil)
	registry.Register(adapter)
	cache := channels.NewMessageCache(time.Minute, 100)
	return NewToolServer("127.0.0.1:0", registry, cache, nil, nil, NewResourceStore(t.TempDir())), cache
}

func TestToolServer_SendMessage(t *testing.T) {
	adapter := &fakeAdapter{id: "webchat", caps: channels.Capabilities{Text: true}}
	s, cache := newToolServer(t, adapter)

	rec := postJSON(t, s.Handler(), "/tool/send-message", map[string]string{
		"channel": "webchat", "chatId": "u1", "text": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("send-message = %d: %s", rec.Code, rec.Body.String())
	}
	if len(adapter.sent) != 1 || adapter.sent[0] != "hello" {
		t.Errorf("adapter sent = %v", adapter.sent)
	}
	if _, ok := cache.Get("msg-1"); !ok {
		t.Error("sent message must be cached for later actions")
	}
}

func TestToolServer_SendMessageValidation(t *testing.T) {
	s, _ := newToolServer(t, &fakeAdapter{id: "webchat"})
	h := s.Handler()

	rec := postJSON(t, h, "/tool/send-message", map[string]string{"channel": "webchat"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing fields = %d, want 400", rec.Code)
	}
	rec = postJSON(t, h, "/tool/send-message", map[string]string{"channel": "nope", "chatId": "1", "text": "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown channel = %d, want 404", rec.Code)
	}
}

func TestToolServer_ChannelActionResolvesFromCache(t *testing.T) {
	adapter := &fakeAdapter{id: "webchat", caps: channels.Capabilities{Text: true, Edit: true, Delete: true}}
	s, cache := newToolServer(t, adapter)
	cache.Put("msg-9", "webchat", "u1")

	rec := postJSON(t, s.Handler(), "/tool/channel-action", map[string]string{
		"action": "edit", "messageId": "msg-9", "text": "fixed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit via cached id = %d: %s", rec.Code, rec.Body.String())
	}
	if len(adapter.edited) != 1 || adapter.edited[0] != "msg-9:fixed" {
		t.Errorf("edited = %v", adapter.edited)
	}
}

func TestToolServer_ChannelActionUnsupported(t *testing.T) {
	// No Reaction capability and no Reactor implementation.
	adapter := &fakeAdapter{id: "webchat", caps: channels.Capabilities{Text: true}}
	s, _ := newToolServer(t, adapter)

	rec := postJSON(t, s.Handler(), "/tool/channel-action", map[string]string{
		"action": "react", "channel": "webchat", "chatId": "u1", "messageId": "m", "emoji": "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported action = %d, want 400", rec.Code)
	}
}

func TestResourceStore_SkillCRUD(t *testing.T) {
	s, _ := newToolServer(t, &fakeAdapter{id: "webchat"})
	h := s.Handler()

	rec := postJSON(t, h, "/skills/create", map[string]string{"name": "Bad Name!"})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Invalid skill name") {
		t.Fatalf("invalid name = %d %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, h, "/skills/create", map[string]string{"name": "weather", "content": "# weather skill"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}

	listRec := httptest.NewRecorder()
	h.ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/skills/list", nil))
	if !strings.Contains(listRec.Body.String(), "weather") {
		t.Errorf("list missing created skill: %s", listRec.Body.String())
	}

	rec = postJSON(t, h, "/skills/delete", map[string]string{"name": "weather"})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec = postJSON(t, h, "/skills/delete", map[string]string{"name": "weather"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing = %d, want 404", rec.Code)
	}
}
