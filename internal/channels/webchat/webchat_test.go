package webchat

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/channels"
	"github.com/nextlevelbuilder/iris/internal/config"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newStartedAdapter(t *testing.T, sink bus.EventSink) (*Adapter, *httptest.Server) {
	t.Helper()
	if sink == nil {
		sink = func(bus.AdapterEvent) {}
	}
	a, err := New("webchat", config.ChannelConfig{Type: "webchat"}, sink)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Stop(context.Background()) })
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv
}

// waitConns blocks until the adapter has registered n sockets for userID;
// the handshake returning to the dialer does not mean the server goroutine
// has run addConn yet.
func waitConns(t *testing.T, a *Adapter, userID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		got := len(a.conns[userID])
		a.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never reached %d connections", userID, n)
}

func TestHandler_RejectsMissingUser(t *testing.T) {
	_, srv := newStartedAdapter(t, nil)
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("no user param = %d, want 400", resp.StatusCode)
	}
}

func TestInboundFrameBecomesMessage(t *testing.T) {
	events := make(chan bus.AdapterEvent, 4)
	_, srv := newStartedAdapter(t, func(ev bus.AdapterEvent) {
		if ev.Kind == bus.EventMessage {
			events <- ev
		}
	})

	conn := dial(t, srv, "user=u1&name=Alice")
	if err := conn.WriteJSON(Frame{Type: "message", Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		m := ev.Message
		if m.SenderID != "u1" || m.SenderName != "Alice" || m.ChatID != "u1" {
			t.Errorf("message = %+v", m)
		}
		if m.ChatType != bus.ChatDM || m.Text != "hello" {
			t.Errorf("message = %+v", m)
		}
		if m.ID == "" {
			t.Error("inbound id must be assigned")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}
}

func TestSendTextReachesAllTabs(t *testing.T) {
	a, srv := newStartedAdapter(t, nil)

	tab1 := dial(t, srv, "user=u1")
	tab2 := dial(t, srv, "user=u1")
	waitConns(t, a, "u1", 2)

	id, err := a.SendText(context.Background(), "u1", "hi there", channels.SendOptions{})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if id == "" {
		t.Fatal("message id must be assigned")
	}

	for i, conn := range []*websocket.Conn{tab1, tab2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("tab %d read: %v", i+1, err)
		}
		if frame.Type != "message" || frame.Text != "hi there" || frame.ID != id {
			t.Errorf("tab %d frame = %+v", i+1, frame)
		}
	}
}

func TestSendTextNoConnection(t *testing.T) {
	a, _ := newStartedAdapter(t, nil)
	if _, err := a.SendText(context.Background(), "nobody", "x", channels.SendOptions{}); err == nil {
		t.Error("send to absent user must fail")
	}
}

func TestEditAndDeleteFrames(t *testing.T) {
	a, srv := newStartedAdapter(t, nil)
	conn := dial(t, srv, "user=u1")
	waitConns(t, a, "u1", 1)

	if err := a.EditMessage(context.Background(), "u1", "m1", "fixed"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if err := a.DeleteMessage(context.Background(), "u1", "m1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var edit, del Frame
	if err := conn.ReadJSON(&edit); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&del); err != nil {
		t.Fatal(err)
	}
	if edit.Type != "edit" || edit.ID != "m1" || edit.Text != "fixed" {
		t.Errorf("edit frame = %+v", edit)
	}
	if del.Type != "delete" || del.ID != "m1" {
		t.Errorf("delete frame = %+v", del)
	}
}
