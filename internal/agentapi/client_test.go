package agentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_SessionLifecycle(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/session":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(Session{ID: "s1", Title: body["title"]})
		case r.Method == http.MethodGet && r.URL.Path == "/session":
			_ = json.NewEncoder(w).Encode([]Session{{ID: "s1"}, {ID: "s2"}})
		case r.Method == http.MethodDelete && r.URL.Path == "/session/s1":
			deleted = "s1"
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	sess, err := c.CreateSession(ctx, "telegram: Alice")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID != "s1" || sess.Title != "telegram: Alice" {
		t.Errorf("session = %+v", sess)
	}

	list, err := c.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("sessions = %d, want 2", len(list))
	}

	if err := c.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if deleted != "s1" {
		t.Errorf("deleted = %q", deleted)
	}
}

func TestClient_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/s1/message" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("async") == "1" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "echo: " + body["text"]})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	text, err := c.SendMessage(ctx, "s1", "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if text != "echo: hi" {
		t.Errorf("text = %q", text)
	}

	if err := c.SendMessageAsync(ctx, "s1", "hi"); err != nil {
		t.Fatalf("SendMessageAsync: %v", err)
	}
}

func TestClient_ErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SendMessage(context.Background(), "nope", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	want := "agent returned 404: session not found"
	if got := err.Error(); got != "send message: "+want {
		t.Errorf("err = %q", got)
	}
}

func TestClient_CheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if !NewClient(srv.URL).CheckHealth(context.Background()) {
		t.Error("healthy server must report healthy")
	}
	if NewClient("http://127.0.0.1:1").CheckHealth(context.Background()) {
		t.Error("unreachable server must report unhealthy")
	}
}

func TestSubscribeEvents_ParsesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/event" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"partial\",\"sessionId\":\"s1\",\"delta\":\"hel\"}\n\n")
		fmt.Fprint(w, ": comment line ignored\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response\",\"sessionId\":\"s1\",\"text\":\"hello\"}\n\n")
		fl.Flush()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 8)
	NewClient(srv.URL).SubscribeEvents(ctx, func(ev Event) { events <- ev })

	var got []Event
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out with %d events", len(got))
		}
	}
	if got[0].Type != EventPartial || got[0].Delta != "hel" {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Type != EventResponse || got[1].Text != "hello" {
		t.Errorf("second event = %+v", got[1])
	}
}

func TestNextBackoff(t *testing.T) {
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	var d time.Duration
	for i, w := range want {
		d = nextBackoff(d, false)
		if d != w {
			t.Fatalf("step %d = %v, want %v", i, d, w)
		}
	}
	if got := nextBackoff(d, true); got != reconnectBase {
		t.Errorf("after connection = %v, want %v", got, reconnectBase)
	}
	if got := nextBackoff(reconnectBase, false); got != 2*time.Second {
		t.Errorf("resumed growth = %v, want 2s", got)
	}
}
