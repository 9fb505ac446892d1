package channels

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/iris/internal/bus"
)

func groupMsg(text string) bus.InboundMessage {
	return bus.InboundMessage{ChannelID: "telegram", ChatType: bus.ChatGroup, Text: text}
}

func TestShouldProcessGroupMessage(t *testing.T) {
	tests := []struct {
		name           string
		msg            bus.InboundMessage
		requireMention bool
		pattern        string
		botID          string
		want           bool
	}{
		{"dm always passes", bus.InboundMessage{ChatType: bus.ChatDM, Text: "hello"}, true, "", "mybot", true},
		{"group no mention required", groupMsg("hello"), false, "", "mybot", true},
		{"group without mention dropped", groupMsg("hello"), true, "", "mybot", false},
		{"group default mention ci", groupMsg("hey @MyBot please help"), true, "", "mybot", true},
		{"group mention word boundary", groupMsg("email @mybotmail"), true, "", "mybot", false},
		{"group custom pattern", groupMsg("iris: do it"), true, `^iris:`, "mybot", true},
		{"custom pattern falls back to bot mention", groupMsg("hi @mybot"), true, `[invalid(`, "mybot", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldProcessGroupMessage(tt.msg, tt.requireMention, tt.pattern, tt.botID)
			if got != tt.want {
				t.Errorf("ShouldProcessGroupMessage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStripMention(t *testing.T) {
	tests := []struct {
		text, pattern, botID, want string
	}{
		{"hey @MyBot please help", "", "mybot", "hey please help"},
		{"@mybot leading", "", "mybot", "leading"},
		{"no mention at all", "", "mybot", "no mention at all"},
		{"iris: run job", `^iris:`, "mybot", "run job"},
		{"line one @mybot\nline two", "", "mybot", "line one\nline two"},
	}
	for _, tt := range tests {
		if got := StripMention(tt.text, tt.pattern, tt.botID); got != tt.want {
			t.Errorf("StripMention(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestMessageCache_TTLAndLookup(t *testing.T) {
	c := NewMessageCache(time.Minute, 10)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("m1", "telegram", "chat9")
	got, ok := c.Get("m1")
	if !ok || got.ChannelID != "telegram" || got.ChatID != "chat9" {
		t.Fatalf("Get = (%+v, %v)", got, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("m1"); ok {
		t.Error("expired entry must not resolve")
	}
	if c.Len() != 0 {
		t.Errorf("expired observed entry must be pruned, len = %d", c.Len())
	}
}

func TestMessageCache_EvictsOldestOnOverflow(t *testing.T) {
	c := NewMessageCache(time.Hour, 3)
	c.Put("a", "t", "1")
	c.Put("b", "t", "2")
	c.Put("c", "t", "3")
	c.Put("d", "t", "4")

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry must be evicted on overflow")
	}
	for _, id := range []string{"b", "c", "d"} {
		if _, ok := c.Get(id); !ok {
			t.Errorf("entry %q must survive", id)
		}
	}
}

func TestMessageCache_Sweep(t *testing.T) {
	c := NewMessageCache(time.Minute, 10)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("old", "t", "1")
	now = now.Add(2 * time.Minute)
	c.Put("new", "t", "2")
	c.sweep()

	if c.Len() != 1 {
		t.Errorf("sweep kept %d entries, want 1", c.Len())
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("fresh entry must survive sweep")
	}
}

func TestRegistry_ConnectionTracking(t *testing.T) {
	var forwarded []bus.AdapterEvent
	r := NewRegistry(func(ev bus.AdapterEvent) { forwarded = append(forwarded, ev) })
	sink := r.Sink()

	sink(bus.AdapterEvent{Kind: bus.EventConnected, ChannelID: "telegram"})
	if !r.Connected("telegram") || r.ConnectedCount() != 1 {
		t.Error("connected event must mark the channel connected")
	}

	sink(bus.AdapterEvent{Kind: bus.EventDisconnected, ChannelID: "telegram", Reason: "auth"})
	if r.Connected("telegram") || r.ConnectedCount() != 0 {
		t.Error("disconnected event must clear the channel")
	}

	if len(forwarded) != 2 {
		t.Errorf("downstream sink received %d events, want 2", len(forwarded))
	}
}
