package agentapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Event kinds emitted on the Agent's SSE stream.
const (
	EventPartial  = "partial"
	EventResponse = "response"
	EventError    = "error"
)

// Event is one item from the Agent event stream.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	// Delta carries incremental text for partial events; Text carries the
	// complete response text for response events.
	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// EventHandler consumes stream events. Handlers must not block for long;
// the stream is read on a single goroutine.
type EventHandler func(Event)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// SubscribeEvents opens the Agent event stream and delivers events to the
// handler until ctx is cancelled. Dropped connections reconnect with capped
// exponential backoff; callers subscribe once and never resubscribe.
func (c *Client) SubscribeEvents(ctx context.Context, handler EventHandler) {
	go func() {
		var backoff time.Duration
		for {
			if ctx.Err() != nil {
				return
			}
			connected, err := c.streamOnce(ctx, handler)
			if ctx.Err() != nil {
				return
			}
			backoff = nextBackoff(backoff, connected)
			if err != nil {
				log.Warn().Err(err).Dur("retry_in", backoff).Msg("agent event stream dropped")
			} else {
				log.Warn().Dur("retry_in", backoff).Msg("agent event stream closed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()
}

// nextBackoff returns the delay before the next connect attempt. A stream
// that actually reached the server resets the progression to the base so a
// long outage does not penalize the reconnect after a healthy stream drops.
func nextBackoff(cur time.Duration, connected bool) time.Duration {
	if connected || cur == 0 {
		return reconnectBase
	}
	next := cur * 2
	if next > reconnectMax {
		next = reconnectMax
	}
	return next
}

// streamOnce reads one stream connection to completion. connected reports
// whether the server accepted the subscription.
func (c *Client) streamOnce(ctx context.Context, handler EventHandler) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout here: the stream is expected to stay open.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, &streamStatusError{status: resp.Status}
	}
	log.Info().Str("agent", c.baseURL).Msg("agent event stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" || data == "[DONE]" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Debug().Err(err).Msg("skipping malformed agent event")
			continue
		}
		handler(ev)
	}
	return true, scanner.Err()
}

type streamStatusError struct{ status string }

func (e *streamStatusError) Error() string { return "agent event stream: " + e.status }
