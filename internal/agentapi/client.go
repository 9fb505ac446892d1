// Package agentapi is the HTTP client for the conversational Agent backend.
// Requests are plain JSON over HTTP; streaming deltas arrive on a single
// long-lived SSE subscription shared by all sessions.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const requestTimeout = 30 * time.Second

// Session is an Agent conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Client talks to one Agent server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL (e.g. "http://127.0.0.1:4096").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// BaseURL returns the configured Agent address.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateSession creates a new Agent session.
func (c *Client) CreateSession(ctx context.Context, title string) (Session, error) {
	var sess Session
	err := c.doJSON(ctx, http.MethodPost, "/session", map[string]string{"title": title}, &sess)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all Agent sessions.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := c.doJSON(ctx, http.MethodGet, "/session", nil, &sessions); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes an Agent session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil, nil); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SendMessage sends a prompt and blocks for the full response text.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	path := "/session/" + url.PathEscape(sessionID) + "/message"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"text": text}, &resp); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.Text, nil
}

// SendMessageAsync sends a prompt and returns immediately; the response
// arrives on the event stream as partial deltas and a final response event.
func (c *Client) SendMessageAsync(ctx context.Context, sessionID, text string) error {
	path := "/session/" + url.PathEscape(sessionID) + "/message?async=1"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"text": text}, nil); err != nil {
		return fmt.Errorf("send message async: %w", err)
	}
	return nil
}

// AbortSession cancels the in-flight run for a session, if any.
func (c *Client) AbortSession(ctx context.Context, sessionID string) error {
	path := "/session/" + url.PathEscape(sessionID) + "/abort"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("abort session: %w", err)
	}
	return nil
}

// CheckHealth reports whether the Agent answers its health endpoint.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
