// Package bus defines the message types exchanged between channel adapters
// and the router. Adapters normalize platform events into these shapes; the
// router never sees SDK types.
package bus

import "time"

// ChatType distinguishes 1:1 conversations from multi-party chats.
type ChatType string

const (
	ChatDM    ChatType = "dm"
	ChatGroup ChatType = "group"
)

// InboundMessage is a normalized platform event. Immutable after creation;
// identity is (ChannelID, ID).
type InboundMessage struct {
	ID         string            `json:"id"`
	ChannelID  string            `json:"channelId"`
	SenderID   string            `json:"senderId"`
	SenderName string            `json:"senderName"`
	ChatID     string            `json:"chatId"`
	ChatType   ChatType          `json:"chatType"`
	Text       string            `json:"text,omitempty"`
	Media      []MediaAttachment `json:"media,omitempty"`
	ReplyToID  string            `json:"replyToId,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Raw        any               `json:"-"`
}

// MediaAttachment describes one media item on a message.
type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// OutboundMessage is one queued delivery to a channel.
type OutboundMessage struct {
	ChannelID string `json:"channelId"`
	ChatID    string `json:"chatId"`
	Text      string `json:"text"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// EventKind enumerates adapter lifecycle events.
type EventKind string

const (
	EventMessage      EventKind = "message"
	EventError        EventKind = "error"
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
)

// AdapterEvent is one entry on an adapter's typed event stream.
type AdapterEvent struct {
	Kind      EventKind
	ChannelID string
	Message   *InboundMessage // set for EventMessage
	Err       error           // set for EventError
	Reason    string          // set for EventDisconnected when known
}

// EventSink receives adapter events. Implementations must not block for
// long; adapters emit from their receive loops.
type EventSink func(AdapterEvent)
