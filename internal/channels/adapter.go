// Package channels provides the adapter abstraction over platform SDKs.
// Adapters normalize inbound events onto a typed event stream and expose
// capability-gated send operations; the router never touches SDK types.
package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/iris/internal/bus"
)

// Capabilities declares what an adapter can do. The router must not request
// an operation whose capability is false.
type Capabilities struct {
	Text          bool `json:"text"`
	Image         bool `json:"image"`
	Video         bool `json:"video"`
	Audio         bool `json:"audio"`
	Document      bool `json:"document"`
	Reaction      bool `json:"reaction"`
	Typing        bool `json:"typing"`
	Edit          bool `json:"edit"`
	Delete        bool `json:"delete"`
	Reply         bool `json:"reply"`
	Thread        bool `json:"thread"`
	MaxTextLength int  `json:"maxTextLength"`
}

// SendOptions carries optional parameters for SendText.
type SendOptions struct {
	ReplyToID string
}

// Adapter is the required surface every platform implements. Optional
// operations are separate interfaces; callers check the capability flag
// before the type assertion.
type Adapter interface {
	// ID is the channel id from config (the map key, e.g. "telegram-main").
	ID() string
	// Type is the platform type ("telegram", "discord", ...).
	Type() string
	Capabilities() Capabilities

	// Start blocks only until the transport is ready; inbound events are
	// produced asynchronously until ctx is cancelled.
	Start(ctx context.Context) error
	// Stop releases transport resources and emits a disconnected event.
	Stop(ctx context.Context) error

	// SendText delivers text and returns the platform message id.
	SendText(ctx context.Context, chatID, text string, opts SendOptions) (string, error)
}

// MediaSender sends a media attachment. Capability: Image/Video/Audio/Document.
type MediaSender interface {
	SendMedia(ctx context.Context, chatID string, media bus.MediaAttachment) (string, error)
}

// TypingSender shows a typing indicator. Capability: Typing.
type TypingSender interface {
	SendTyping(ctx context.Context, chatID string) error
}

// Reactor adds an emoji reaction. Capability: Reaction.
type Reactor interface {
	React(ctx context.Context, chatID, messageID, emoji string) error
}

// Editor replaces a previously sent message's text. Capability: Edit.
type Editor interface {
	EditMessage(ctx context.Context, chatID, messageID, text string) error
}

// Deleter removes a previously sent message. Capability: Delete.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID, messageID string) error
}

// ErrUnsupported is returned when an optional operation is requested from an
// adapter that cannot perform it.
var ErrUnsupported = errors.New("operation not supported by channel")

// Unsupported wraps ErrUnsupported with the adapter and operation names.
func Unsupported(adapterID, op string) error {
	return fmt.Errorf("%s: %s: %w", adapterID, op, ErrUnsupported)
}
