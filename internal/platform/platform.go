// ABOUTME: Platform connector contract and normalized message types.
// ABOUTME: Every platform integration satisfies Connector and reports inbound events as Message values.

package platform

import (
	"context"
	"time"
)

// Platform name constants.
const (
	NameDevNet = "devnet"
)

// Message is the platform-agnostic representation of one inbound chat event.
// It is produced once by a connector and passed by value; handlers never see
// the platform-native event.
type Message struct {
	ID         string
	Platform   string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
	Timestamp  time.Time
	ReplyTo    string
	IsDM       bool
	IsMention  bool
}

// ConnState describes where a connector is in its session lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateSubscribing
	StateConnected
	StateReconnecting
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribing:
		return "subscribing"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Connector owns one platform's live session. Connect and Disconnect drive
// the session lifecycle; Send transmits outbound text to a channel, chunking
// and reformatting as the platform requires.
type Connector interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, channelID, text string) error
	IsConnected() bool
}

// Handler is implemented by the orchestrating engine and injected into each
// connector at construction. HandleMessage returns the reply text, or "" when
// no reply should be sent.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) (string, error)
	ClearHistory(ctx context.Context, platform, channelID, userID string) error
}

// Imager is an optional Handler capability for image generation.
// GenerateImage returns a URL for the rendered image.
type Imager interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Reviewer is an optional Handler capability for single-page website review.
type Reviewer interface {
	ReviewURL(ctx context.Context, url string) (string, error)
}

// DeepReviewer is an optional Handler capability for multi-page website review.
type DeepReviewer interface {
	DeepReviewURL(ctx context.Context, url string) (string, error)
}
