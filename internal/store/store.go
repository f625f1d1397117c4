// ABOUTME: Store interface and data types for conversation and fact persistence.
// ABOUTME: Defines Conversation, ChatMessage, Fact and the Store interface backing the engine.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation ties a platform channel to its message history.
type Conversation struct {
	ID        string
	Platform  string
	ChannelID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatMessage is one stored message within a conversation.
type ChatMessage struct {
	ID             string
	ConversationID string
	Role           string
	AuthorID       string
	AuthorName     string
	Content        string
	CreatedAt      time.Time
}

// Fact is one remembered key/value about a user on a platform.
type Fact struct {
	ID        string
	UserID    string
	Platform  string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistence contract consumed by the engine and the
// management API.
type Store interface {
	// GetOrCreateConversation returns the conversation for a platform
	// channel, creating it on first use.
	GetOrCreateConversation(ctx context.Context, platform, channelID string) (*Conversation, error)

	// AppendMessage stores one message and bumps the conversation's
	// updated_at.
	AppendMessage(ctx context.Context, conversationID, role, authorID, authorName, content string) (*ChatMessage, error)

	// RecentHistory returns up to limit most recent messages, oldest first.
	RecentHistory(ctx context.Context, conversationID string, limit int) ([]*ChatMessage, error)

	// ClearConversation deletes all messages from a conversation.
	ClearConversation(ctx context.Context, conversationID string) error

	// ListConversations returns conversations ordered by most recent activity.
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)

	// SetFact upserts a remembered key/value for a user.
	SetFact(ctx context.Context, userID, platform, key, value string) (*Fact, error)

	// GetFacts returns all facts remembered about a user on a platform.
	GetFacts(ctx context.Context, userID, platform string) ([]*Fact, error)

	// Close releases the underlying database handle.
	Close() error
}
