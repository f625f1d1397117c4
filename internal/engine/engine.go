// ABOUTME: Orchestrator tying connectors, the store, and the completion client together.
// ABOUTME: Implements platform.Handler: persists turns, builds context, returns replies.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sable-bot/sable/internal/assist"
	"github.com/sable-bot/sable/internal/platform"
	"github.com/sable-bot/sable/internal/store"
)

// CompletionClient is the slice of the assist client the engine needs.
type CompletionClient interface {
	Chat(ctx context.Context, messages []assist.ChatMessage) (string, error)
	Imagine(ctx context.Context, prompt string) (string, error)
	WebExtract(ctx context.Context, url string, extractLinks bool) (*assist.ExtractResult, error)
}

// Config holds engine settings.
type Config struct {
	BotName      string
	SystemPrompt string
	// HistoryLimit bounds how many stored turns enter the completion context.
	HistoryLimit int
	// DeepReviewMaxLinks bounds how many same-site pages a deep review follows.
	DeepReviewMaxLinks int
}

func (c Config) withDefaults() Config {
	if c.BotName == "" {
		c.BotName = "Sable"
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are " + c.BotName + ", a helpful and concise chat assistant."
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.DeepReviewMaxLinks <= 0 {
		c.DeepReviewMaxLinks = 3
	}
	return c
}

// Engine orchestrates the bot: it owns the connectors, persists conversation
// turns, and produces replies through the completion client.
type Engine struct {
	cfg    Config
	store  store.Store
	assist CompletionClient
	logger *slog.Logger

	mu         sync.Mutex
	connectors map[string]platform.Connector

	processed atomic.Int64

	// statMu guards the snapshot fields, which Status reads while Start and
	// HandleMessage run on other goroutines.
	statMu      sync.Mutex
	startedAt   time.Time
	lastMessage time.Time
}

// New creates an engine. Connectors are registered separately so the engine
// can be handed to them as their Handler first.
func New(cfg Config, st store.Store, client CompletionClient, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg.withDefaults(),
		store:      st,
		assist:     client,
		logger:     logger.With("component", "engine"),
		connectors: make(map[string]platform.Connector),
	}
}

// RegisterConnector adds a platform connector under its Name.
func (e *Engine) RegisterConnector(c platform.Connector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectors[c.Name()] = c
}

// Connector returns the named connector.
func (e *Engine) Connector(name string) (platform.Connector, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.connectors[name]
	return c, ok
}

// Connectors returns a snapshot of the registered connectors.
func (e *Engine) Connectors() map[string]platform.Connector {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]platform.Connector, len(e.connectors))
	for name, c := range e.connectors {
		out[name] = c
	}
	return out
}

// Start connects every registered connector. A failing connector does not
// stop the others; the joined error reports all failures.
func (e *Engine) Start(ctx context.Context) error {
	e.statMu.Lock()
	e.startedAt = time.Now()
	e.statMu.Unlock()
	var errs []error
	for name, c := range e.Connectors() {
		if err := c.Connect(ctx); err != nil {
			e.logger.Error("connector failed to start", "platform", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		e.logger.Info("connector started", "platform", name)
	}
	return errors.Join(errs...)
}

// Stop disconnects every registered connector.
func (e *Engine) Stop() error {
	var errs []error
	for name, c := range e.Connectors() {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// SendTo delivers text to a channel on a named platform.
func (e *Engine) SendTo(ctx context.Context, platformName, channelID, text string) error {
	c, ok := e.Connector(platformName)
	if !ok {
		return fmt.Errorf("unknown platform %q", platformName)
	}
	return c.Send(ctx, channelID, text)
}

// HandleMessage is the conversational path: persist the user's turn, build
// the completion context, get a reply, persist it, and return it.
func (e *Engine) HandleMessage(ctx context.Context, msg platform.Message) (string, error) {
	conv, err := e.store.GetOrCreateConversation(ctx, msg.Platform, msg.ChannelID)
	if err != nil {
		return "", fmt.Errorf("loading conversation: %w", err)
	}
	if _, err := e.store.AppendMessage(ctx, conv.ID, store.RoleUser, msg.AuthorID, msg.AuthorName, msg.Content); err != nil {
		return "", fmt.Errorf("persisting message: %w", err)
	}

	messages, err := e.buildContext(ctx, conv.ID, msg)
	if err != nil {
		return "", err
	}

	reply, err := e.assist.Chat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", nil
	}

	if _, err := e.store.AppendMessage(ctx, conv.ID, store.RoleAssistant, "", e.cfg.BotName, reply); err != nil {
		e.logger.Warn("failed to persist reply", "conversation", conv.ID, "error", err)
	}

	e.processed.Add(1)
	e.statMu.Lock()
	e.lastMessage = time.Now()
	e.statMu.Unlock()

	return reply, nil
}

// buildContext assembles the completion messages: system prompt with known
// user facts, then the bounded recent history. The just-persisted user turn
// arrives as part of the history.
func (e *Engine) buildContext(ctx context.Context, convID string, msg platform.Message) ([]assist.ChatMessage, error) {
	system := e.cfg.SystemPrompt
	if facts, err := e.store.GetFacts(ctx, msg.AuthorID, msg.Platform); err != nil {
		e.logger.Warn("failed to load facts", "user", msg.AuthorID, "error", err)
	} else if len(facts) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nWhat you know about ")
		b.WriteString(msg.AuthorName)
		b.WriteString(":\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
		system = b.String()
	}

	history, err := e.store.RecentHistory(ctx, convID, e.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	messages := make([]assist.ChatMessage, 0, len(history)+1)
	messages = append(messages, assist.ChatMessage{Role: "system", Content: system})
	for _, m := range history {
		content := m.Content
		// In group channels, label user turns so the model can track speakers.
		if m.Role == store.RoleUser && !msg.IsDM && m.AuthorName != "" {
			content = m.AuthorName + ": " + content
		}
		messages = append(messages, assist.ChatMessage{Role: m.Role, Content: content})
	}
	return messages, nil
}

// ClearHistory drops the stored turns for a channel's conversation.
func (e *Engine) ClearHistory(ctx context.Context, platformName, channelID, userID string) error {
	conv, err := e.store.GetOrCreateConversation(ctx, platformName, channelID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if err := e.store.ClearConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("clearing conversation: %w", err)
	}
	e.logger.Info("conversation cleared", "platform", platformName, "channel", channelID, "by", userID)
	return nil
}

// GenerateImage satisfies platform.Imager.
func (e *Engine) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return e.assist.Imagine(ctx, prompt)
}

// Status is a point-in-time snapshot for the management surface.
type Status struct {
	BotName       string          `json:"bot_name"`
	Uptime        string          `json:"uptime"`
	Processed     int64           `json:"processed_messages"`
	LastMessageAt *time.Time      `json:"last_message_at,omitempty"`
	Platforms     map[string]bool `json:"platforms"`
}

// Status reports uptime, throughput, and per-platform connectivity.
func (e *Engine) Status() Status {
	platforms := make(map[string]bool)
	for name, c := range e.Connectors() {
		platforms[name] = c.IsConnected()
	}

	s := Status{
		BotName:   e.cfg.BotName,
		Processed: e.processed.Load(),
		Platforms: platforms,
	}
	e.statMu.Lock()
	if !e.startedAt.IsZero() {
		s.Uptime = time.Since(e.startedAt).Round(time.Second).String()
	}
	if !e.lastMessage.IsZero() {
		t := e.lastMessage
		s.LastMessageAt = &t
	}
	e.statMu.Unlock()
	return s
}
