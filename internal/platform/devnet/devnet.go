// ABOUTME: DevNet connector: owns the duplex channel and its connection state machine.
// ABOUTME: Connect/authenticate/subscribe/listen with exponential-backoff reconnection.

package devnet

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sable-bot/sable/internal/dedupe"
	"github.com/sable-bot/sable/internal/markup"
	"github.com/sable-bot/sable/internal/platform"
	"github.com/sable-bot/sable/internal/platform/command"
	"github.com/sable-bot/sable/internal/ratelimit"
)

// Config holds DevNet connector settings.
type Config struct {
	APIURL   string
	BotToken string

	RespondToDMs           bool
	RespondToGroups        bool
	RequireMentionInGroups bool

	RateLimitMessages int
	RateLimitWindow   time.Duration

	// MessageLimit is the platform's maximum message length.
	MessageLimit int
	// ChunkDelay is the pause between chunks of one logical message.
	ChunkDelay time.Duration
	// Format selects the outbound markup dialect (DevNet renders markdown
	// natively, so the default is passthrough).
	Format string

	AuthTimeout      time.Duration
	SubscribeTimeout time.Duration
	ReconnectBase    time.Duration
	ReconnectMax     time.Duration
}

// withDefaults fills unset durations and limits.
func (c Config) withDefaults() Config {
	if c.RateLimitMessages <= 0 {
		c.RateLimitMessages = 10
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = 1900
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = 5 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 5 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 2 * time.Minute
	}
	return c
}

// Connector is the DevNet platform connector. It exclusively owns the duplex
// channel and the connection state; callers interact only through Connect,
// Disconnect, Send, and IsConnected.
type Connector struct {
	cfg     Config
	handler platform.Handler
	logger  *slog.Logger
	dialect markup.Dialect

	httpc   *http.Client
	limiter *ratelimit.Limiter
	seen    *dedupe.Cache
	router  *command.Router

	// mu serializes the connect sequence: at most one live duplex channel
	// and one live listen task exist at any time.
	mu           sync.Mutex
	conn         *websocket.Conn
	listenCancel context.CancelFunc
	listenDone   chan struct{}
	stopCh       chan struct{}

	// writeMu serializes writes to the duplex channel so frames never
	// interleave.
	writeMu sync.Mutex

	stateMu  sync.RWMutex
	state    platform.ConnState
	identity *BotIdentity

	running atomic.Bool
}

const refusalText = "Only my operator can manage group access. Ask them to use `/groups` and `/knock`."

// New creates a DevNet connector. The handler is required; optional
// capabilities (image generation, page review) are discovered from it.
func New(cfg Config, handler platform.Handler, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connector{
		cfg:     cfg.withDefaults(),
		handler: handler,
		logger:  logger.With("component", "devnet"),
		dialect: markup.ParseDialect(cfg.Format),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		limiter: ratelimit.New(),
		seen:    dedupe.New(10*time.Minute, 4096),
		state:   platform.StateDisconnected,
	}
	c.router = command.NewRouter(c.operatorID, refusalText)
	c.registerCommands()
	return c
}

// Name returns the platform tag.
func (c *Connector) Name() string { return platform.NameDevNet }

// IsConnected reports whether the connector is in the Connected state.
func (c *Connector) IsConnected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state == platform.StateConnected
}

// State returns the current connection state.
func (c *Connector) State() platform.ConnState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Connector) setState(s platform.ConnState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Identity returns the bot identity fetched at the last successful connect,
// or nil before the first one.
func (c *Connector) Identity() *BotIdentity {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.identity
}

// operatorID resolves the operator from the current identity. Empty until
// authenticated, which denies privileged commands by default.
func (c *Connector) operatorID() string {
	if ident := c.Identity(); ident != nil {
		return ident.Operator()
	}
	return ""
}

// Connect establishes the session: fetch identity, open and authenticate the
// duplex channel, re-subscribe approved groups, and start the listen task.
// Calling Connect while a session is live tears the old one down first.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running.CompareAndSwap(false, true) {
		c.stopCh = make(chan struct{})
	}
	c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Connector) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return fmt.Errorf("connector is not running")
	}

	// At most one live channel and one live listen task: cancel and await
	// any prior listener before dialing again.
	c.teardownLocked()

	c.setState(platform.StateConnecting)
	ident, err := c.fetchIdentity(ctx)
	if err != nil {
		c.setState(platform.StateDisconnected)
		return err
	}
	c.stateMu.Lock()
	c.identity = ident
	c.stateMu.Unlock()
	c.logger.Info("authenticated", "bot", ident.DisplayName, "username", ident.Username)

	c.setState(platform.StateAuthenticating)
	conn, err := c.dialAndAuth(ctx)
	if err != nil {
		c.setState(platform.StateDisconnected)
		return err
	}

	c.setState(platform.StateSubscribing)
	c.subscribeGroups(conn, ident.BotData.ApprovedGroups)

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		c.setState(platform.StateDisconnected)
		return fmt.Errorf("clearing read deadline: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.conn = conn
	c.listenCancel = cancel
	c.listenDone = done
	c.setState(platform.StateConnected)
	c.logger.Info("connected", "groups", len(ident.BotData.ApprovedGroups))

	go func() {
		c.listen(listenCtx, conn)
		close(done)
		if c.running.Load() && listenCtx.Err() == nil {
			c.setState(platform.StateReconnecting)
			c.reconnectLoop()
		}
	}()
	return nil
}

// dialAndAuth opens the duplex channel and performs the auth handshake.
// On any failure the channel is closed; no partial state survives.
func (c *Connector) dialAndAuth(ctx context.Context) (*websocket.Conn, error) {
	wsURL := strings.TrimRight(c.cfg.APIURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws/bot"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.AuthTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting auth deadline: %w", err)
	}
	if err := conn.WriteJSON(authFrame{Type: "auth", Token: c.cfg.BotToken}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending auth frame: %w", err)
	}

	var ack frame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("awaiting auth ack: %w", err)
	}
	if ack.Type != "auth_success" {
		conn.Close()
		return nil, fmt.Errorf("authentication rejected: %q", ack.Type)
	}
	return conn, nil
}

// subscribeGroups re-subscribes every previously approved group. Each ack has
// a short timeout and failures are logged, not fatal: subscriptions are best
// effort.
func (c *Connector) subscribeGroups(conn *websocket.Conn, groups []string) {
	for _, gid := range groups {
		if err := c.writeFrame(conn, subscribeFrame{Action: "subscribe_group", GroupID: gid}); err != nil {
			c.logger.Warn("subscribe request failed", "group", gid, "error", err)
			continue
		}
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.SubscribeTimeout)); err != nil {
			c.logger.Warn("subscribe deadline failed", "group", gid, "error", err)
			continue
		}
		var ack frame
		if err := conn.ReadJSON(&ack); err != nil {
			c.logger.Warn("subscribe ack not received", "group", gid, "error", err)
			continue
		}
		if ack.Type != "subscribed" {
			c.logger.Warn("subscription rejected", "group", gid, "ack", ack.Type)
			continue
		}
		c.logger.Info("subscribed to group", "group", gid)
	}
}

// reconnectLoop retries connect with exponential backoff, bounded only by the
// running flag. The delay is cancellable so Disconnect interrupts a pending
// sleep deterministically.
func (c *Connector) reconnectLoop() {
	c.mu.Lock()
	stop := c.stopCh
	c.mu.Unlock()

	delay := c.cfg.ReconnectBase
	for attempt := 1; c.running.Load(); attempt++ {
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		}

		// An external Connect may have restored the session during the sleep;
		// don't tear a healthy channel down just to re-dial it.
		if c.IsConnected() {
			return
		}

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			delay *= 2
			if delay > c.cfg.ReconnectMax {
				delay = c.cfg.ReconnectMax
			}
			continue
		}
		c.logger.Info("reconnected", "attempts", attempt)
		return
	}
}

// Disconnect ends the session: clears the running flag (stopping any retry
// loop), cancels the listen task, and closes the duplex channel. Safe to call
// from any goroutine and more than once.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.CompareAndSwap(true, false) && c.stopCh != nil {
		close(c.stopCh)
	}
	c.teardownLocked()
	// Stop the dedupe cleanup goroutine. The cache stays usable if Connect is
	// called again: CheckAndMark checks the TTL lazily and the size cap bounds
	// growth without the background sweep.
	c.seen.Close()
	c.setState(platform.StateDisconnected)
	c.logger.Info("disconnected")
	return nil
}

// teardownLocked cancels and awaits the listen task and closes the channel.
// Must be called with mu held.
func (c *Connector) teardownLocked() {
	if c.listenCancel != nil {
		c.listenCancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if c.listenDone != nil {
		<-c.listenDone
	}
	c.conn = nil
	c.listenCancel = nil
	c.listenDone = nil
}

// Send renders text to the platform dialect, chunks it to the message limit,
// and transmits the chunks in order. channelID is either "dm:<user>" or a
// group id. Each chunk write is atomic; failures are returned to the caller.
func (c *Connector) Send(ctx context.Context, channelID, text string) error {
	rendered := markup.Render(text, c.dialect)
	chunks := markup.Chunk(rendered, c.cfg.MessageLimit)

	for i, chunk := range chunks {
		var err error
		if userID, ok := strings.CutPrefix(channelID, "dm:"); ok {
			err = c.sendDM(ctx, userID, chunk, "")
		} else {
			err = c.sendGroupMessage(ctx, channelID, chunk)
		}
		if err != nil {
			return err
		}
		if i < len(chunks)-1 && c.cfg.ChunkDelay > 0 {
			select {
			case <-time.After(c.cfg.ChunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// writeFrame serializes a write to the duplex channel.
func (c *Connector) writeFrame(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}
