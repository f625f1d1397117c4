// ABOUTME: Tests for the engine against a real SQLite store and a fake completion client.
// ABOUTME: Covers context building, history bounds, facts, clearing, reviews, and lifecycle.

package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sable-bot/sable/internal/assist"
	"github.com/sable-bot/sable/internal/platform"
	"github.com/sable-bot/sable/internal/store"
)

type fakeAssist struct {
	mu       sync.Mutex
	chats    [][]assist.ChatMessage
	reply    string
	extracts map[string]*assist.ExtractResult
}

func (f *fakeAssist) Chat(ctx context.Context, messages []assist.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, messages)
	return f.reply, nil
}

func (f *fakeAssist) Imagine(ctx context.Context, prompt string) (string, error) {
	return "https://img.test/" + prompt, nil
}

func (f *fakeAssist) WebExtract(ctx context.Context, url string, extractLinks bool) (*assist.ExtractResult, error) {
	if r, ok := f.extracts[url]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("no page at %s", url)
}

func (f *fakeAssist) lastChat(t *testing.T) []assist.ChatMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.chats)
	return f.chats[len(f.chats)-1]
}

type fakeConnector struct {
	name      string
	connected bool
	sent      []string
	failConn  bool
}

func (f *fakeConnector) Name() string { return f.name }
func (f *fakeConnector) Connect(ctx context.Context) error {
	if f.failConn {
		return fmt.Errorf("dial refused")
	}
	f.connected = true
	return nil
}
func (f *fakeConnector) Disconnect() error { f.connected = false; return nil }
func (f *fakeConnector) Send(ctx context.Context, channelID, text string) error {
	f.sent = append(f.sent, channelID+"|"+text)
	return nil
}
func (f *fakeConnector) IsConnected() bool { return f.connected }

func newTestEngine(t *testing.T, fa *fakeAssist) (*Engine, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sable.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(Config{BotName: "Sable", SystemPrompt: "You are Sable.", HistoryLimit: 4}, st, fa, logger)
	return e, st
}

func dm(content string) platform.Message {
	return platform.Message{
		ID:         "m1",
		Platform:   "devnet",
		ChannelID:  "dm:user-9",
		AuthorID:   "user-9",
		AuthorName: "Ada",
		Content:    content,
		IsDM:       true,
	}
}

func TestHandleMessage_PersistsBothTurns(t *testing.T) {
	fa := &fakeAssist{reply: "Hello, Ada."}
	e, st := newTestEngine(t, fa)
	ctx := context.Background()

	reply, err := e.HandleMessage(ctx, dm("hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada.", reply)

	conv, err := st.GetOrCreateConversation(ctx, "devnet", "dm:user-9")
	require.NoError(t, err)
	history, err := st.RecentHistory(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, store.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, store.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello, Ada.", history[1].Content)
}

func TestHandleMessage_ContextStartsWithSystemPrompt(t *testing.T) {
	fa := &fakeAssist{reply: "ok"}
	e, _ := newTestEngine(t, fa)

	_, err := e.HandleMessage(context.Background(), dm("hello"))
	require.NoError(t, err)

	sent := fa.lastChat(t)
	require.NotEmpty(t, sent)
	assert.Equal(t, "system", sent[0].Role)
	assert.Contains(t, sent[0].Content, "You are Sable.")
	assert.Equal(t, "user", sent[len(sent)-1].Role)
	assert.Equal(t, "hello", sent[len(sent)-1].Content)
}

func TestHandleMessage_IncludesFacts(t *testing.T) {
	fa := &fakeAssist{reply: "ok"}
	e, st := newTestEngine(t, fa)
	ctx := context.Background()

	_, err := st.SetFact(ctx, "user-9", "devnet", "timezone", "UTC")
	require.NoError(t, err)

	_, err = e.HandleMessage(ctx, dm("hello"))
	require.NoError(t, err)

	sent := fa.lastChat(t)
	assert.Contains(t, sent[0].Content, "timezone: UTC")
	assert.Contains(t, sent[0].Content, "Ada")
}

func TestHandleMessage_HistoryIsBounded(t *testing.T) {
	fa := &fakeAssist{reply: "ok"}
	e, _ := newTestEngine(t, fa) // HistoryLimit 4
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := e.HandleMessage(ctx, dm(fmt.Sprintf("message %d", i)))
		require.NoError(t, err)
	}

	sent := fa.lastChat(t)
	// System prompt plus at most HistoryLimit turns.
	assert.LessOrEqual(t, len(sent), 5)
	assert.Equal(t, "system", sent[0].Role)
}

func TestHandleMessage_GroupTurnsAreLabeled(t *testing.T) {
	fa := &fakeAssist{reply: "ok"}
	e, _ := newTestEngine(t, fa)

	msg := platform.Message{
		Platform:   "devnet",
		ChannelID:  "g1",
		AuthorID:   "user-9",
		AuthorName: "Ada",
		Content:    "what's the plan?",
		IsMention:  true,
	}
	_, err := e.HandleMessage(context.Background(), msg)
	require.NoError(t, err)

	sent := fa.lastChat(t)
	assert.Equal(t, "Ada: what's the plan?", sent[len(sent)-1].Content)
}

func TestClearHistory(t *testing.T) {
	fa := &fakeAssist{reply: "ok"}
	e, st := newTestEngine(t, fa)
	ctx := context.Background()

	_, err := e.HandleMessage(ctx, dm("remember this"))
	require.NoError(t, err)

	require.NoError(t, e.ClearHistory(ctx, "devnet", "dm:user-9", "user-9"))

	conv, err := st.GetOrCreateConversation(ctx, "devnet", "dm:user-9")
	require.NoError(t, err)
	history, err := st.RecentHistory(ctx, conv.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestReviewURL(t *testing.T) {
	fa := &fakeAssist{
		reply: "Looks legitimate.",
		extracts: map[string]*assist.ExtractResult{
			"https://example.com": {URL: "https://example.com", Title: "Example", Content: "welcome page", Success: true},
		},
	}
	e, _ := newTestEngine(t, fa)

	out, err := e.ReviewURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Review of https://example.com")
	assert.Contains(t, out, "Looks legitimate.")

	sent := fa.lastChat(t)
	assert.Contains(t, sent[1].Content, "welcome page")
}

func TestDeepReviewURL_FollowsSameSiteLinksOnly(t *testing.T) {
	fa := &fakeAssist{
		reply: "Coherent site.",
		extracts: map[string]*assist.ExtractResult{
			"https://example.com": {
				URL: "https://example.com", Title: "Home", Content: "home", Success: true,
				Links: []string{"https://example.com/about", "https://other.test/spam", "https://example.com/about"},
			},
			"https://example.com/about": {URL: "https://example.com/about", Title: "About", Content: "about us", Success: true},
		},
	}
	e, _ := newTestEngine(t, fa)

	out, err := e.DeepReviewURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "1 linked pages")

	sent := fa.lastChat(t)
	assert.Contains(t, sent[1].Content, "about us")
	assert.NotContains(t, sent[1].Content, "spam")
}

func TestStartStop_DrivesConnectors(t *testing.T) {
	fa := &fakeAssist{reply: "ok"}
	e, _ := newTestEngine(t, fa)

	good := &fakeConnector{name: "devnet"}
	e.RegisterConnector(good)

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, good.IsConnected())

	status := e.Status()
	assert.True(t, status.Platforms["devnet"])

	require.NoError(t, e.Stop())
	assert.False(t, good.IsConnected())
}

func TestStart_ReportsFailedConnector(t *testing.T) {
	fa := &fakeAssist{reply: "ok"}
	e, _ := newTestEngine(t, fa)
	e.RegisterConnector(&fakeConnector{name: "devnet", failConn: true})

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "devnet")
}

func TestSendTo(t *testing.T) {
	fa := &fakeAssist{reply: "ok"}
	e, _ := newTestEngine(t, fa)
	conn := &fakeConnector{name: "devnet"}
	e.RegisterConnector(conn)

	require.NoError(t, e.SendTo(context.Background(), "devnet", "g1", "hello"))
	require.Len(t, conn.sent, 1)
	assert.Equal(t, "g1|hello", conn.sent[0])

	err := e.SendTo(context.Background(), "nowhere", "g1", "hello")
	assert.Error(t, err)
}

func TestStatus_ConcurrentWithStart(t *testing.T) {
	fa := &fakeAssist{reply: "ok"}
	e, _ := newTestEngine(t, fa)
	e.RegisterConnector(&fakeConnector{name: "devnet"})

	// The management API serves /status while Start is still connecting, so
	// the snapshot must be safe against a concurrent Start.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, e.Start(context.Background()))
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			e.Status()
		}
	}()
	wg.Wait()

	assert.NotEmpty(t, e.Status().Uptime)
}

func TestStatus_CountsProcessed(t *testing.T) {
	fa := &fakeAssist{reply: "ok"}
	e, _ := newTestEngine(t, fa)
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	_, err := e.HandleMessage(ctx, dm("one"))
	require.NoError(t, err)
	_, err = e.HandleMessage(ctx, dm("two"))
	require.NoError(t, err)

	status := e.Status()
	assert.Equal(t, int64(2), status.Processed)
	assert.NotNil(t, status.LastMessageAt)
	assert.NotEmpty(t, status.Uptime)
}
