// ABOUTME: Tests for the management API over httptest.
// ABOUTME: Covers key middleware, platform control, conversations, memory, and send.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sable-bot/sable/internal/assist"
	"github.com/sable-bot/sable/internal/engine"
	"github.com/sable-bot/sable/internal/store"
)

type stubAssist struct{}

func (stubAssist) Chat(ctx context.Context, messages []assist.ChatMessage) (string, error) {
	return "ok", nil
}
func (stubAssist) Imagine(ctx context.Context, prompt string) (string, error) {
	return "https://img.test/x", nil
}
func (stubAssist) WebExtract(ctx context.Context, url string, extractLinks bool) (*assist.ExtractResult, error) {
	return nil, fmt.Errorf("no extraction in tests")
}

type stubConnector struct {
	name      string
	connected bool
	sent      []string
}

func (s *stubConnector) Name() string                    { return s.name }
func (s *stubConnector) Connect(context.Context) error   { s.connected = true; return nil }
func (s *stubConnector) Disconnect() error               { s.connected = false; return nil }
func (s *stubConnector) IsConnected() bool               { return s.connected }
func (s *stubConnector) Send(ctx context.Context, channelID, text string) error {
	s.sent = append(s.sent, channelID+"|"+text)
	return nil
}

type fixture struct {
	srv   *httptest.Server
	store store.Store
	conn  *stubConnector
	key   string
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sable.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(engine.Config{BotName: "Sable"}, st, stubAssist{}, logger)
	conn := &stubConnector{name: "devnet"}
	eng.RegisterConnector(conn)

	s := New("127.0.0.1:0", apiKey, eng, st, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: st, conn: conn, key: apiKey}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if f.key != "" {
		req.Header.Set("X-API-Key", f.key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAPIKey_Required(t *testing.T) {
	f := newFixture(t, "secret")

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2 := f.do(t, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestAPIKey_OpenWhenUnset(t *testing.T) {
	f := newFixture(t, "")
	resp := f.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]string](t, resp)
	assert.Equal(t, "sable", out["name"])
}

func TestStatus(t *testing.T) {
	f := newFixture(t, "")
	resp := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	assert.Equal(t, "Sable", out["bot_name"])
}

func TestPlatforms_ConnectDisconnect(t *testing.T) {
	f := newFixture(t, "")

	resp := f.do(t, http.MethodGet, "/platforms", nil)
	list := decode[[]map[string]any](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "devnet", list[0]["name"])
	assert.Equal(t, false, list[0]["connected"])

	resp = f.do(t, http.MethodPost, "/platforms/devnet/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.conn.IsConnected())

	resp = f.do(t, http.MethodPost, "/platforms/devnet/disconnect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, f.conn.IsConnected())

	resp = f.do(t, http.MethodPost, "/platforms/nowhere/connect", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConversations_ListMessagesDelete(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	conv, err := f.store.GetOrCreateConversation(ctx, "devnet", "dm:user-9")
	require.NoError(t, err)
	_, err = f.store.AppendMessage(ctx, conv.ID, store.RoleUser, "user-9", "Ada", "hello")
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/conversations", nil)
	convs := decode[[]map[string]any](t, resp)
	require.Len(t, convs, 1)
	assert.Equal(t, "dm:user-9", convs[0]["channel_id"])

	resp = f.do(t, http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	msgs := decode[[]map[string]any](t, resp)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0]["content"])

	resp = f.do(t, http.MethodDelete, "/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	msgs = decode[[]map[string]any](t, resp)
	assert.Empty(t, msgs)
}

func TestMemory_SetAndGet(t *testing.T) {
	f := newFixture(t, "")

	resp := f.do(t, http.MethodPost, "/memory", map[string]string{
		"user_id": "user-9", "platform": "devnet", "key": "likes", "value": "go",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/memory?user_id=user-9&platform=devnet", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	facts := decode[[]map[string]any](t, resp)
	require.Len(t, facts, 1)
	assert.Equal(t, "likes", facts[0]["key"])
	assert.Equal(t, "go", facts[0]["value"])

	resp = f.do(t, http.MethodGet, "/memory", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, "")

	resp := f.do(t, http.MethodPost, "/message", map[string]string{
		"platform": "devnet", "channel_id": "g1", "text": "announcement",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, f.conn.sent, 1)
	assert.Equal(t, "g1|announcement", f.conn.sent[0])

	resp = f.do(t, http.MethodPost, "/message", map[string]string{
		"platform": "nowhere", "channel_id": "g1", "text": "announcement",
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/message", map[string]string{"platform": "devnet"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
