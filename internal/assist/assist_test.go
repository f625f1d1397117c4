// ABOUTME: Tests for the completion API client.
// ABOUTME: Covers retry on rate limits and server errors, auth headers, and extract fallback.

package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c := NewClient(Config{
		APIKey:        "test-key",
		APIURL:        serverURL,
		Model:         "test-model",
		MaxTokens:     128,
		RetryAttempts: 3,
	}, nil)
	c.backoffBase = time.Millisecond
	return c
}

func chatOK(content string) []byte {
	out, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return out
}

func TestChat_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.NotEmpty(t, req.Messages)

		w.Write(chatOK("hi there"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	reply, err := c.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
}

func TestChat_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(chatOK("finally"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	reply, err := c.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "finally", reply)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChat_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(chatOK("recovered"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	reply, err := c.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
}

func TestChat_ClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChat_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hello"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestImagine_BuildsEscapedURL(t *testing.T) {
	c := newTestClient(t, "http://unused")
	u, err := c.Imagine(context.Background(), "a red fox & friends")
	require.NoError(t, err)
	assert.Contains(t, u, "image.pollinations.ai/prompt/")
	assert.NotContains(t, u, " ")
	assert.NotContains(t, u, "&friends")

	_, err = c.Imagine(context.Background(), "   ")
	assert.Error(t, err)
}

func TestWebExtract_BrowserFirstThenFallback(t *testing.T) {
	var browserTried, httpTried atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/web/extract", r.URL.Path)
		var req extractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.UseBrowser {
			browserTried.Store(true)
			json.NewEncoder(w).Encode(ExtractResult{Success: false, ErrorMessage: "render timeout"})
			return
		}
		httpTried.Store(true)
		json.NewEncoder(w).Encode(ExtractResult{
			URL:     req.URL,
			Title:   "Example",
			Content: "page text",
			Success: true,
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.WebExtract(context.Background(), "https://example.com", false)
	require.NoError(t, err)
	assert.True(t, browserTried.Load())
	assert.True(t, httpTried.Load())
	assert.Equal(t, "Example", result.Title)
	assert.Equal(t, "page text", result.Content)
}

func TestWebExtract_BothFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExtractResult{Success: false, ErrorCode: "blocked"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.WebExtract(context.Background(), "https://example.com", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}
