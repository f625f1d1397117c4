// ABOUTME: Client for the remote completion API: chat, image URLs, and key validation.
// ABOUTME: Retries server errors and rate limits with doubling backoff before surfacing an error.

package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ChatMessage is one turn in a completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config holds completion API settings.
type Config struct {
	APIKey        string
	APIURL        string
	Model         string
	Provider      string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	RetryAttempts int
}

// Client talks to the completion API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	// backoffBase is the first retry delay; shortened in tests.
	backoffBase time.Duration
}

// NewClient creates a completion client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:         cfg,
		http:        &http.Client{Timeout: cfg.Timeout},
		logger:      logger.With("component", "assist"),
		backoffBase: time.Second,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends a completion request and returns the assistant's reply text.
// Rate limits and server errors are retried with doubling backoff; other
// failures return immediately.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/v1/chat/completions"

	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		resp, err := c.post(ctx, endpoint, payload)
		if err != nil {
			lastErr = err
			c.logger.Warn("chat request failed", "attempt", attempt+1, "error", err)
			if err := c.wait(ctx, c.backoffBase); err != nil {
				return "", err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var out chatResponse
			if err := json.Unmarshal(body, &out); err != nil {
				return "", fmt.Errorf("decoding chat response: %w", err)
			}
			if len(out.Choices) == 0 {
				return "", fmt.Errorf("chat response has no choices")
			}
			return out.Choices[0].Message.Content, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			delay := c.backoffBase * (1 << attempt)
			c.logger.Warn("rate limited by completion API", "delay", delay, "attempt", attempt+1)
			lastErr = fmt.Errorf("rate limited (HTTP 429)")
			if err := c.wait(ctx, delay); err != nil {
				return "", err
			}

		case resp.StatusCode >= 500:
			c.logger.Warn("completion API server error", "status", resp.StatusCode, "attempt", attempt+1)
			lastErr = fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
			if err := c.wait(ctx, c.backoffBase); err != nil {
				return "", err
			}

		default:
			return "", fmt.Errorf("completion API error (HTTP %d): %s", resp.StatusCode, truncate(string(body), 200))
		}
	}

	return "", fmt.Errorf("chat failed after %d attempts: %w", c.cfg.RetryAttempts, lastErr)
}

// Imagine returns a URL that renders the prompt as an image. The image host
// generates on fetch, so no API call happens here.
func (c *Client) Imagine(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("empty image prompt")
	}
	return "https://image.pollinations.ai/prompt/" + url.QueryEscape(prompt) +
		"?width=1024&height=1024&nologo=true", nil
}

// ValidateKey checks the configured API key with a cheap request.
func (c *Client) ValidateKey(ctx context.Context) bool {
	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// post sends a JSON POST with auth headers.
func (c *Client) post(ctx context.Context, endpoint string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	return c.http.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Provider != "" {
		req.Header.Set("X-Assist-Provider", c.cfg.Provider)
	}
}

// wait sleeps for d or until ctx is done.
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
