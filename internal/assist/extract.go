// ABOUTME: Web page extraction through the completion API's extract endpoint.
// ABOUTME: Tries browser extraction first for SPA support, then falls back to plain HTTP.

package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ExtractResult is the content pulled from one web page.
type ExtractResult struct {
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Links   []string `json:"links"`
	Success bool     `json:"success"`

	ErrorMessage string `json:"error_message"`
	ErrorCode    string `json:"error_code"`
}

type extractRequest struct {
	URL              string `json:"url"`
	ExtractLinks     bool   `json:"extract_links"`
	MaxContentLength int    `json:"max_content_length"`
	UseBrowser       bool   `json:"use_browser"`
}

const extractMaxContentLength = 15000

// WebExtract pulls readable content from a page. Browser extraction handles
// script-rendered sites; when it fails the call is retried without a browser
// before giving up.
func (c *Client) WebExtract(ctx context.Context, pageURL string, extractLinks bool) (*ExtractResult, error) {
	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/v1/web/extract"

	req := extractRequest{
		URL:              pageURL,
		ExtractLinks:     extractLinks,
		MaxContentLength: extractMaxContentLength,
		UseBrowser:       true,
	}

	result, err := c.extractOnce(ctx, endpoint, req)
	if err == nil && result.Success {
		return result, nil
	}
	if err != nil {
		c.logger.Warn("browser extraction failed, trying HTTP fallback", "url", pageURL, "error", err)
	} else {
		c.logger.Warn("browser extraction unsuccessful, trying HTTP fallback",
			"url", pageURL, "error", extractError(result))
	}

	req.UseBrowser = false
	result, err = c.extractOnce(ctx, endpoint, req)
	if err != nil {
		return nil, fmt.Errorf("web extract: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("web extract failed: %s", extractError(result))
	}
	return result, nil
}

// extractOnce performs a single extract call.
func (c *Client) extractOnce(ctx context.Context, endpoint string, req extractRequest) (*ExtractResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding extract request: %w", err)
	}

	resp, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading extract response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extract endpoint returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result ExtractResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding extract response: %w", err)
	}
	return &result, nil
}

func extractError(r *ExtractResult) string {
	if r.ErrorMessage != "" {
		return r.ErrorMessage
	}
	if r.ErrorCode != "" {
		return r.ErrorCode
	}
	return "unknown"
}
