// ABOUTME: DevNet REST client: identity, DM and group sends, discovery, applications, posts.
// ABOUTME: All outbound messages go over REST; the duplex channel only receives.

package devnet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrNotApproved marks a group send rejected because the bot is not an
// approved member of the group.
var ErrNotApproved = errors.New("bot not approved for group")

// BotIdentity is the authenticated bot account as the platform sees it.
type BotIdentity struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"displayName"`
	OperatorID  string  `json:"operator_id"`
	BotData     BotData `json:"bot_data"`
}

// BotData carries bot-specific account fields.
type BotData struct {
	ApprovedGroups []string `json:"approved_groups"`
	OperatorID     string   `json:"operator_id"`
}

// Operator returns the operator's user id, wherever the platform put it.
func (b *BotIdentity) Operator() string {
	if b.OperatorID != "" {
		return b.OperatorID
	}
	return b.BotData.OperatorID
}

// Group is one entry from group discovery.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Status      string `json:"status"`
	MemberCount int    `json:"member_count"`
}

// fetchIdentity validates the token and returns the bot's account. An HTML
// body means we reached something that is not the API, which is worth calling
// out separately from a bad token.
func (c *Connector) fetchIdentity(ctx context.Context) (*BotIdentity, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/bots/me", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching bot identity: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading identity response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if strings.Contains(strings.ToLower(string(body)), "<html") {
			return nil, fmt.Errorf("platform returned HTML (HTTP %d), is %s the API address?", resp.StatusCode, c.cfg.APIURL)
		}
		return nil, fmt.Errorf("identity check failed (HTTP %d): %s", resp.StatusCode, snippet(body))
	}

	var ident BotIdentity
	if err := json.Unmarshal(body, &ident); err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	return &ident, nil
}

type dmPayload struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

// sendDM delivers one chunk to a user's DM channel.
func (c *Connector) sendDM(ctx context.Context, userID, content, imageURL string) error {
	payload, err := json.Marshal(dmPayload{Content: content, ImageURL: imageURL})
	if err != nil {
		return fmt.Errorf("encoding dm: %w", err)
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/bots/dm/"+url.PathEscape(userID), payload)
	if err != nil {
		return fmt.Errorf("sending dm: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("dm rejected (HTTP %d): %s", resp.StatusCode, snippet(body))
	}
	return nil
}

type groupMessagePayload struct {
	Content string `json:"content"`
}

// sendGroupMessage delivers one chunk to a group. A 403 means the bot is not
// an approved member and surfaces as ErrNotApproved so callers can apply.
func (c *Connector) sendGroupMessage(ctx context.Context, groupID, content string) error {
	payload, err := json.Marshal(groupMessagePayload{Content: content})
	if err != nil {
		return fmt.Errorf("encoding group message: %w", err)
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/bots/groups/"+url.PathEscape(groupID)+"/messages", payload)
	if err != nil {
		return fmt.Errorf("sending group message: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusForbidden:
		return ErrNotApproved
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("group message rejected (HTTP %d): %s", resp.StatusCode, snippet(body))
	}
}

// RequestAccess applies for membership in a group. Approval is asynchronous;
// the operator of the group decides.
func (c *Connector) RequestAccess(ctx context.Context, groupID string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/bots/groups/"+url.PathEscape(groupID)+"/apply", []byte("{}"))
	if err != nil {
		return fmt.Errorf("requesting group access: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("access request rejected (HTTP %d): %s", resp.StatusCode, snippet(body))
	}
	return nil
}

// discoverGroups lists groups the bot could join, optionally filtered.
func (c *Connector) discoverGroups(ctx context.Context, query string, limit int) ([]Group, error) {
	path := "/api/bots/discover?limit=" + strconv.Itoa(limit)
	if query != "" {
		path += "&q=" + url.QueryEscape(query)
	}
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("discovering groups: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading discovery response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery failed (HTTP %d): %s", resp.StatusCode, snippet(body))
	}

	var groups []Group
	if err := json.Unmarshal(body, &groups); err != nil {
		// Some deployments wrap the list.
		var wrapped struct {
			Groups []Group `json:"groups"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decoding discovery response: %w", err)
		}
		groups = wrapped.Groups
	}
	return groups, nil
}

type postPayload struct {
	Content string `json:"content"`
}

// CreatePost publishes to the bot's public feed.
func (c *Connector) CreatePost(ctx context.Context, content string) error {
	payload, err := json.Marshal(postPayload{Content: content})
	if err != nil {
		return fmt.Errorf("encoding post: %w", err)
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/bots/posts", payload)
	if err != nil {
		return fmt.Errorf("creating post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("post rejected (HTTP %d): %s", resp.StatusCode, snippet(body))
	}
	return nil
}

func (c *Connector) doRequest(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + path

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BotToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpc.Do(req)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
