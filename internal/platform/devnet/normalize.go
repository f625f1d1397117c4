// ABOUTME: Converts raw DevNet frames into the shared platform.Message shape.
// ABOUTME: Handles mention detection and stripping, channel ids, and author fallbacks.

package devnet

import (
	"strings"
	"time"

	"github.com/sable-bot/sable/internal/platform"
)

// normalize maps a frame to the platform-neutral message. DM channel ids get
// the "dm:" prefix so one string addresses both kinds of channel. Mentions of
// the bot are stripped from the content after detection.
func (c *Connector) normalize(f frame, isDM bool) platform.Message {
	ident := c.Identity()

	content := f.Content
	mentioned := false
	if ident != nil {
		mentioned = containsMention(content, ident)
		if mentioned {
			content = stripMentions(content, ident)
		}
	}

	channelID := f.GroupID
	if isDM {
		channelID = "dm:" + f.SenderID
	}

	name := f.SenderName
	if name == "" {
		name = "User"
	}

	return platform.Message{
		ID:         f.ID,
		Platform:   platform.NameDevNet,
		ChannelID:  channelID,
		AuthorID:   f.SenderID,
		AuthorName: name,
		Content:    strings.TrimSpace(content),
		Timestamp:  time.Now().UTC(),
		IsDM:       isDM,
		IsMention:  mentioned,
	}
}

func containsMention(content string, ident *BotIdentity) bool {
	lower := strings.ToLower(content)
	if ident.Username != "" && strings.Contains(lower, "@"+strings.ToLower(ident.Username)) {
		return true
	}
	if ident.DisplayName != "" && strings.Contains(lower, "@"+strings.ToLower(ident.DisplayName)) {
		return true
	}
	return false
}

func stripMentions(content string, ident *BotIdentity) string {
	if ident.Username != "" {
		content = removeFold(content, "@"+ident.Username)
	}
	if ident.DisplayName != "" {
		content = removeFold(content, "@"+ident.DisplayName)
	}
	return strings.TrimSpace(content)
}

// removeFold deletes every case-insensitive occurrence of token from s.
func removeFold(s, token string) string {
	if token == "" {
		return s
	}
	lower := strings.ToLower(s)
	lt := strings.ToLower(token)
	if len(lower) != len(s) || len(lt) != len(token) {
		// Case folding changed byte lengths; fall back to exact matches.
		return strings.ReplaceAll(s, token, "")
	}

	var b strings.Builder
	i := 0
	for i < len(s) {
		j := strings.Index(lower[i:], lt)
		if j < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+j])
		i += j + len(lt)
	}
	return b.String()
}
