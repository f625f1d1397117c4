// ABOUTME: Built-in slash commands for the DevNet connector.
// ABOUTME: Public commands plus operator-only group discovery and access requests.

package devnet

import (
	"context"
	"fmt"
	"strings"

	"github.com/sable-bot/sable/internal/platform"
	"github.com/sable-bot/sable/internal/platform/command"
)

func (c *Connector) registerCommands() {
	c.router.Register("help", c.cmdHelp)
	c.router.Register("info", c.cmdInfo)
	c.router.Register("clear", c.cmdClear)
	c.router.Register("imagine", c.cmdImagine)
	c.router.Register("review", c.cmdReview)
	c.router.Register("deepsearch", c.cmdDeepSearch)
	c.router.RegisterPrivileged("groups", c.cmdGroups)
	c.router.RegisterPrivileged("knock", c.cmdKnock)
	c.router.RegisterPrivileged("post", c.cmdPost)
}

func (c *Connector) cmdHelp(ctx context.Context, req command.Request) (string, error) {
	var b strings.Builder
	b.WriteString("**Commands**\n\n")
	b.WriteString("/help - show this message\n")
	b.WriteString("/info - who I am and how I'm doing\n")
	b.WriteString("/clear - forget this conversation's history\n")
	b.WriteString("/imagine <prompt> - generate an image\n")
	b.WriteString("/review <url> - review a website\n")
	b.WriteString("/deepsearch <url> - review a website and the pages it links to\n")
	if req.UserID == c.operatorID() {
		b.WriteString("\n**Operator**\n\n")
		b.WriteString("/groups [query] - discover groups\n")
		b.WriteString("/knock <group-id> - request access to a group\n")
		b.WriteString("/post <text> - publish to my public feed\n")
	}
	b.WriteString("\nOutside commands, just talk to me.")
	return b.String(), nil
}

func (c *Connector) cmdInfo(ctx context.Context, req command.Request) (string, error) {
	ident := c.Identity()
	if ident == nil {
		return "I haven't finished waking up yet, ask again in a moment.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (@%s)\n\n", ident.DisplayName, ident.Username)
	fmt.Fprintf(&b, "Connection: %s\n", c.State())
	fmt.Fprintf(&b, "Approved groups: %d\n", len(ident.BotData.ApprovedGroups))
	return b.String(), nil
}

func (c *Connector) cmdClear(ctx context.Context, req command.Request) (string, error) {
	if err := c.handler.ClearHistory(ctx, platform.NameDevNet, req.ChannelID, req.UserID); err != nil {
		return "", err
	}
	return "Conversation history cleared.", nil
}

func (c *Connector) cmdImagine(ctx context.Context, req command.Request) (string, error) {
	im, ok := c.handler.(platform.Imager)
	if !ok {
		return "Image generation isn't available right now.", nil
	}
	if req.Args == "" {
		return "Usage: /imagine <prompt>", nil
	}
	imageURL, err := im.GenerateImage(ctx, req.Args)
	if err != nil {
		return "", err
	}
	// DMs carry a native image attachment; groups fall back to markdown.
	if req.IsDM {
		if err := c.sendDM(ctx, req.UserID, fmt.Sprintf("**Generated Image**\n\n%s", req.Args), imageURL); err != nil {
			return "", err
		}
		return "", nil
	}
	return fmt.Sprintf("**Generated Image**\n\n%s\n\n![Image](%s)", req.Args, imageURL), nil
}

func (c *Connector) cmdReview(ctx context.Context, req command.Request) (string, error) {
	rv, ok := c.handler.(platform.Reviewer)
	if !ok {
		return "Website review isn't available right now.", nil
	}
	if req.Args == "" {
		return "Usage: /review <url>", nil
	}
	return rv.ReviewURL(ctx, normalizeURL(req.Args))
}

func (c *Connector) cmdDeepSearch(ctx context.Context, req command.Request) (string, error) {
	rv, ok := c.handler.(platform.DeepReviewer)
	if !ok {
		return "Deep review isn't available right now.", nil
	}
	if req.Args == "" {
		return "Usage: /deepsearch <url>", nil
	}
	return rv.DeepReviewURL(ctx, normalizeURL(req.Args))
}

func (c *Connector) cmdGroups(ctx context.Context, req command.Request) (string, error) {
	groups, err := c.discoverGroups(ctx, req.Args, 20)
	if err != nil {
		return "", err
	}
	if len(groups) == 0 {
		return "No groups found.", nil
	}

	var b strings.Builder
	b.WriteString("**Groups**\n\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "- **%s** (`%s`)", g.Name, g.ID)
		if g.MemberCount > 0 {
			fmt.Fprintf(&b, " - %d members", g.MemberCount)
		}
		if g.Description != "" {
			fmt.Fprintf(&b, "\n  %s", g.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nUse /knock <group-id> to request access.")
	return b.String(), nil
}

func (c *Connector) cmdKnock(ctx context.Context, req command.Request) (string, error) {
	if req.Args == "" {
		return "Usage: /knock <group-id>", nil
	}
	groupID := strings.Fields(req.Args)[0]
	if err := c.RequestAccess(ctx, groupID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Requested access to group `%s`. Approval is up to the group's admins.", groupID), nil
}

func (c *Connector) cmdPost(ctx context.Context, req command.Request) (string, error) {
	if req.Args == "" {
		return "Usage: /post <text>", nil
	}
	if err := c.CreatePost(ctx, req.Args); err != nil {
		return "", err
	}
	return "Posted to the feed.", nil
}

// normalizeURL prepends https:// when no scheme is present.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "https://" + raw
	}
	return raw
}
