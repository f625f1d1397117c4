// ABOUTME: Listen task for the DevNet duplex channel: frame decoding and dispatch.
// ABOUTME: Routes dm/group_message frames through filters to the command router or handler.

package devnet

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"

	"github.com/sable-bot/sable/internal/platform"
)

// frame is an inbound message on the duplex channel. Fields are a union over
// all frame types; unused ones stay zero.
type frame struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	GroupID    string `json:"group_id"`
}

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type subscribeFrame struct {
	Action  string `json:"action"`
	GroupID string `json:"group_id"`
}

type pongFrame struct {
	Action string `json:"action"`
}

// listen reads frames until the channel breaks or ctx is cancelled. A decode
// failure skips the frame; only a transport error ends the loop. When the loop
// ends without cancellation, the caller starts the reconnect path.
func (c *Connector) listen(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Debug("listen task cancelled")
				return
			}
			c.logger.Warn("duplex channel closed", "error", err)
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.logger.Warn("skipping malformed frame", "error", err)
			continue
		}
		c.handleFrame(ctx, conn, f)
	}
}

// handleFrame dispatches one frame. A failing handler never takes down the
// listen task.
func (c *Connector) handleFrame(ctx context.Context, conn *websocket.Conn, f frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("frame handler panicked", "type", f.Type, "panic", r)
		}
	}()

	switch f.Type {
	case "dm":
		c.handleDM(ctx, f)
	case "group_message":
		c.handleGroup(ctx, f)
	case "feed_post":
		// Feed posts are broadcast noise, never replied to.
	case "ping":
		if err := c.writeFrame(conn, pongFrame{Action: "pong"}); err != nil {
			c.logger.Warn("pong failed", "error", err)
		}
	default:
		c.logger.Debug("ignoring unknown frame", "type", f.Type)
	}
}

// handleDM processes a direct message frame.
func (c *Connector) handleDM(ctx context.Context, f frame) {
	if !c.cfg.RespondToDMs {
		return
	}
	ident := c.Identity()
	if ident != nil && f.SenderID == ident.ID {
		return
	}
	if f.SenderID == "" {
		return
	}
	if f.ID != "" && c.seen.CheckAndMark("dm:"+f.ID) {
		c.logger.Debug("dropping duplicate dm", "id", f.ID)
		return
	}
	if !c.limiter.Allow(rateKey(f.SenderID), c.cfg.RateLimitMessages, c.cfg.RateLimitWindow) {
		c.logger.Debug("rate limited", "sender", f.SenderID)
		return
	}

	channelID := "dm:" + f.SenderID
	if reply, handled := c.router.Dispatch(ctx, f.Content, f.SenderID, channelID, true); handled {
		c.reply(ctx, channelID, reply)
		return
	}

	msg := c.normalize(f, true)
	reply, err := c.handler.HandleMessage(ctx, msg)
	if err != nil {
		c.logger.Error("message handler failed", "channel", channelID, "error", err)
		c.reply(ctx, channelID, "Sorry, something went wrong while I was thinking. Please try again.")
		return
	}
	c.reply(ctx, channelID, reply)
}

// handleGroup processes a group message frame. In groups the bot only speaks
// when spoken to: unless configured otherwise, a mention is required.
func (c *Connector) handleGroup(ctx context.Context, f frame) {
	if !c.cfg.RespondToGroups || f.GroupID == "" {
		return
	}
	ident := c.Identity()
	if ident != nil && f.SenderID == ident.ID {
		return
	}
	if f.SenderID == "" {
		return
	}

	msg := c.normalize(f, false)
	if c.cfg.RequireMentionInGroups && !msg.IsMention {
		return
	}
	if f.ID != "" && c.seen.CheckAndMark("group:"+f.ID) {
		c.logger.Debug("dropping duplicate group message", "id", f.ID)
		return
	}
	if !c.limiter.Allow(rateKey(f.SenderID), c.cfg.RateLimitMessages, c.cfg.RateLimitWindow) {
		c.logger.Debug("rate limited", "sender", f.SenderID)
		return
	}

	if reply, handled := c.router.Dispatch(ctx, msg.Content, f.SenderID, f.GroupID, false); handled {
		c.reply(ctx, f.GroupID, reply)
		return
	}

	reply, err := c.handler.HandleMessage(ctx, msg)
	if err != nil {
		c.logger.Error("message handler failed", "channel", f.GroupID, "error", err)
		c.reply(ctx, f.GroupID, "Sorry, something went wrong while I was thinking. Please try again.")
		return
	}
	c.reply(ctx, f.GroupID, reply)
}

// reply sends a non-empty reply and handles the not-approved path: a rejected
// group send triggers an explicit access request so the operator sees the
// application in the group's queue.
func (c *Connector) reply(ctx context.Context, channelID, text string) {
	if text == "" {
		return
	}
	err := c.Send(ctx, channelID, text)
	if err == nil {
		return
	}
	if errors.Is(err, ErrNotApproved) {
		c.logger.Info("not approved for group, requesting access", "group", channelID)
		if applyErr := c.RequestAccess(ctx, channelID); applyErr != nil {
			c.logger.Warn("access request failed", "group", channelID, "error", applyErr)
		}
		return
	}
	c.logger.Error("send failed", "channel", channelID, "error", err)
}

func rateKey(senderID string) string {
	return platform.NameDevNet + ":" + senderID
}
