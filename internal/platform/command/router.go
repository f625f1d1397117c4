// ABOUTME: Slash-command parsing and dispatch for platform connectors.
// ABOUTME: Maps a leading command token to a handler, with operator-only gating.

package command

import (
	"context"
	"fmt"
	"strings"
)

// Marker is the leading rune that distinguishes commands from conversation.
const Marker = "/"

// Request carries the parsed command and the identity of its sender.
type Request struct {
	Name      string
	Args      string
	UserID    string
	ChannelID string
	IsDM      bool
}

// Func handles one command and returns the reply text.
type Func func(ctx context.Context, req Request) (string, error)

type handler struct {
	fn         Func
	privileged bool
}

// Router dispatches parsed commands to registered handlers. Privileged
// commands are restricted to the operator identity, which is resolved at
// dispatch time because it only becomes known after authentication.
type Router struct {
	handlers map[string]handler
	operator func() string
	refusal  string
}

// NewRouter creates a Router. operator resolves the current operator id;
// refusal is the reply sent when a non-operator invokes a privileged command.
func NewRouter(operator func() string, refusal string) *Router {
	return &Router{
		handlers: make(map[string]handler),
		operator: operator,
		refusal:  refusal,
	}
}

// Register adds a command available to everyone. The name is stored without
// the marker, lowercase.
func (r *Router) Register(name string, fn Func) {
	r.handlers[strings.ToLower(name)] = handler{fn: fn}
}

// RegisterPrivileged adds a command restricted to the operator.
func (r *Router) RegisterPrivileged(name string, fn Func) {
	r.handlers[strings.ToLower(name)] = handler{fn: fn, privileged: true}
}

// Split parses text into a command name and its raw argument string.
// ok is false when the text does not start with the command marker.
func Split(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, Marker) {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	name = strings.ToLower(strings.TrimPrefix(head, Marker))
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(rest), true
}

// Dispatch parses text and invokes the matching handler. handled is false
// when the text is not a recognized command, in which case the caller falls
// through to conversational handling. Handler errors become user-visible
// error text, never a fault.
func (r *Router) Dispatch(ctx context.Context, text, userID, channelID string, isDM bool) (reply string, handled bool) {
	name, args, ok := Split(text)
	if !ok {
		return "", false
	}

	h, ok := r.handlers[name]
	if !ok {
		return "", false
	}

	if h.privileged && userID != r.operator() {
		return r.refusal, true
	}

	req := Request{
		Name:      name,
		Args:      args,
		UserID:    userID,
		ChannelID: channelID,
		IsDM:      isDM,
	}
	out, err := h.fn(ctx, req)
	if err != nil {
		return fmt.Sprintf("Command /%s failed: %s", name, err), true
	}
	return out, true
}
