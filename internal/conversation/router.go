package conversation

import (
	"context"
	"fmt"

	"github.com/dwizi/mind-bridge/internal/reply"
)

// Messenger is the outbound side of the chat platform.
type Messenger interface {
	// SendText posts text to chatID, threaded under replyTo when non-zero. It
	// returns the id of the posted message.
	SendText(ctx context.Context, chatID int64, text string, replyTo int) (int, error)
	SendTyping(ctx context.Context, chatID int64) error
}

// Outgoing is a reply that was posted.
type Outgoing struct {
	MessageID int
	Text      string
	AnchorID  int
}

// Router turns raw model output into a threaded outbound message.
type Router struct {
	messenger Messenger
}

func NewRouter(messenger Messenger) *Router {
	return &Router{messenger: messenger}
}

// Deliver parses raw and posts it. ok is false when nothing was sent because
// the model declined or the cleaned reply is blank.
func (r *Router) Deliver(ctx context.Context, kind reply.Kind, chatID int64, incomingID int, raw string) (Outgoing, bool, error) {
	parsed := reply.Parse(raw)
	if !parsed.Sendable() {
		return Outgoing{}, false, nil
	}
	anchor := reply.ResolveAnchor(kind, parsed, incomingID)
	sentID, err := r.messenger.SendText(ctx, chatID, parsed.Text, anchor)
	if err != nil {
		return Outgoing{}, false, fmt.Errorf("send reply: %w", err)
	}
	return Outgoing{MessageID: sentID, Text: parsed.Text, AnchorID: anchor}, true, nil
}
