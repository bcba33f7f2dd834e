package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/city-pulse/internal/observability"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is one entry of a chat transcript.
type Message struct {
	ID    string    `json:"id"`
	Role  Role      `json:"role"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
	Error bool      `json:"error,omitempty"`
}

// chatReplyPaths is the order in which reply fields are tried.
var chatReplyPaths = []string{"Response", "reply", "text", "message", "0.reply", "0.text", "0.Response"}

// Chat relays chat questions to the assistant webhook.
type Chat struct {
	hook   webhook
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewChat creates a chat relay. A nil clock uses real time.
func NewChat(url string, timeout time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Chat {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Chat{
		hook:   newWebhook("chat", url, timeout, metrics),
		clock:  clock,
		logger: logger,
	}
}

// Configured reports whether a webhook URL is set.
func (c *Chat) Configured() bool { return c.hook.configured() }

// UserMessage wraps text as the user's side of the transcript.
func (c *Chat) UserMessage(text string) Message {
	return c.message(RoleUser, text, false)
}

// Ask sends text and returns the bot reply. Failures come back as a bot
// message with Error set, never as an error.
func (c *Chat) Ask(ctx context.Context, text string) Message {
	body, err := c.hook.post(ctx, map[string]string{"text": text})
	if err != nil {
		c.logger.Warn("chat relay failed", "error", err)
		return c.message(RoleBot, failureText(err), true)
	}

	reply, ok := replyText(body, chatReplyPaths)
	if !ok {
		reply = strings.TrimSpace(string(body))
	}
	if reply == "" {
		reply = "No reply"
	}
	return c.message(RoleBot, reply, false)
}

func (c *Chat) message(role Role, text string, failed bool) Message {
	return Message{
		ID:    uuid.NewString(),
		Role:  role,
		Text:  text,
		Time:  c.clock.Now(),
		Error: failed,
	}
}

func failureText(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "Configuration error: chat webhook is not configured"
	case errors.As(err, &se):
		return "Webhook error: " + se.Error()
	default:
		return "Request failed: " + err.Error()
	}
}
