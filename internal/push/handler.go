// Package push handles "new message" hints delivered outside the chat
// connection.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatclient/internal/models"
	"chatclient/internal/observability"
	"chatclient/internal/wire"
)

type Remote interface {
	FetchMessage(ctx context.Context, chatID, messageID string) (wire.MessagePayload, error)
}

type Messages interface {
	HandleMessage(ctx context.Context, msg models.ChatMessage) error
}

type Media interface {
	Prefetch(ctx context.Context, msg models.ChatMessage) error
}

type NewMessageHandler struct {
	remote   Remote
	messages Messages
	media    Media
	now      func() time.Time
}

// NewNewMessageHandler builds a handler. media may be nil, in which case
// images are not prefetched.
func NewNewMessageHandler(remote Remote, messages Messages, media Media) *NewMessageHandler {
	return &NewMessageHandler{
		remote:   remote,
		messages: messages,
		media:    media,
		now:      time.Now,
	}
}

// HandleIncomingMessage fetches the announced message and stores it. done is
// always called, whatever the outcome. Handling the same hint twice leaves a
// single message.
func (h *NewMessageHandler) HandleIncomingMessage(ctx context.Context, chatID, messageID string, done func()) error {
	defer func() {
		if done != nil {
			done()
		}
	}()

	payload, err := h.remote.FetchMessage(ctx, chatID, messageID)
	if err != nil {
		observability.IncSync("push", "error")
		return fmt.Errorf("failed to fetch message %s: %w", messageID, err)
	}

	msg := payload.ToChatMessage(h.now())
	if err := h.messages.HandleMessage(ctx, msg); err != nil {
		observability.IncSync("push", "error")
		return err
	}
	observability.IncSync("push", "ok")

	if h.media != nil && len(msg.ImageURLs) > 0 {
		if err := h.media.Prefetch(ctx, msg); err != nil {
			slog.Warn("failed to prefetch message images", "message_id", msg.ID, "error", err)
		}
	}
	return nil
}
