// Package message owns the local message timeline and the outgoing message
// delivery status.
package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatclient/internal/auth"
	"chatclient/internal/content"
	"chatclient/internal/models"
	"chatclient/internal/observability"
	"chatclient/internal/storage"
	"chatclient/internal/wire"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrNotRetriable = errors.New("message is not in failed state")
)

// Sender writes a message on the live chat connection.
type Sender interface {
	SendMessage(ctx context.Context, msg wire.OutgoingNewMessage) error
}

type Remote interface {
	FetchMessages(ctx context.Context, chatID string, before time.Time) ([]wire.MessagePayload, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

type Store interface {
	UpsertMessages(messages ...models.ChatMessage) error
	GetMessage(id string) (models.ChatMessage, error)
	ListMessages(chatID string, limit int) ([]models.ChatMessage, error)
	OldestMessage(chatID string) (models.ChatMessage, error)
	UpdateDeliveryStatus(id string, status models.DeliveryStatus, at time.Time) error
	DeleteMessage(id string) error
	Watch(ctx context.Context, tables ...storage.Table) <-chan struct{}
}

type Sessions interface {
	Current() *auth.Session
}

type Config struct {
	Sender   Sender
	Remote   Remote
	Store    Store
	Sessions Sessions
}

type Repository struct {
	sender   Sender
	remote   Remote
	store    Store
	sessions Sessions
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

func NewRepository(config Config) *Repository {
	return &Repository{
		sender:   config.Sender,
		remote:   config.Remote,
		store:    config.Store,
		sessions: config.Sessions,
		validate: validator.New(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetSender wires the connection after construction; the connection in turn
// needs the repository as its message handler.
func (r *Repository) SetSender(sender Sender) {
	r.sender = sender
}

// HandleMessage stores a message pushed by the server. Messages are upserted
// by id, so a redelivered message replaces the existing row.
func (r *Repository) HandleMessage(_ context.Context, msg models.ChatMessage) error {
	if err := r.store.UpsertMessages(msg); err != nil {
		return fmt.Errorf("failed to store message %s: %w", msg.ID, err)
	}
	return nil
}

func (r *Repository) UpdateDeliveryStatus(messageID string, status models.DeliveryStatus) error {
	return r.store.UpdateDeliveryStatus(messageID, status, r.now())
}

// SendMessage stores a new message as SENDING and writes it on the live
// connection. When that fails the row is kept and marked FAILED, and the send
// error is returned together with the message. A successful write leaves the
// row SENDING until the server echoes it back.
func (r *Repository) SendMessage(ctx context.Context, chatID, text string) (models.ChatMessage, error) {
	session := r.sessions.Current()
	if session == nil {
		return models.ChatMessage{}, auth.ErrNoSession
	}

	out := wire.OutgoingNewMessage{
		MessageID:   r.newID(),
		ChatID:      chatID,
		Content:     content.MessageText(text),
		MessageType: models.MessageTypeText,
	}
	if err := r.validate.Struct(out); err != nil {
		return models.ChatMessage{}, fmt.Errorf("invalid message: %w", err)
	}

	senderID := session.UserID
	msg := models.ChatMessage{
		ID:             out.MessageID,
		ChatID:         out.ChatID,
		SenderID:       &senderID,
		Content:        out.Content,
		MessageType:    out.MessageType,
		CreatedAt:      r.now(),
		DeliveryStatus: models.DeliverySending,
	}
	if err := r.store.UpsertMessages(msg); err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to store message: %w", err)
	}

	return r.deliver(ctx, msg)
}

// RetryMessage sends a FAILED message again under its original id.
func (r *Repository) RetryMessage(ctx context.Context, messageID string) (models.ChatMessage, error) {
	msg, err := r.store.GetMessage(messageID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	if msg.DeliveryStatus != models.DeliveryFailed {
		return msg, fmt.Errorf("%w: %s is %s", ErrNotRetriable, messageID, msg.DeliveryStatus)
	}

	if err := r.store.UpdateDeliveryStatus(messageID, models.DeliverySending, r.now()); err != nil {
		return msg, err
	}
	msg.DeliveryStatus = models.DeliverySending
	return r.deliver(ctx, msg)
}

func (r *Repository) deliver(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	err := r.sender.SendMessage(ctx, wire.OutgoingNewMessage{
		MessageID:   msg.ID,
		ChatID:      msg.ChatID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
	})
	if err == nil {
		observability.IncMessageSent("sent")
		return msg, nil
	}

	observability.IncMessageSent("failed")
	slog.Warn("failed to send message", "message_id", msg.ID, "chat_id", msg.ChatID, "error", err)
	if uerr := r.store.UpdateDeliveryStatus(msg.ID, models.DeliveryFailed, r.now()); uerr != nil {
		slog.Error("failed to mark message as failed", "message_id", msg.ID, "error", uerr)
		return msg, errors.Join(err, uerr)
	}
	msg.DeliveryStatus = models.DeliveryFailed
	return msg, err
}

// Messages returns up to limit of the latest messages of a chat, oldest first.
func (r *Repository) Messages(chatID string, limit int) ([]models.ChatMessage, error) {
	return r.store.ListMessages(chatID, limit)
}

// ObserveMessages emits the latest messages of a chat now and after every
// change to the timeline. The channel is closed once ctx is done.
func (r *Repository) ObserveMessages(ctx context.Context, chatID string, limit int) <-chan []models.ChatMessage {
	out := make(chan []models.ChatMessage)
	changes := r.store.Watch(ctx, storage.TableMessages, storage.TableParticipants)

	go func() {
		defer close(out)
		for range changes {
			msgs, err := r.store.ListMessages(chatID, limit)
			if err != nil {
				slog.Error("failed to list messages", "chat_id", chatID, "error", err)
				continue
			}
			select {
			case out <- msgs:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// FetchHistory loads the page of server history preceding the oldest local
// message of a chat and returns how many messages it stored.
func (r *Repository) FetchHistory(ctx context.Context, chatID string) (int, error) {
	var before time.Time
	oldest, err := r.store.OldestMessage(chatID)
	switch {
	case err == nil:
		before = oldest.CreatedAt
	case !errors.Is(err, models.ErrNotFound):
		return 0, err
	}

	payloads, err := r.remote.FetchMessages(ctx, chatID, before)
	if err != nil {
		observability.IncSync("history", "error")
		return 0, fmt.Errorf("failed to fetch history of chat %s: %w", chatID, err)
	}

	now := r.now()
	msgs := make([]models.ChatMessage, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, p.ToChatMessage(now))
	}
	if err := r.store.UpsertMessages(msgs...); err != nil {
		observability.IncSync("history", "error")
		return 0, fmt.Errorf("failed to store history: %w", err)
	}
	observability.IncSync("history", "ok")
	return len(msgs), nil
}

// DeleteMessage deletes a message on the server and then locally. A message the
// server does not know is still removed locally.
func (r *Repository) DeleteMessage(ctx context.Context, messageID string) error {
	if err := r.remote.DeleteMessage(ctx, messageID); err != nil && !errors.Is(err, models.ErrRemoteNotFound) {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	return r.store.DeleteMessage(messageID)
}
