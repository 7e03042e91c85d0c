package wire

import (
	"time"

	"chatclient/internal/models"
)

// OutgoingNewMessage is sent for a not yet acknowledged message. MessageID is
// generated locally and correlates the optimistic row with the server echo.
type OutgoingNewMessage struct {
	MessageID   string             `json:"messageId" validate:"required"`
	ChatID      string             `json:"chatId" validate:"required"`
	Content     string             `json:"content" validate:"required,max=4000"`
	MessageType models.MessageType `json:"messageType" validate:"required"`
}

func (OutgoingNewMessage) envelopeType() Type { return TypeNewMessage }

type OutgoingUserTyping struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

func (OutgoingUserTyping) envelopeType() Type { return TypeUserTyping }

// EventPayload is the event part of a message as the server sends it.
type EventPayload struct {
	AffectedUserIDs []string         `json:"affectedUserIds"`
	Type            models.EventType `json:"type"`
}

// MessagePayload is a message as the server serializes it, both in
// NEW_MESSAGE envelopes and REST responses.
type MessagePayload struct {
	ID                     string             `json:"id"`
	ChatID                 string             `json:"chatId"`
	SenderID               *string            `json:"senderId"`
	Content                string             `json:"content"`
	MessageType            models.MessageType `json:"messageType"`
	ImageURLs              []string           `json:"imageUrls"`
	Event                  *EventPayload      `json:"event"`
	CreatedAt              time.Time          `json:"createdAt"`
	AudioDurationInSeconds *int               `json:"audioDurationInSeconds"`
}

// ToChatMessage converts a server message into the local model. Server
// messages are confirmed by definition, so the status is always SENT.
func (p MessagePayload) ToChatMessage(deliveredAt time.Time) models.ChatMessage {
	msg := models.ChatMessage{
		ID:                   p.ID,
		ChatID:               p.ChatID,
		SenderID:             p.SenderID,
		Content:              p.Content,
		MessageType:          p.MessageType,
		ImageURLs:            p.ImageURLs,
		AudioDurationSeconds: p.AudioDurationInSeconds,
		CreatedAt:            p.CreatedAt,
		DeliveryStatus:       models.DeliverySent,
		DeliveredAt:          &deliveredAt,
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}
	if p.Event != nil {
		msg.Event = &models.MessageEvent{
			Type:            p.Event.Type,
			AffectedUserIDs: p.Event.AffectedUserIDs,
		}
	}
	return msg
}

type NewMessage struct {
	MessagePayload
}

func (NewMessage) isIncoming() {}

type MessageDeleted struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

func (MessageDeleted) isIncoming() {}

type ProfilePictureUpdated struct {
	UserID               string  `json:"userId"`
	NewProfilePictureURL *string `json:"newProfilePictureUrl"`
}

func (ProfilePictureUpdated) isIncoming() {}

type UserTyping struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

func (UserTyping) isIncoming() {}
