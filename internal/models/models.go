package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// ConnectionState is the state of the realtime chat connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateErrorNetwork ConnectionState = "ERROR_NETWORK"
	StateErrorUnknown ConnectionState = "ERROR_UNKNOWN"
)

type DeliveryStatus string

const (
	DeliverySending DeliveryStatus = "SENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

type MessageType string

const (
	MessageTypeText           MessageType = "TEXT"
	MessageTypeTextWithImages MessageType = "TEXT_WITH_IMAGES"
	MessageTypeVoiceOnly      MessageType = "VOICE_ONLY"
	MessageTypeEvent          MessageType = "EVENT"
)

type EventType string

const (
	EventChatCreated         EventType = "CHAT_CREATED"
	EventParticipantsAdded   EventType = "PARTICIPANTS_ADDED"
	EventParticipantRemoved  EventType = "PARTICIPANT_REMOVED"
	EventParticipantLeft     EventType = "PARTICIPANT_LEFT"
	EventChatRenamed         EventType = "CHAT_RENAMED"
	EventChatPictureModified EventType = "CHAT_PICTURE_MODIFIED"
)

// MessageEvent describes a membership or chat change carried by an EVENT message.
type MessageEvent struct {
	Type            EventType `json:"type"`
	AffectedUserIDs []string  `json:"affectedUserIds"`
	// AffectedUsernames is resolved from the local participant cache on read.
	// Unknown users resolve to "".
	AffectedUsernames []string `json:"affectedUsernames,omitempty"`
}

// ChatMessage represents a chat message.
type ChatMessage struct {
	ID                   string         `json:"id"`
	ChatID               string         `json:"chatId"`
	SenderID             *string        `json:"senderId"` // nil for system messages and deleted senders
	Content              string         `json:"content"`
	MessageType          MessageType    `json:"messageType"`
	ImageURLs            []string       `json:"imageUrls,omitempty"`
	Event                *MessageEvent  `json:"event,omitempty"`
	AudioDurationSeconds *int           `json:"audioDurationSeconds,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	DeliveryStatus       DeliveryStatus `json:"deliveryStatus"`
	DeliveredAt          *time.Time     `json:"deliveredAt,omitempty"`
}

// Validate checks the invariants every stored message must hold.
func (m ChatMessage) Validate() error {
	if m.ID == "" {
		return errors.New("message missing id")
	}
	if m.ChatID == "" {
		return errors.New("message missing chatID")
	}
	if m.MessageType == MessageTypeEvent && m.Event == nil {
		return fmt.Errorf("event message %s has no event", m.ID)
	}
	switch m.DeliveryStatus {
	case DeliverySending, DeliverySent, DeliveryFailed:
	default:
		return fmt.Errorf("message %s has invalid delivery status %q", m.ID, m.DeliveryStatus)
	}
	return nil
}

// ChatParticipant is a user known to the local device through at least one chat.
type ChatParticipant struct {
	UserID            string  `json:"userId"`
	Username          string  `json:"username"`
	Email             string  `json:"email"`
	ProfilePictureURL *string `json:"profilePictureUrl,omitempty"`
}

// Chat represents a chat conversation.
type Chat struct {
	ID string `json:"id"`
	// Participants may hold nil entries for users linked to the chat
	// that are missing from the local participant cache.
	Participants   []*ChatParticipant `json:"participants"`
	LastMessage    *ChatMessage       `json:"lastMessage,omitempty"`
	IsGroupChat    bool               `json:"isGroupChat"`
	Name           *string            `json:"name,omitempty"`
	Creator        *ChatParticipant   `json:"creator,omitempty"`
	LastActivityAt time.Time          `json:"lastActivityAt"`
}

// DisplayName returns the chat name, or one derived from the participants
// other than localUserID when the chat has none.
func (c Chat) DisplayName(localUserID string) string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	var names []string
	for _, p := range c.Participants {
		if p == nil || p.UserID == localUserID {
			continue
		}
		names = append(names, p.Username)
	}
	if len(names) == 0 {
		return "Unknown chat"
	}
	return strings.Join(names, ", ")
}

// UserTypingData is an ephemeral typing indicator. It is never persisted.
type UserTypingData struct {
	UserID  string    `json:"userId"`
	ChatID  string    `json:"chatId"`
	TypedAt time.Time `json:"typedAt"`
}

// APIResponse is the generic admin API reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
