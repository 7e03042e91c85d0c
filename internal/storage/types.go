package storage

import (
	"encoding"
	"encoding/binary"
	"time"

	"chatclient/internal/auth"
	"chatclient/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBSession struct {
	UserID       string `msgpack:"userId"`
	AccessToken  string `msgpack:"accessToken"`
	RefreshToken string `msgpack:"refreshToken"`
}

func (s *DBSession) Key() []byte {
	return keyCurrentSession
}

func (s *DBSession) MarshalBinary() (data []byte, err error) {
	type alias DBSession
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSession) UnmarshalBinary(data []byte) error {
	type alias DBSession
	return msgpack.Unmarshal(data, (*alias)(s))
}

type DBParticipant struct {
	UserID            string  `msgpack:"userId"`
	Username          string  `msgpack:"username"`
	Email             string  `msgpack:"email"`
	ProfilePictureURL *string `msgpack:"profilePictureUrl"`
}

func (p *DBParticipant) Key() []byte {
	return []byte(p.UserID)
}

func (p *DBParticipant) MarshalBinary() (data []byte, err error) {
	type alias DBParticipant
	return msgpack.Marshal((*alias)(p))
}

func (p *DBParticipant) UnmarshalBinary(data []byte) error {
	type alias DBParticipant
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBChat struct {
	ID             string  `msgpack:"id"`
	Name           *string `msgpack:"name"`
	IsGroupChat    bool    `msgpack:"isGroupChat"`
	CreatorID      *string `msgpack:"creatorId"`
	LastActivityAt int64   `msgpack:"lastActivityAt"` // Unix nanoseconds
}

func (c *DBChat) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChat) MarshalBinary() (data []byte, err error) {
	type alias DBChat
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChat) UnmarshalBinary(data []byte) error {
	type alias DBChat
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBEvent struct {
	Type            string   `msgpack:"type"`
	AffectedUserIDs []string `msgpack:"affectedUserIds"`
}

type DBMessage struct {
	ID                   string   `msgpack:"id"`
	ChatID               string   `msgpack:"chatId"`
	SenderID             *string  `msgpack:"senderId"`
	Content              string   `msgpack:"content"`
	MessageType          string   `msgpack:"messageType"`
	ImageURLs            []string `msgpack:"imageUrls"`
	Event                *DBEvent `msgpack:"event"`
	AudioDurationSeconds *int     `msgpack:"audioDurationSeconds"`
	CreatedAt            int64    `msgpack:"createdAt"` // Unix nanoseconds
	DeliveryStatus       string   `msgpack:"deliveryStatus"`
	DeliveredAt          *int64   `msgpack:"deliveredAt"`
}

// Key orders messages of a chat by creation time; the id suffix keeps
// messages created in the same nanosecond apart.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(m.CreatedAt))
	copy(key[8:], m.ID)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef locates a message row from its id.
type DBMessageRef struct {
	ChatID string `msgpack:"chatId"`
	Key    []byte `msgpack:"key"`
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

func toDBSession(s auth.Session) DBSession {
	return DBSession{
		UserID:       s.UserID,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}
}

func (s *DBSession) toSession() auth.Session {
	return auth.Session{
		UserID:       s.UserID,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}
}

func toDBParticipant(p models.ChatParticipant) DBParticipant {
	return DBParticipant{
		UserID:            p.UserID,
		Username:          p.Username,
		Email:             p.Email,
		ProfilePictureURL: p.ProfilePictureURL,
	}
}

func (p *DBParticipant) toParticipant() *models.ChatParticipant {
	return &models.ChatParticipant{
		UserID:            p.UserID,
		Username:          p.Username,
		Email:             p.Email,
		ProfilePictureURL: p.ProfilePictureURL,
	}
}

func toDBMessage(m models.ChatMessage) DBMessage {
	dbMessage := DBMessage{
		ID:                   m.ID,
		ChatID:               m.ChatID,
		SenderID:             m.SenderID,
		Content:              m.Content,
		MessageType:          string(m.MessageType),
		ImageURLs:            m.ImageURLs,
		AudioDurationSeconds: m.AudioDurationSeconds,
		CreatedAt:            toNanos(m.CreatedAt),
		DeliveryStatus:       string(m.DeliveryStatus),
	}
	if m.Event != nil {
		dbMessage.Event = &DBEvent{
			Type:            string(m.Event.Type),
			AffectedUserIDs: m.Event.AffectedUserIDs,
		}
	}
	if m.DeliveredAt != nil {
		deliveredAt := toNanos(*m.DeliveredAt)
		dbMessage.DeliveredAt = &deliveredAt
	}
	return dbMessage
}

func (m *DBMessage) toMessage() models.ChatMessage {
	msg := models.ChatMessage{
		ID:                   m.ID,
		ChatID:               m.ChatID,
		SenderID:             m.SenderID,
		Content:              m.Content,
		MessageType:          models.MessageType(m.MessageType),
		ImageURLs:            m.ImageURLs,
		AudioDurationSeconds: m.AudioDurationSeconds,
		CreatedAt:            fromNanos(m.CreatedAt),
		DeliveryStatus:       models.DeliveryStatus(m.DeliveryStatus),
	}
	if m.Event != nil {
		msg.Event = &models.MessageEvent{
			Type:            models.EventType(m.Event.Type),
			AffectedUserIDs: m.Event.AffectedUserIDs,
		}
	}
	if m.DeliveredAt != nil {
		deliveredAt := fromNanos(*m.DeliveredAt)
		msg.DeliveredAt = &deliveredAt
	}
	return msg
}

// toNanos maps the zero time to 0 so it sorts before every real timestamp.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
