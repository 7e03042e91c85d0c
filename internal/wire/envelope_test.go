package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chatclient/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_PayloadIsDoubleEncoded(t *testing.T) {
	data, err := Encode(OutgoingNewMessage{
		MessageID:   "m1",
		ChatID:      "c1",
		Content:     "hi",
		MessageType: models.MessageTypeText,
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "NEW_MESSAGE", raw["type"])

	payload, ok := raw["payload"].(string)
	require.True(t, ok, "payload must be a string field, got %T", raw["payload"])
	assert.JSONEq(t, `{"messageId":"m1","chatId":"c1","content":"hi","messageType":"TEXT"}`, payload)
}

func TestEncode_UserTyping(t *testing.T) {
	data, err := Encode(OutgoingUserTyping{UserID: "u1", ChatID: "c1"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypeUserTyping, env.Type)
	assert.JSONEq(t, `{"userId":"u1","chatId":"c1"}`, env.Payload)
}

func envelope(t *testing.T, typ Type, payload string) []byte {
	t.Helper()
	data, err := json.Marshal(Envelope{Type: typ, Payload: payload})
	require.NoError(t, err)
	return data
}

func TestDecode_Variants(t *testing.T) {
	t.Run("NewMessage", func(t *testing.T) {
		in, err := Decode(envelope(t, TypeNewMessage, `{
			"id":"m1","chatId":"c1","senderId":"u2","content":"hello",
			"messageType":"TEXT_WITH_IMAGES","imageUrls":["https://x/1.png","https://x/2.png"],
			"event":null,"createdAt":"2024-05-01T10:00:00Z","audioDurationInSeconds":null}`))
		require.NoError(t, err)

		msg, ok := in.(NewMessage)
		require.True(t, ok, "expected NewMessage, got %T", in)
		assert.Equal(t, "m1", msg.ID)
		require.NotNil(t, msg.SenderID)
		assert.Equal(t, "u2", *msg.SenderID)
		assert.Equal(t, []string{"https://x/1.png", "https://x/2.png"}, msg.ImageURLs)
		assert.Equal(t, TypeNewMessage, TypeOf(in))
	})

	t.Run("MessageDeleted", func(t *testing.T) {
		in, err := Decode(envelope(t, TypeMessageDeleted, `{"chatId":"c1","messageId":"m1"}`))
		require.NoError(t, err)
		assert.Equal(t, MessageDeleted{ChatID: "c1", MessageID: "m1"}, in)
	})

	t.Run("ProfilePictureUpdated", func(t *testing.T) {
		in, err := Decode(envelope(t, TypeProfilePictureUpdated, `{"userId":"u1","newProfilePictureUrl":"https://x/p.png"}`))
		require.NoError(t, err)
		upd, ok := in.(ProfilePictureUpdated)
		require.True(t, ok)
		require.NotNil(t, upd.NewProfilePictureURL)
		assert.Equal(t, "https://x/p.png", *upd.NewProfilePictureURL)
	})

	t.Run("UserTyping", func(t *testing.T) {
		in, err := Decode(envelope(t, TypeUserTyping, `{"userId":"u1","chatId":"c1"}`))
		require.NoError(t, err)
		assert.Equal(t, UserTyping{UserID: "u1", ChatID: "c1"}, in)
	})
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode(envelope(t, "SOMETHING_NEW", `{}`))
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, err = Decode(envelope(t, TypeNewMessage, `{"id":`))
	assert.Error(t, err)
}

func TestMessagePayload_ToChatMessage(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := MessagePayload{
		ID:          "m1",
		ChatID:      "c1",
		MessageType: models.MessageTypeEvent,
		Event:       &EventPayload{Type: models.EventParticipantsAdded, AffectedUserIDs: []string{"u3"}},
		CreatedAt:   now.Add(-time.Minute),
	}

	msg := p.ToChatMessage(now)
	assert.Equal(t, models.DeliverySent, msg.DeliveryStatus)
	require.NotNil(t, msg.DeliveredAt)
	assert.True(t, msg.DeliveredAt.Equal(now))
	require.NotNil(t, msg.Event)
	assert.Equal(t, []string{"u3"}, msg.Event.AffectedUserIDs)
	assert.Nil(t, msg.SenderID)
	assert.NoError(t, msg.Validate())

	plain := MessagePayload{ID: "m2", ChatID: "c1", CreatedAt: now}.ToChatMessage(now)
	assert.Equal(t, models.MessageTypeText, plain.MessageType)
}
