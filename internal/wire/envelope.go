// Package wire implements the {type, payload} envelope spoken on the chat
// WebSocket. The payload is a JSON document encoded as a string field, so the
// envelope schema stays stable when payload shapes change.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Type string

const (
	TypeNewMessage            Type = "NEW_MESSAGE"
	TypeMessageDeleted        Type = "MESSAGE_DELETED"
	TypeProfilePictureUpdated Type = "PROFILE_PICTURE_UPDATED"
	TypeUserTyping            Type = "USER_TYPING"
)

var ErrUnknownType = errors.New("unknown envelope type")

// Envelope is the outer wire wrapper shared by all message kinds.
type Envelope struct {
	Type    Type   `json:"type"`
	Payload string `json:"payload"`
}

// Outgoing is implemented by every message the client sends.
type Outgoing interface {
	envelopeType() Type
}

// Incoming is the closed set of messages the server sends:
// NewMessage, MessageDeleted, ProfilePictureUpdated and UserTyping.
type Incoming interface {
	isIncoming()
}

// Encode wraps msg into an envelope and returns the frame bytes.
func Encode(msg Outgoing) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msg.envelopeType(), err)
	}
	return json.Marshal(Envelope{
		Type:    msg.envelopeType(),
		Payload: string(payload),
	})
}

// Decode parses a text frame into one of the Incoming variants.
func Decode(data []byte) (Incoming, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	var (
		in  Incoming
		err error
	)
	switch env.Type {
	case TypeNewMessage:
		var m NewMessage
		err = json.Unmarshal([]byte(env.Payload), &m)
		in = m
	case TypeMessageDeleted:
		var m MessageDeleted
		err = json.Unmarshal([]byte(env.Payload), &m)
		in = m
	case TypeProfilePictureUpdated:
		var m ProfilePictureUpdated
		err = json.Unmarshal([]byte(env.Payload), &m)
		in = m
	case TypeUserTyping:
		var m UserTyping
		err = json.Unmarshal([]byte(env.Payload), &m)
		in = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Type, err)
	}
	return in, nil
}

// TypeOf returns the envelope type of an incoming message.
func TypeOf(in Incoming) Type {
	switch in.(type) {
	case NewMessage:
		return TypeNewMessage
	case MessageDeleted:
		return TypeMessageDeleted
	case ProfilePictureUpdated:
		return TypeProfilePictureUpdated
	case UserTyping:
		return TypeUserTyping
	}
	return ""
}
