package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chatclient/internal/remote"
	"chatclient/internal/wire"
)

type RemoteMock struct {
	mock.Mock
}

func (m *RemoteMock) FetchChats(ctx context.Context) ([]remote.ChatDTO, error) {
	args := m.Called(ctx)
	var chats []remote.ChatDTO
	if val := args.Get(0); val != nil {
		chats = val.([]remote.ChatDTO)
	}
	return chats, args.Error(1)
}

func (m *RemoteMock) FetchMessages(ctx context.Context, chatID string, before time.Time) ([]wire.MessagePayload, error) {
	args := m.Called(ctx, chatID, before)
	var msgs []wire.MessagePayload
	if val := args.Get(0); val != nil {
		msgs = val.([]wire.MessagePayload)
	}
	return msgs, args.Error(1)
}

func (m *RemoteMock) FetchMessage(ctx context.Context, chatID, messageID string) (wire.MessagePayload, error) {
	args := m.Called(ctx, chatID, messageID)
	var msg wire.MessagePayload
	if val := args.Get(0); val != nil {
		msg = val.(wire.MessagePayload)
	}
	return msg, args.Error(1)
}

func (m *RemoteMock) DeleteMessage(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) SendMessage(ctx context.Context, msg wire.OutgoingNewMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
