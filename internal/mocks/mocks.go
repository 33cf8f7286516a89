package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ayersdecker/gameplan/internal/models"
)

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) CreateConversation(ctx context.Context, userA, userB, nameA, nameB string) (string, error) {
	args := m.Called(ctx, userA, userB, nameA, nameB)
	return args.String(0), args.Error(1)
}

func (m *ChatServiceMock) FindConversation(ctx context.Context, userA, userB string) (string, error) {
	args := m.Called(ctx, userA, userB)
	return args.String(0), args.Error(1)
}

func (m *ChatServiceMock) Summaries(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) SendMessage(ctx context.Context, conversationID, senderID, plaintext, userID string) error {
	args := m.Called(ctx, conversationID, senderID, plaintext, userID)
	return args.Error(0)
}

func (m *ChatServiceMock) Messages(ctx context.Context, conversationID, userID string) ([]models.DecryptedMessage, error) {
	args := m.Called(ctx, conversationID, userID)
	var list []models.DecryptedMessage
	if val := args.Get(0); val != nil {
		list = val.([]models.DecryptedMessage)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}
