package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/sessions"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conversation models.Conversation
	if val := args.Get(0); val != nil {
		conversation = val.(models.Conversation)
	}
	return conversation, args.Error(1)
}

func (m *ConversationRepositoryMock) GetDirect(ctx context.Context, userA, userB string) (models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	var conversation models.Conversation
	if val := args.Get(0); val != nil {
		conversation = val.(models.Conversation)
	}
	return conversation, args.Error(1)
}

func (m *ConversationRepositoryMock) CreateDirect(ctx context.Context, userA, userB string) (models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	var conversation models.Conversation
	if val := args.Get(0); val != nil {
		conversation = val.(models.Conversation)
	}
	return conversation, args.Error(1)
}

func (m *ConversationRepositoryMock) CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (models.Conversation, error) {
	args := m.Called(ctx, name, creatorID, memberIDs)
	var conversation models.Conversation
	if val := args.Get(0); val != nil {
		conversation = val.(models.Conversation)
	}
	return conversation, args.Error(1)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) RecordMessage(ctx context.Context, msg models.Message) (map[string]int, error) {
	args := m.Called(ctx, msg)
	var counts map[string]int
	if val := args.Get(0); val != nil {
		counts = val.(map[string]int)
	}
	return counts, args.Error(1)
}

func (m *ConversationRepositoryMock) MarkSeen(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, conversationID, senderID, content, imgURL string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, content, imgURL)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListPage(ctx context.Context, conversationID, cursor string, limit int) ([]models.Message, *string, error) {
	args := m.Called(ctx, conversationID, cursor, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	var next *string
	if val := args.Get(1); val != nil {
		next = val.(*string)
	}
	return msgs, next, args.Error(2)
}

type SessionStoreMock struct {
	mock.Mock
}

func (m *SessionStoreMock) Validate(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *SessionStoreMock) Put(ctx context.Context, token, userID string, ttl time.Duration) error {
	args := m.Called(ctx, token, userID, ttl)
	return args.Error(0)
}

func (m *SessionStoreMock) Delete(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *SessionStoreMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ sessions.Store = (*SessionStoreMock)(nil)
