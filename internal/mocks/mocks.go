package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Ihnore-Ihor/PI-CMS/internal/auth"
	"github.com/Ihnore-Ihor/PI-CMS/internal/models"
	"github.com/Ihnore-Ihor/PI-CMS/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) UpsertOnAuth(ctx context.Context, params repositories.UpsertUserParams) (models.User, error) {
	args := m.Called(ctx, params)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) EnsureParticipant(ctx context.Context, seed repositories.ParticipantSeed) (models.User, error) {
	args := m.Called(ctx, seed)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) SetOffline(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) MarkOfflineByExternalID(ctx context.Context, externalID string) error {
	args := m.Called(ctx, externalID)
	return args.Error(0)
}

func (m *UserRepositoryMock) GetByID(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetByExternalIDs(ctx context.Context, externalIDs []string) ([]models.User, error) {
	args := m.Called(ctx, externalIDs)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *UserRepositoryMock) ListStatuses(ctx context.Context) ([]models.UserStatus, error) {
	args := m.Called(ctx)
	var statuses []models.UserStatus
	if val := args.Get(0); val != nil {
		statuses = val.([]models.UserStatus)
	}
	return statuses, args.Error(1)
}

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) Create(ctx context.Context, name *string, isGroup bool, creatorID int, participantIDs []int) (models.Chat, error) {
	args := m.Called(ctx, name, isGroup, creatorID, participantIDs)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) Get(ctx context.Context, chatID int) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetForUser(ctx context.Context, chatID, userID int) (models.Chat, error) {
	args := m.Called(ctx, chatID, userID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) ListForUser(ctx context.Context, userID int) ([]models.Chat, error) {
	args := m.Called(ctx, userID)
	var chats []models.Chat
	if val := args.Get(0); val != nil {
		chats = val.([]models.Chat)
	}
	return chats, args.Error(1)
}

func (m *ChatRepositoryMock) FindDirectByPair(ctx context.Context, userA, userB int) (models.Chat, error) {
	args := m.Called(ctx, userA, userB)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) Participants(ctx context.Context, chatID int) ([]models.User, error) {
	args := m.Called(ctx, chatID)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *ChatRepositoryMock) UpdateMeta(ctx context.Context, chatID int, name *string, isGroup bool) error {
	args := m.Called(ctx, chatID, name, isGroup)
	return args.Error(0)
}

func (m *ChatRepositoryMock) ReplaceParticipants(ctx context.Context, chatID int, participantIDs []int) error {
	args := m.Called(ctx, chatID, participantIDs)
	return args.Error(0)
}

func (m *ChatRepositoryMock) TouchLastMessage(ctx context.Context, chatID, messageID int) error {
	args := m.Called(ctx, chatID, messageID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, msg repositories.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var message models.Message
	if val := args.Get(0); val != nil {
		message = val.(models.Message)
	}
	return message, args.Error(1)
}

func (m *MessageRepositoryMock) ListForChat(ctx context.Context, chatID int) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var messages []models.Message
	if val := args.Get(0); val != nil {
		messages = val.([]models.Message)
	}
	return messages, args.Error(1)
}

func (m *MessageRepositoryMock) GetByID(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var message models.Message
	if val := args.Get(0); val != nil {
		message = val.(models.Message)
	}
	return message, args.Error(1)
}

type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) Verify(token string) (auth.Claims, error) {
	args := m.Called(token)
	var claims auth.Claims
	if val := args.Get(0); val != nil {
		claims = val.(auth.Claims)
	}
	return claims, args.Error(1)
}
