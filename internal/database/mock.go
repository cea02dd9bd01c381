package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByUsername(ctx context.Context, username string) (User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) CreateRoomMessage(ctx context.Context, msg RoomMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockChatRepository) CreateDirectMessage(ctx context.Context, msg DirectMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockChatRepository) GetRoomMessages(ctx context.Context, room string, limit int) ([]RoomMessage, error) {
	args := m.Called(ctx, room, limit)
	if msgs, ok := args.Get(0).([]RoomMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetDirectMessages(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error) {
	args := m.Called(ctx, userA, userB, limit)
	if msgs, ok := args.Get(0).([]DirectMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
