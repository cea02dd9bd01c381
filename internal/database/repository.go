package database

import "context"

type ChatRepository interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountByUsername(ctx context.Context, username string) (User, error)
	CreateRoomMessage(ctx context.Context, msg RoomMessage) error
	CreateDirectMessage(ctx context.Context, msg DirectMessage) error
	GetRoomMessages(ctx context.Context, room string, limit int) ([]RoomMessage, error)
	GetDirectMessages(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error)
	Close() error
}
