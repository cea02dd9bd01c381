package server

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
)

// MessageRouter persists room and direct messages and fans them out. A
// message is only delivered after the store has accepted it.
type MessageRouter struct {
	db    database.ChatRepository
	rooms *RoomMembership
	users userNotifier
	stats stats.StatsProvider
	log   *zap.Logger

	generateId func() (string, error)
}

func NewMessageRouter(db database.ChatRepository, rooms *RoomMembership, users userNotifier, su stats.StatsProvider, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		db:         db,
		rooms:      rooms,
		users:      users,
		stats:      su,
		log:        logger,
		generateId: shortid.Generate,
	}
}

// SendRoomMessage stores the message and delivers receiveMessage to every
// connection in the room, the sender's included.
func (mr *MessageRouter) SendRoomMessage(ctx context.Context, senderUsername, room, body string) (types.RoomMessage, error) {
	if senderUsername == "" || room == "" || body == "" {
		return types.RoomMessage{}, fmt.Errorf("%w: username, room and message are required", ErrInvalidMessage)
	}

	id, err := mr.generateId()
	if err != nil {
		return types.RoomMessage{}, fmt.Errorf("generate message id: %w", err)
	}

	msg := database.RoomMessage{
		Id:       id,
		FromUser: senderUsername,
		Room:     room,
		Message:  body,
		DateSent: Now(),
	}

	if err := mr.db.CreateRoomMessage(ctx, msg); err != nil {
		mr.stats.Incr(stats.NumDeliveryFailures)
		mr.log.Error("save room message",
			zap.String("from_user", senderUsername),
			zap.String("room", room),
			zap.Error(err),
		)
		return types.RoomMessage{}, fmt.Errorf("save room message: %w", err)
	}
	mr.stats.Incr(stats.NumRoomMessages)

	out := types.RoomMessage(msg)
	delivered := mr.rooms.BroadcastToRoom(room, ReceiveMessage(out), nil)
	mr.log.Debug("room message delivered",
		zap.String("id", out.Id),
		zap.String("room", room),
		zap.Int("connections", delivered),
	)

	return out, nil
}

// SendDirectMessage stores the message, delivers receivePrivate to the
// recipient when online, and echoes it to the sending connection. An offline
// recipient is not an error; the message is read later from history.
func (mr *MessageRouter) SendDirectMessage(ctx context.Context, origin *Client, senderUsername, recipientUsername, body string) (types.DirectMessage, error) {
	if senderUsername == "" || recipientUsername == "" || body == "" {
		return types.DirectMessage{}, fmt.Errorf("%w: from_user, to_user and message are required", ErrInvalidMessage)
	}

	id, err := mr.generateId()
	if err != nil {
		return types.DirectMessage{}, fmt.Errorf("generate message id: %w", err)
	}

	msg := database.DirectMessage{
		Id:       id,
		FromUser: senderUsername,
		ToUser:   recipientUsername,
		Message:  body,
		DateSent: Now(),
	}

	if err := mr.db.CreateDirectMessage(ctx, msg); err != nil {
		mr.stats.Incr(stats.NumDeliveryFailures)
		mr.log.Error("save direct message",
			zap.String("from_user", senderUsername),
			zap.String("to_user", recipientUsername),
			zap.Error(err),
		)
		return types.DirectMessage{}, fmt.Errorf("save direct message: %w", err)
	}
	mr.stats.Incr(stats.NumDirectMessages)

	out := types.DirectMessage(msg)
	payload := ReceivePrivate(out)

	recipient, delivered := mr.users.notifyUser(recipientUsername, payload)
	if origin != nil && origin != recipient {
		origin.queueMessage(payload)
	}

	mr.log.Debug("direct message routed",
		zap.String("id", out.Id),
		zap.String("to_user", recipientUsername),
		zap.Bool("recipient_online", recipient != nil),
		zap.Bool("delivered", delivered),
	)

	return out, nil
}

// FetchRoomHistory returns the room's first limit messages in ascending time
// order. A non-positive limit selects database.MaxHistoryLimit.
func (mr *MessageRouter) FetchRoomHistory(ctx context.Context, room string, limit int) ([]types.RoomMessage, error) {
	if room == "" {
		return nil, fmt.Errorf("%w: room is required", ErrInvalidMessage)
	}

	dbMsgs, err := mr.db.GetRoomMessages(ctx, room, database.HistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("get room messages: %w", err)
	}

	msgs := make([]types.RoomMessage, 0, len(dbMsgs))
	for _, m := range dbMsgs {
		msgs = append(msgs, types.RoomMessage(m))
	}
	return msgs, nil
}

// FetchDirectHistory returns the first limit messages between userA and
// userB, in either direction, in ascending time order.
func (mr *MessageRouter) FetchDirectHistory(ctx context.Context, userA, userB string, limit int) ([]types.DirectMessage, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("%w: both users are required", ErrInvalidMessage)
	}

	dbMsgs, err := mr.db.GetDirectMessages(ctx, userA, userB, database.HistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("get direct messages: %w", err)
	}

	msgs := make([]types.DirectMessage, 0, len(dbMsgs))
	for _, m := range dbMsgs {
		msgs = append(msgs, types.DirectMessage(m))
	}
	return msgs, nil
}
