package server

import (
	"fmt"

	"go.uber.org/zap"
)

// userNotifier queues an event on the connection currently registered for a
// username. It returns that connection (nil when the user is offline) and
// whether the event was queued.
type userNotifier interface {
	notifyUser(username string, msg *ServerMessage) (*Client, bool)
}

// TypingScope is either a room or a sender/recipient pair.
type TypingScope struct {
	Kind string
	Room string
	From string
	To   string
}

func RoomScope(room string) TypingScope {
	return TypingScope{Kind: ScopeRoom, Room: room}
}

func PairScope(from, to string) TypingScope {
	return TypingScope{Kind: ScopePrivate, From: from, To: to}
}

func (s TypingScope) validate() error {
	switch s.Kind {
	case ScopeRoom:
		if s.Room == "" {
			return fmt.Errorf("%w: room is required", ErrInvalidMessage)
		}
	case ScopePrivate:
		if s.From == "" || s.To == "" {
			return fmt.Errorf("%w: from_user and to_user are required", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown typing scope %q", ErrInvalidMessage, s.Kind)
	}
	return nil
}

// TypingCoordinator relays typing indicators. It keeps no state: clients
// debounce on their side and send the stop signal themselves.
type TypingCoordinator struct {
	rooms *RoomMembership
	users userNotifier
	log   *zap.Logger
}

func NewTypingCoordinator(rooms *RoomMembership, users userNotifier, logger *zap.Logger) *TypingCoordinator {
	return &TypingCoordinator{
		rooms: rooms,
		users: users,
		log:   logger,
	}
}

// SignalTyping relays a typing indicator from origin. Room indicators go to
// every other connection in the room; private indicators go to the
// recipient's connection only and are dropped when the recipient is offline.
func (tc *TypingCoordinator) SignalTyping(scope TypingScope, origin *Client, originUsername string) (int, error) {
	if err := scope.validate(); err != nil {
		return 0, err
	}

	if scope.Kind == ScopeRoom {
		return tc.rooms.BroadcastToRoom(scope.Room, TypingStarted(TypingNotification{
			Type: ScopeRoom,
			Room: scope.Room,
			From: originUsername,
		}), origin), nil
	}

	return tc.notify(scope, TypingStarted(TypingNotification{
		Type: ScopePrivate,
		From: scope.From,
	})), nil
}

func (tc *TypingCoordinator) SignalStopTyping(scope TypingScope, origin *Client) (int, error) {
	if err := scope.validate(); err != nil {
		return 0, err
	}

	if scope.Kind == ScopeRoom {
		return tc.rooms.BroadcastToRoom(scope.Room, TypingStopped(TypingNotification{
			Type: ScopeRoom,
			Room: scope.Room,
		}), origin), nil
	}

	return tc.notify(scope, TypingStopped(TypingNotification{
		Type: ScopePrivate,
		From: scope.From,
	})), nil
}

func (tc *TypingCoordinator) notify(scope TypingScope, msg *ServerMessage) int {
	if _, ok := tc.users.notifyUser(scope.To, msg); !ok {
		tc.log.Debug("typing recipient offline",
			zap.String("from", scope.From),
			zap.String("to", scope.To),
		)
		return 0
	}
	return 1
}
