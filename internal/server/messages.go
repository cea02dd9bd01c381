package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

// Inbound events.
const (
	EventRegisterUser      = "registerUser"
	EventJoinRoom          = "joinRoom"
	EventLeaveRoom         = "leaveRoom"
	EventSendMessage       = "sendMessage"
	EventSendPrivate       = "sendPrivate"
	EventTyping            = "typing"
	EventStopTyping        = "stopTyping"
	EventTypingPrivate     = "typingPrivate"
	EventStopTypingPrivate = "stopTypingPrivate"
)

// Outbound events. typing and stopTyping are shared with the inbound set.
const (
	EventSystemMessage  = "systemMessage"
	EventReceiveMessage = "receiveMessage"
	EventReceivePrivate = "receivePrivate"
	EventError          = "error"
)

const (
	ScopeRoom    = "room"
	ScopePrivate = "private"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnauthorized   = errors.New("payload does not match session user")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrShuttingDown   = errors.New("chat server is shutting down")
)

type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoom struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type SendMessage struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type SendPrivate struct {
	FromUser string `json:"from_user"`
	ToUser   string `json:"to_user"`
	Message  string `json:"message"`
}

type Typing struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type StopTyping struct {
	Room string `json:"room"`
}

// PrivateTyping is the payload of both typingPrivate and stopTypingPrivate.
type PrivateTyping struct {
	FromUser string `json:"from_user"`
	ToUser   string `json:"to_user"`
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// TypingNotification is the payload of outbound typing and stopTyping events.
type TypingNotification struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
	From string `json:"from,omitempty"`
}

type SendFailure struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidMessage)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func SystemMessage(text string) *ServerMessage {
	return &ServerMessage{
		Event: EventSystemMessage,
		Data:  text,
	}
}

func JoinedRoom(username, room string) *ServerMessage {
	return SystemMessage(fmt.Sprintf("%s joined %s", username, room))
}

func LeftRoom(username, room string) *ServerMessage {
	return SystemMessage(fmt.Sprintf("%s left %s", username, room))
}

func ReceiveMessage(msg types.RoomMessage) *ServerMessage {
	return &ServerMessage{
		Event: EventReceiveMessage,
		Data:  msg,
	}
}

func ReceivePrivate(msg types.DirectMessage) *ServerMessage {
	return &ServerMessage{
		Event: EventReceivePrivate,
		Data:  msg,
	}
}

func TypingStarted(n TypingNotification) *ServerMessage {
	return &ServerMessage{
		Event: EventTyping,
		Data:  n,
	}
}

func TypingStopped(n TypingNotification) *ServerMessage {
	return &ServerMessage{
		Event: EventStopTyping,
		Data:  n,
	}
}

func ErrSendFailed(event string) *ServerMessage {
	return &ServerMessage{
		Event: EventError,
		Data: SendFailure{
			Event: event,
			Error: "message could not be saved",
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
