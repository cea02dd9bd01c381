package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	storeTimeout   = 5 * time.Second
)

// Client is a single websocket connection. Its pumps are the only goroutines
// that touch conn.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *zap.Logger
	user       types.User
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once

	usernameLock sync.RWMutex
	username     string
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        logger.With(zap.String("conn_id", id), zap.String("user", user.Username)),
		user:       user,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write pump exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error("serialize message", zap.String("event", msg.Event), zap.Error(err))
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read pump exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("read message", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}

		if err := c.handle(&msg); err != nil {
			switch {
			case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrUnknownEvent):
				c.log.Debug("dropping event", zap.String("event", msg.Event), zap.Error(err))
			default:
				c.log.Warn("handle event", zap.String("event", msg.Event), zap.Error(err))
			}
		}
	}
}

// handle dispatches one inbound event. Validation failures are returned
// without notifying the client. A message the store rejected is reported
// back to this connection with an error event.
func (c *Client) handle(msg *ClientMessage) error {
	cs := c.chatServer

	switch msg.Event {
	case EventRegisterUser:
		var username string
		if err := decodePayload(msg.Data, &username); err != nil {
			return err
		}
		return cs.OnRegister(c, username)

	case EventJoinRoom:
		var p JoinRoom
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		if p.Room == "" || p.Username == "" {
			return fmt.Errorf("%w: room and username are required", ErrInvalidMessage)
		}
		if err := c.authorize(p.Username); err != nil {
			return err
		}
		cs.rooms.Join(c, p.Room, p.Username)
		return nil

	case EventLeaveRoom:
		cs.rooms.Leave(c)
		return nil

	case EventSendMessage:
		var p SendMessage
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		if err := c.authorize(p.Username); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if _, err := cs.router.SendRoomMessage(ctx, p.Username, p.Room, p.Message); err != nil {
			return c.reportSendFailure(msg.Event, err)
		}
		return nil

	case EventSendPrivate:
		var p SendPrivate
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		if err := c.authorize(p.FromUser); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if _, err := cs.router.SendDirectMessage(ctx, c, p.FromUser, p.ToUser, p.Message); err != nil {
			return c.reportSendFailure(msg.Event, err)
		}
		return nil

	case EventTyping:
		var p Typing
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		if p.Username == "" {
			return fmt.Errorf("%w: username is required", ErrInvalidMessage)
		}
		if err := c.authorize(p.Username); err != nil {
			return err
		}
		_, err := cs.typing.SignalTyping(RoomScope(p.Room), c, p.Username)
		return err

	case EventStopTyping:
		var p StopTyping
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		_, err := cs.typing.SignalStopTyping(RoomScope(p.Room), c)
		return err

	case EventTypingPrivate, EventStopTypingPrivate:
		var p PrivateTyping
		if err := decodePayload(msg.Data, &p); err != nil {
			return err
		}
		if err := c.authorize(p.FromUser); err != nil {
			return err
		}

		var err error
		if msg.Event == EventTypingPrivate {
			_, err = cs.typing.SignalTyping(PairScope(p.FromUser, p.ToUser), c, p.FromUser)
		} else {
			_, err = cs.typing.SignalStopTyping(PairScope(p.FromUser, p.ToUser), c)
		}
		return err
	}

	return fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
}

func (c *Client) reportSendFailure(event string, err error) error {
	if errors.Is(err, ErrInvalidMessage) {
		return err
	}
	c.queueMessage(ErrSendFailed(event))
	return err
}

// authorize rejects payloads that name a user other than the one the
// connection authenticated as.
func (c *Client) authorize(username string) error {
	if c.user.Username != "" && username != "" && username != c.user.Username {
		return fmt.Errorf("%w: %q", ErrUnauthorized, username)
	}
	return nil
}

func (c *Client) setUsername(username string) string {
	c.usernameLock.Lock()
	defer c.usernameLock.Unlock()

	prev := c.username
	c.username = username
	return prev
}

func (c *Client) getUsername() string {
	c.usernameLock.RLock()
	defer c.usernameLock.RUnlock()

	return c.username
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("send buffer full, dropping message", zap.String("event", msg.Event))
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("write message", zap.Error(err))
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.chatServer.OnDisconnect(c)
	c.stopClient()
}
