package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"go.uber.org/zap"
)

// ChatServer owns the lifecycle of every websocket connection and the shared
// presence, membership, typing and routing state those connections act on.
type ChatServer struct {
	log         *zap.Logger
	db          database.ChatRepository
	stats       stats.StatsProvider
	clients     map[string]*Client
	clientsLock sync.RWMutex
	wg          sync.WaitGroup
	closing     bool

	presence *PresenceRegistry
	rooms    *RoomMembership
	typing   *TypingCoordinator
	router   *MessageRouter
}

func NewChatServer(logger *zap.Logger, db database.ChatRepository, su stats.StatsProvider) (*ChatServer, error) {
	if db == nil {
		return nil, fmt.Errorf("chat repository is required")
	}

	for _, metric := range stats.Metrics {
		su.RegisterMetric(metric)
	}

	cs := &ChatServer{
		log:      logger,
		db:       db,
		stats:    su,
		clients:  make(map[string]*Client),
		presence: NewPresenceRegistry(),
		rooms:    NewRoomMembership(logger.Named("rooms")),
	}
	cs.typing = NewTypingCoordinator(cs.rooms, cs, logger.Named("typing"))
	cs.router = NewMessageRouter(db, cs.rooms, cs, su, logger.Named("router"))

	return cs, nil
}

// OnConnect tracks a newly upgraded connection. No presence or membership
// state exists for it until it registers a username. Once Shutdown has been
// called it returns ErrShuttingDown and c is not tracked.
func (cs *ChatServer) OnConnect(c *Client) error {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if cs.closing {
		return ErrShuttingDown
	}
	if _, ok := cs.clients[c.id]; ok {
		return nil
	}

	cs.clients[c.id] = c
	cs.wg.Add(1)
	cs.stats.Incr(stats.NumActiveConnections)
	cs.log.Info("connection opened",
		zap.String("conn_id", c.id),
		zap.String("user", c.user.Username),
	)

	return nil
}

// OnRegister binds username to c and makes c the target for that user's
// direct messages. An earlier connection registered under the same username
// stops receiving them without being told.
func (cs *ChatServer) OnRegister(c *Client, username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidMessage)
	}
	if err := c.authorize(username); err != nil {
		return err
	}

	if prev := c.setUsername(username); prev != "" && prev != username {
		if cs.presence.Unregister(prev, c.id) {
			cs.stats.Decr(stats.NumOnlineUsers)
		}
	}

	if cs.presence.Register(username, c.id) {
		cs.stats.Incr(stats.NumOnlineUsers)
	}

	cs.log.Info("user registered",
		zap.String("conn_id", c.id),
		zap.String("username", username),
	)

	return nil
}

// OnDisconnect purges all state held for c. The room departure is announced
// while the username is still bound, then presence is released.
func (cs *ChatServer) OnDisconnect(c *Client) {
	if room, ok := cs.rooms.Leave(c); ok {
		cs.log.Debug("left room on disconnect",
			zap.String("conn_id", c.id),
			zap.String("room", room),
		)
	}

	if username := c.getUsername(); username != "" {
		if cs.presence.Unregister(username, c.id) {
			cs.stats.Decr(stats.NumOnlineUsers)
		}
	}

	cs.removeClient(c)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c.id]; !ok {
		return
	}

	delete(cs.clients, c.id)
	cs.stats.Decr(stats.NumActiveConnections)
	cs.log.Info("connection closed",
		zap.String("conn_id", c.id),
		zap.String("user", c.user.Username),
	)
	cs.wg.Done()
}

func (cs *ChatServer) getClient(id string) (*Client, bool) {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	c, ok := cs.clients[id]
	return c, ok
}

func (cs *ChatServer) notifyUser(username string, msg *ServerMessage) (*Client, bool) {
	connId, ok := cs.presence.Lookup(username)
	if !ok {
		return nil, false
	}

	c, ok := cs.getClient(connId)
	if !ok {
		return nil, false
	}

	return c, c.queueMessage(msg)
}

func (cs *ChatServer) RoomHistory(ctx context.Context, room string, limit int) ([]types.RoomMessage, error) {
	return cs.router.FetchRoomHistory(ctx, room, limit)
}

func (cs *ChatServer) DirectHistory(ctx context.Context, userA, userB string, limit int) ([]types.DirectMessage, error) {
	return cs.router.FetchDirectHistory(ctx, userA, userB, limit)
}

func (cs *ChatServer) OnlineUsers() types.OnlineUsers {
	users := cs.presence.Online()
	return types.OnlineUsers{
		Count: len(users),
		Users: users,
	}
}

// Shutdown closes every connection and waits for each to be cleaned up or
// for ctx to expire. Connections arriving after Shutdown is called are
// refused by OnConnect.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	cs.closing = true
	for _, c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cs.log.Info("all connections closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
