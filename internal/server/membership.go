package server

import (
	"sync"

	"go.uber.org/zap"
)

type membership struct {
	room     string
	username string
}

// RoomMembership tracks the single room each connection is joined to and
// fans events out to a room's connections.
type RoomMembership struct {
	mu     sync.RWMutex
	log    *zap.Logger
	joined map[*Client]membership
	rooms  map[string]map[*Client]struct{}
}

func NewRoomMembership(logger *zap.Logger) *RoomMembership {
	return &RoomMembership{
		log:    logger,
		joined: make(map[*Client]membership),
		rooms:  make(map[string]map[*Client]struct{}),
	}
}

// Join moves c into room. A connection already in another room leaves it
// first, so that room's remaining members see the departure before the new
// room's members see the arrival. Joining the current room again only
// refreshes the username.
func (rm *RoomMembership) Join(c *Client, room, username string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if prev, ok := rm.joined[c]; ok {
		if prev.room == room {
			rm.joined[c] = membership{room: room, username: username}
			return
		}
		rm.leaveLocked(c, prev)
	}

	members, ok := rm.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		rm.rooms[room] = members
	}
	members[c] = struct{}{}
	rm.joined[c] = membership{room: room, username: username}

	rm.log.Info("joined room",
		zap.String("conn_id", c.id),
		zap.String("username", username),
		zap.String("room", room),
		zap.Int("members", len(members)),
	)

	rm.broadcastLocked(room, JoinedRoom(username, room), c)
}

// Leave removes c from its room, if any, and returns the room it left.
func (rm *RoomMembership) Leave(c *Client) (string, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.joined[c]
	if !ok {
		return "", false
	}

	rm.leaveLocked(c, m)
	return m.room, true
}

func (rm *RoomMembership) leaveLocked(c *Client, m membership) {
	delete(rm.joined, c)
	if members, ok := rm.rooms[m.room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(rm.rooms, m.room)
		}
	}

	rm.log.Info("left room",
		zap.String("conn_id", c.id),
		zap.String("username", m.username),
		zap.String("room", m.room),
	)

	rm.broadcastLocked(m.room, LeftRoom(m.username, m.room), c)
}

// BroadcastToRoom queues msg on every connection joined to room except skip,
// which may be nil. It returns the number of connections the message was
// queued on.
func (rm *RoomMembership) BroadcastToRoom(room string, msg *ServerMessage, skip *Client) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	return rm.broadcastLocked(room, msg, skip)
}

func (rm *RoomMembership) broadcastLocked(room string, msg *ServerMessage, skip *Client) int {
	delivered := 0
	for c := range rm.rooms[room] {
		if c == skip {
			continue
		}

		if c.queueMessage(msg) {
			delivered++
		}
	}

	return delivered
}

func (rm *RoomMembership) currentRoom(c *Client) (string, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	m, ok := rm.joined[c]
	return m.room, ok
}

func (rm *RoomMembership) memberCount(room string) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	return len(rm.rooms[room])
}
