package server

import (
	"slices"
	"sync"
)

// PresenceRegistry maps each online username to the connection that most
// recently registered it. A later registration silently replaces an earlier
// one for the same username.
type PresenceRegistry struct {
	mu    sync.RWMutex
	users map[string]string
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		users: make(map[string]string),
	}
}

// Register associates username with connId. It reports whether the username
// was offline before the call.
func (p *PresenceRegistry) Register(username, connId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, existed := p.users[username]
	p.users[username] = connId
	return !existed
}

func (p *PresenceRegistry) Lookup(username string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	connId, ok := p.users[username]
	return connId, ok
}

// Unregister removes username only while it still points at connId, so a
// stale connection cannot evict a newer session. It reports whether an entry
// was removed.
func (p *PresenceRegistry) Unregister(username, connId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current, ok := p.users[username]; ok && current == connId {
		delete(p.users, username)
		return true
	}
	return false
}

// Online returns the registered usernames in sorted order.
func (p *PresenceRegistry) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := make([]string, 0, len(p.users))
	for u := range p.users {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}
