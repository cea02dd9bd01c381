package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/npezzotti/go-chatrelay/internal/database"
)

// MemoryStore is an in-process database.ChatRepository. Setting Err makes
// every write fail with that error.
type MemoryStore struct {
	mu             sync.Mutex
	Err            error
	accounts       map[string]database.User
	roomMessages   []database.RoomMessage
	directMessages []database.DirectMessage
}

var _ database.ChatRepository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]database.User)}
}

func (s *MemoryStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateAccount(_ context.Context, params database.CreateAccountParams) (database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return database.User{}, s.Err
	}
	if _, ok := s.accounts[params.Username]; ok {
		return database.User{}, database.ErrDuplicateUsername
	}

	u := database.User{
		Username:     params.Username,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		PasswordHash: params.PasswordHash,
	}
	s.accounts[u.Username] = u
	return u, nil
}

func (s *MemoryStore) GetAccountByUsername(_ context.Context, username string) (database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.accounts[username]
	if !ok {
		return database.User{}, database.ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) CreateRoomMessage(_ context.Context, msg database.RoomMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	s.roomMessages = append(s.roomMessages, msg)
	return nil
}

func (s *MemoryStore) CreateDirectMessage(_ context.Context, msg database.DirectMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	s.directMessages = append(s.directMessages, msg)
	return nil
}

func (s *MemoryStore) GetRoomMessages(_ context.Context, room string, limit int) ([]database.RoomMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []database.RoomMessage
	for _, m := range s.roomMessages {
		if m.Room == room {
			res = append(res, m)
		}
	}
	slices.SortStableFunc(res, func(a, b database.RoomMessage) int { return a.DateSent.Compare(b.DateSent) })
	return firstN(res, database.HistoryLimit(limit)), nil
}

func (s *MemoryStore) GetDirectMessages(_ context.Context, userA, userB string, limit int) ([]database.DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []database.DirectMessage
	for _, m := range s.directMessages {
		if (m.FromUser == userA && m.ToUser == userB) || (m.FromUser == userB && m.ToUser == userA) {
			res = append(res, m)
		}
	}
	slices.SortStableFunc(res, func(a, b database.DirectMessage) int { return a.DateSent.Compare(b.DateSent) })
	return firstN(res, database.HistoryLimit(limit)), nil
}

func firstN[T any](s []T, n int) []T {
	return append(make([]T, 0, min(len(s), n)), s[:min(len(s), n)]...)
}
