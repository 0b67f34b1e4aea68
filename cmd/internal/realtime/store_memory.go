package realtime

import (
	"context"
	"sync"

	"tether/cmd/internal/chat"
)

// InMemoryRoomStore is the session-only RoomStore used when no database is
// configured. Snapshots are copied on the way in and out so callers can't
// alias the stored slice.
type InMemoryRoomStore struct {
	mu    sync.Mutex
	rooms []chat.Room
}

// NewInMemoryRoomStore constructs an in-memory RoomStore implementation.
func NewInMemoryRoomStore() *InMemoryRoomStore {
	return &InMemoryRoomStore{}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryRoomStore) Close() error { return nil }

// ReplaceRooms replaces the snapshot, last write wins.
func (s *InMemoryRoomStore) ReplaceRooms(ctx context.Context, rooms []chat.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := make([]chat.Room, len(rooms))
	copy(snap, rooms)

	s.mu.Lock()
	s.rooms = snap
	s.mu.Unlock()
	return nil
}

// ListRooms returns the current snapshot.
func (s *InMemoryRoomStore) ListRooms(ctx context.Context) ([]chat.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Room, len(s.rooms))
	copy(out, s.rooms)
	return out, nil
}
