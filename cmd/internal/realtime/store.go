package realtime

import (
	"context"

	"tether/cmd/internal/chat"
)

// RoomStore is the durable partition of client state: the room list survives
// sessions while messages, typing state, and the active room never do.
//
// Semantics:
//   - ReplaceRooms is last-write-wins; no merge logic.
//   - ListRooms returns the most recently replaced snapshot.
type RoomStore interface {
	ReplaceRooms(ctx context.Context, rooms []chat.Room) error
	ListRooms(ctx context.Context) ([]chat.Room, error)
	Close() error
}
