package realtime

import (
	"context"
	"testing"

	"tether/cmd/internal/chat"
)

func TestInMemoryRoomStoreReplaceAndList(t *testing.T) {
	t.Parallel()

	s := NewInMemoryRoomStore()
	ctx := context.Background()

	got, err := s.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("fresh store has %d rooms", len(got))
	}

	first := []chat.Room{{ID: 1}, {ID: 2}}
	if err := s.ReplaceRooms(ctx, first); err != nil {
		t.Fatalf("replace: %v", err)
	}

	// Last write wins, no merging.
	second := []chat.Room{{ID: 3}}
	if err := s.ReplaceRooms(ctx, second); err != nil {
		t.Fatalf("replace again: %v", err)
	}

	got, err = s.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != 3 {
		t.Fatalf("rooms=%+v, want only the second snapshot", got)
	}
}

func TestInMemoryRoomStoreCopiesSnapshots(t *testing.T) {
	t.Parallel()

	s := NewInMemoryRoomStore()
	ctx := context.Background()

	in := []chat.Room{{ID: 1, Name: "original"}}
	if err := s.ReplaceRooms(ctx, in); err != nil {
		t.Fatalf("replace: %v", err)
	}

	in[0].Name = "mutated after store"

	out, err := s.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out[0].Name != "original" {
		t.Fatalf("store aliased the caller's slice: %q", out[0].Name)
	}

	out[0].Name = "mutated after read"
	again, err := s.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list again: %v", err)
	}
	if again[0].Name != "original" {
		t.Fatalf("reader mutated the stored snapshot: %q", again[0].Name)
	}
}

func TestInMemoryRoomStoreHonorsContext(t *testing.T) {
	t.Parallel()

	s := NewInMemoryRoomStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.ReplaceRooms(ctx, nil); err == nil {
		t.Fatalf("replace with cancelled context must fail")
	}
	if _, err := s.ListRooms(ctx); err == nil {
		t.Fatalf("list with cancelled context must fail")
	}
}
