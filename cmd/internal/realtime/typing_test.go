package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"tether/cmd/internal/chat"
	v1 "tether/contracts/chat/v1"
)

func newTestTyping(t *testing.T, st Status) (*TypingCoordinator, *fakeHandle) {
	t.Helper()
	handle := newFakeHandle(st)
	ty := NewTypingCoordinator(testLogger(), handle, nil)
	t.Cleanup(ty.Teardown)
	return ty, handle
}

func decodeTypingSignal(t *testing.T, env v1.Envelope) v1.TypingSignalPayload {
	t.Helper()
	if env.Type != v1.TypeTyping {
		t.Fatalf("type=%q, want %q", env.Type, v1.TypeTyping)
	}
	var p v1.TypingSignalPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	return p
}

func TestTypingKeystrokeDebounced(t *testing.T) {
	t.Parallel()

	ty, handle := newTestTyping(t, StatusConnected)
	now := time.Now()

	ty.Keystroke(chat.RoomTask, 5, now)
	ty.Keystroke(chat.RoomTask, 5, now.Add(20*time.Millisecond))
	ty.Keystroke(chat.RoomTask, 5, now.Add(60*time.Millisecond))

	envs := handle.envelopes()
	if len(envs) != 1 {
		t.Fatalf("signals=%d for a burst inside the debounce window, want 1", len(envs))
	}
	p := decodeTypingSignal(t, envs[0])
	if !p.IsTyping || p.RoomID != 5 || p.RoomType != "task" {
		t.Fatalf("payload=%+v", p)
	}

	// Past the debounce interval the next keystroke signals again.
	ty.Keystroke(chat.RoomTask, 5, now.Add(150*time.Millisecond))
	if got := len(handle.envelopes()); got != 2 {
		t.Fatalf("signals=%d after debounce expiry, want 2", got)
	}
}

func TestTypingKeystrokeDroppedWhileDisconnected(t *testing.T) {
	t.Parallel()

	ty, handle := newTestTyping(t, StatusDisconnected)
	ty.Keystroke(chat.RoomTask, 5, time.Now())

	if got := len(handle.envelopes()); got != 0 {
		t.Fatalf("signals=%d while disconnected, want 0: never queued", got)
	}
}

func TestTypingStopSendsImmediately(t *testing.T) {
	t.Parallel()

	ty, handle := newTestTyping(t, StatusConnected)
	ty.Keystroke(chat.RoomGroup, 9, time.Now())
	handle.reset()

	ty.Stop(chat.RoomGroup, 9)

	envs := handle.envelopes()
	if len(envs) != 1 {
		t.Fatalf("signals=%d after Stop, want 1", len(envs))
	}
	p := decodeTypingSignal(t, envs[0])
	if p.IsTyping || p.RoomID != 9 || p.RoomType != "group" {
		t.Fatalf("payload=%+v, want a stop signal", p)
	}
}

func TestTypingRemoteViewFiltersRoomAndSelf(t *testing.T) {
	t.Parallel()

	ty, _ := newTestTyping(t, StatusConnected)
	now := time.Now()

	ty.Apply(1, 5, true, now)  // same room
	ty.Apply(2, 6, true, now)  // other room
	ty.Apply(99, 5, true, now) // self

	got := ty.Typing(5, 99, now)
	if len(got) != 1 || got[0].UserID != 1 {
		t.Fatalf("typing=%+v, want only user 1", got)
	}
}

func TestTypingStopSignalRemovesEntry(t *testing.T) {
	t.Parallel()

	ty, _ := newTestTyping(t, StatusConnected)
	now := time.Now()

	ty.Apply(1, 5, true, now)
	ty.Apply(1, 5, false, now.Add(time.Second))

	if got := ty.Typing(5, 99, now.Add(time.Second)); len(got) != 0 {
		t.Fatalf("typing=%+v after stop, want empty", got)
	}
}

func TestTypingEntriesExpireAfterTTL(t *testing.T) {
	t.Parallel()

	ty, _ := newTestTyping(t, StatusConnected)
	now := time.Now()

	ty.Apply(1, 5, true, now)

	if got := ty.Typing(5, 99, now.Add(typingTTL-time.Millisecond)); len(got) != 1 {
		t.Fatalf("entry expired before the TTL elapsed")
	}
	if got := ty.Typing(5, 99, now.Add(typingTTL+time.Millisecond)); len(got) != 0 {
		t.Fatalf("entry survived past the TTL: %+v", got)
	}
}

func TestTypingLostStopCannotStickForever(t *testing.T) {
	t.Parallel()

	ty, _ := newTestTyping(t, StatusConnected)
	now := time.Now()

	// The stop signal for user 3 is lost; only the purge clears it.
	ty.Apply(3, 5, true, now)

	if got := ty.Typing(5, 99, now.Add(time.Minute)); len(got) != 0 {
		t.Fatalf("stale indicator stuck: %+v", got)
	}
}
