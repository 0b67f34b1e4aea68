package realtime

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tether/cmd/internal/chat"
	v1 "tether/contracts/chat/v1"
)

// TypingStatus is one remote user's ephemeral typing state. Entries are
// keyed by user id, never persisted, and purged once stale.
type TypingStatus struct {
	UserID   int64
	RoomID   int64
	IsTyping bool
	At       time.Time
}

// TypingCoordinator translates raw keystroke activity into low-frequency
// network signals and keeps a current view of who else is typing.
//
// Outbound: "typing started" is debounced to at most one signal per 100ms of
// continued activity; a "typing stopped" signal fires 2s after the last
// keystroke, rescheduled on every new one. Nothing is sent (or queued) while
// the channel is not connected.
//
// Inbound: entries older than the TTL are purged before every read so a lost
// stop signal can never leave a stuck indicator.
type TypingCoordinator struct {
	log     *slog.Logger
	ch      ChannelHandle
	metrics *Metrics

	mu        sync.Mutex
	remote    map[int64]TypingStatus
	lim       *rate.Limiter
	stopTimer *time.Timer
	stopDelay time.Duration
	ttl       time.Duration
}

// NewTypingCoordinator constructs a TypingCoordinator bound to the chat
// channel handle.
func NewTypingCoordinator(log *slog.Logger, ch ChannelHandle, m *Metrics) *TypingCoordinator {
	return &TypingCoordinator{
		log:       log,
		ch:        ch,
		metrics:   m,
		remote:    make(map[int64]TypingStatus),
		lim:       rate.NewLimiter(rate.Every(typingDebounce), 1),
		stopDelay: typingStopDelay,
		ttl:       typingTTL,
	}
}

// Keystroke records local typing activity in a room. now is passed
// explicitly so the debounce is deterministic under test.
func (t *TypingCoordinator) Keystroke(kind chat.RoomKind, roomID int64, now time.Time) {
	if t.ch.Status() != StatusConnected {
		// Silently dropped, never queued.
		return
	}

	if t.lim.AllowN(now, 1) {
		t.send(kind, roomID, true)
	}

	t.mu.Lock()
	if t.stopTimer != nil {
		t.stopTimer.Stop()
	}
	t.stopTimer = time.AfterFunc(t.stopDelay, func() {
		t.send(kind, roomID, false)
	})
	t.mu.Unlock()
}

// Stop cancels any scheduled "typing stopped" signal and sends it
// immediately if the channel is connected. Used on room change or teardown.
func (t *TypingCoordinator) Stop(kind chat.RoomKind, roomID int64) {
	t.mu.Lock()
	if t.stopTimer != nil {
		t.stopTimer.Stop()
		t.stopTimer = nil
	}
	t.mu.Unlock()

	t.send(kind, roomID, false)
}

// Teardown clears timers without emitting anything further.
func (t *TypingCoordinator) Teardown() {
	t.mu.Lock()
	if t.stopTimer != nil {
		t.stopTimer.Stop()
		t.stopTimer = nil
	}
	t.mu.Unlock()
}

// Apply upserts or deletes a remote typing entry, keyed by user id.
func (t *TypingCoordinator) Apply(userID, roomID int64, isTyping bool, now time.Time) {
	t.mu.Lock()
	if isTyping {
		t.remote[userID] = TypingStatus{UserID: userID, RoomID: roomID, IsTyping: true, At: now}
	} else {
		delete(t.remote, userID)
	}
	t.mu.Unlock()

	t.metrics.typingApplied()
}

// Typing returns the users currently typing in a room, excluding the local
// user. All entries older than the TTL are purged first, regardless of their
// typing flag.
func (t *TypingCoordinator) Typing(roomID, selfID int64, now time.Time) []TypingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.ttl)
	for id, st := range t.remote {
		if !st.At.After(cutoff) {
			delete(t.remote, id)
		}
	}

	var out []TypingStatus
	for _, st := range t.remote {
		if st.RoomID == roomID && st.UserID != selfID {
			out = append(out, st)
		}
	}
	return out
}

func (t *TypingCoordinator) send(kind chat.RoomKind, roomID int64, isTyping bool) {
	if t.ch.Status() != StatusConnected {
		return
	}

	env, err := v1.NewEnvelope(v1.TypeTyping, v1.TypingSignalPayload{
		RoomType: string(kind),
		RoomID:   roomID,
		IsTyping: isTyping,
	})
	if err != nil {
		t.log.Info("typing.envelope.fail", "err", err)
		return
	}
	if err := t.ch.Send(env); err != nil {
		t.log.Info("typing.send.fail", "room", roomID, "err", err)
		return
	}
	t.metrics.typingSent()
}
