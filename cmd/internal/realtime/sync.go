package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tether/cmd/internal/chat"
	v1 "tether/contracts/chat/v1"
)

// RoomAPI is the slice of the request/response client the synchronizer needs.
type RoomAPI interface {
	ListRooms(ctx context.Context) ([]chat.Room, error)
	GetRoom(ctx context.Context, roomID int64) (chat.Room, error)
	Messages(ctx context.Context, roomID int64, page int) (chat.MessagePage, error)
	SendMessage(ctx context.Context, roomID int64, content string, attachments []chat.Upload) (chat.Message, error)
	MarkRead(ctx context.Context, roomID int64) error
	CreateDirectRoom(ctx context.Context, userID int64) (chat.Room, error)
}

// ChannelHandle is the slice of a supervisor Handle the synchronizer needs.
type ChannelHandle interface {
	Send(env v1.Envelope) error
	Status() Status
}

// Synchronizer is the single source of truth for rooms and the currently
// displayed message window.
//
// State partitions:
//   - rooms: durable, mirrored through RoomStore across sessions.
//   - window/pending/active/pagination: session-scoped, never persisted.
//
// Confirmed messages and locally pending placeholders are kept in two
// parallel lists and merged only at read time (Window); a placeholder is
// removed when its send settles, not by being promoted - the confirmed
// message arrives independently through Ingest.
type Synchronizer struct {
	log     *slog.Logger
	api     RoomAPI
	store   RoomStore
	chatCh  ChannelHandle
	joiner  *RoomJoiner
	metrics *Metrics
	self    chat.UserRef

	mu          sync.Mutex
	rooms       []chat.Room
	active      int64 // 0 = no active room
	lastSeen    map[int64]int64
	window      []chat.Message
	pending     []chat.Message
	page        int
	hasMore     bool
	loadingMore bool
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithRoomStore sets the durable room partition (default in-memory).
func WithRoomStore(st RoomStore) SyncOption {
	return func(s *Synchronizer) { s.store = st }
}

// WithSyncMetrics attaches a metrics collector.
func WithSyncMetrics(m *Metrics) SyncOption {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithJoiner attaches the room join/leave protocol driver.
func WithJoiner(j *RoomJoiner) SyncOption {
	return func(s *Synchronizer) { s.joiner = j }
}

// NewSynchronizer constructs a Synchronizer. self identifies the local user
// for unread accounting and placeholder authorship.
func NewSynchronizer(log *slog.Logger, api RoomAPI, chatCh ChannelHandle, self chat.UserRef, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		log:      log,
		api:      api,
		chatCh:   chatCh,
		store:    NewInMemoryRoomStore(),
		self:     self,
		lastSeen: make(map[int64]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WarmStart seeds the room list from the durable store, typically at process
// start before the first LoadRooms.
func (s *Synchronizer) WarmStart(ctx context.Context) error {
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("sync: warm start: %w", err)
	}

	s.mu.Lock()
	s.rooms = rooms
	s.mu.Unlock()
	return nil
}

// LoadRooms replaces the room list with a fresh server fetch. Idempotent,
// no merge logic: last write wins.
func (s *Synchronizer) LoadRooms(ctx context.Context) error {
	rooms, err := s.api.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("sync: load rooms: %w", err)
	}

	s.mu.Lock()
	s.rooms = rooms
	s.mu.Unlock()

	if err := s.store.ReplaceRooms(ctx, rooms); err != nil {
		// Cache write failure is non-critical; the in-memory list is current.
		s.log.Info("sync.rooms.cache_fail", "err", err)
	}
	return nil
}

// SetActiveRoom switches focus to a room. The message window is cleared and
// must be refetched; the room's unread count is reset immediately, not
// gated on the mark-read side effect succeeding.
func (s *Synchronizer) SetActiveRoom(ctx context.Context, roomID int64) {
	s.mu.Lock()
	s.active = roomID
	s.window = nil
	s.pending = nil
	s.page = 0
	s.hasMore = false
	s.loadingMore = false

	var kind chat.RoomKind = chat.RoomGroup
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			s.rooms[i].Unread = 0
			kind = s.rooms[i].Kind
			break
		}
	}
	s.mu.Unlock()

	if s.joiner != nil {
		s.joiner.SetActive(kind, roomID)
	}

	// Fire and forget: failure is logged inside MarkRead and never rolls
	// back the optimistic unread reset.
	go s.MarkRead(context.WithoutCancel(ctx), roomID)
}

// ClearActiveRoom drops focus entirely (e.g. the chat page unmounted).
func (s *Synchronizer) ClearActiveRoom() {
	s.mu.Lock()
	s.active = 0
	s.window = nil
	s.pending = nil
	s.page = 0
	s.hasMore = false
	s.loadingMore = false
	s.mu.Unlock()

	if s.joiner != nil {
		s.joiner.ClearActive()
	}
}

// ActiveRoom returns the focused room id, if any.
func (s *Synchronizer) ActiveRoom() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != 0
}

// LoadMessages replaces the message window with the first (most recent) page
// for a room and records pagination state.
func (s *Synchronizer) LoadMessages(ctx context.Context, roomID int64) error {
	p, err := s.api.Messages(ctx, roomID, 1)
	if err != nil {
		return fmt.Errorf("sync: load messages room=%d: %w", roomID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != roomID {
		// Focus moved while the fetch was in flight; the result is stale.
		return nil
	}

	s.window = sortedByTimestamp(p.Messages)
	s.page = 1
	s.hasMore = p.HasMore
	s.loadingMore = false
	return nil
}

// LoadMore fetches the next older page and prepends it to the window.
// A call while one is already in flight, or when no more pages remain,
// is a no-op.
func (s *Synchronizer) LoadMore(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	if s.active != roomID || s.loadingMore || !s.hasMore || s.page == 0 {
		s.mu.Unlock()
		return nil
	}
	s.loadingMore = true
	next := s.page + 1
	s.mu.Unlock()

	p, err := s.api.Messages(ctx, roomID, next)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingMore = false

	if err != nil {
		return fmt.Errorf("sync: load more room=%d page=%d: %w", roomID, next, err)
	}
	if s.active != roomID {
		return nil
	}

	merged := make([]chat.Message, 0, len(p.Messages)+len(s.window))
	merged = append(merged, sortedByTimestamp(p.Messages)...)
	merged = append(merged, s.window...)
	s.window = merged
	s.page = next
	s.hasMore = p.HasMore
	return nil
}

// Ingest is the single entry point for inbound socket messages and
// locally-sent confirmations.
//
// Rules: duplicate identifiers are discarded; the owning room's denormalized
// last-message field is always updated; unread is incremented only when the
// room is not active; only active-room messages enter the visible window.
func (s *Synchronizer) Ingest(msg chat.Message) {
	s.mu.Lock()

	// Wire redeliveries repeat the most recent frame, so remembering one id
	// per room catches duplicates for background rooms too, where no window
	// exists to dedup against.
	if msg.ID != 0 && s.lastSeen[msg.RoomID] == msg.ID {
		s.mu.Unlock()
		s.metrics.messageDeduped()
		s.log.Debug("sync.ingest.dedup", "id", msg.ID, "room", msg.RoomID)
		return
	}

	for i := range s.window {
		if s.window[i].ID == msg.ID {
			s.mu.Unlock()
			s.metrics.messageDeduped()
			s.log.Debug("sync.ingest.dedup", "id", msg.ID, "room", msg.RoomID)
			return
		}
	}

	if msg.ID != 0 {
		s.lastSeen[msg.RoomID] = msg.ID
	}

	known := false
	for i := range s.rooms {
		if s.rooms[i].ID == msg.RoomID {
			known = true
			m := msg
			s.rooms[i].LastMessage = &m
			if s.active != msg.RoomID {
				s.rooms[i].Unread++
			}
			break
		}
	}

	if s.active == msg.RoomID {
		s.window = append(s.window, msg)
		sort.SliceStable(s.window, func(i, j int) bool {
			return s.window[i].Timestamp.Before(s.window[j].Timestamp)
		})
	}
	s.mu.Unlock()

	s.metrics.messageIngested()

	if !known {
		// A message for a room we have never seen: refetch that room in the
		// background. Non-critical, logged and swallowed on failure.
		go s.refetchRoom(msg.RoomID)
	}
}

// Send delivers a message, choosing between the realtime channel and the
// request/response path:
//
//   - attachments always go through the request/response upload path;
//   - plain text goes over the socket when the chat channel is connected
//     (fire and forget; confirmation arrives through Ingest);
//   - otherwise plain text falls back to the request/response path.
//
// A pending placeholder is visible in Window for the duration and is removed
// when the send settles, success or failure.
func (s *Synchronizer) Send(ctx context.Context, roomID int64, content string, attachments []chat.Upload) error {
	now := time.Now().UTC()
	placeholder := chat.Message{
		ClientID:  NewClientMsgID(now),
		Content:   content,
		Sender:    s.self,
		RoomID:    roomID,
		Timestamp: now,
	}

	s.mu.Lock()
	kind := chat.RoomGroup
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			kind = s.rooms[i].Kind
			break
		}
	}
	if s.active == roomID {
		s.pending = append(s.pending, placeholder)
	}
	s.mu.Unlock()

	if len(attachments) == 0 && s.chatCh.Status() == StatusConnected {
		env, err := v1.NewEnvelope(v1.TypeSendMessage, v1.SendMessagePayload{
			RoomType: string(kind),
			RoomID:   roomID,
			Message:  content,
		})
		if err == nil {
			err = s.chatCh.Send(env)
		}
		s.removePending(placeholder.ClientID)
		if err != nil {
			return fmt.Errorf("sync: send room=%d: %w", roomID, err)
		}
		return nil
	}

	msg, err := s.api.SendMessage(ctx, roomID, content, attachments)
	s.removePending(placeholder.ClientID)
	if err != nil {
		return fmt.Errorf("sync: send room=%d: %w", roomID, err)
	}

	s.Ingest(msg)
	return nil
}

// MarkRead marks a room read on the server and zeroes its unread counter on
// success. Failure is logged only; the optimistic UI state stands.
func (s *Synchronizer) MarkRead(ctx context.Context, roomID int64) {
	if err := s.api.MarkRead(ctx, roomID); err != nil {
		s.log.Info("sync.mark_read.fail", "room", roomID, "err", err)
		return
	}

	s.mu.Lock()
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			s.rooms[i].Unread = 0
			break
		}
	}
	s.mu.Unlock()
}

// OpenDirect creates (or fetches) the direct room with a user, adds it to
// the room list, and makes it active.
func (s *Synchronizer) OpenDirect(ctx context.Context, userID int64) (chat.Room, error) {
	room, err := s.api.CreateDirectRoom(ctx, userID)
	if err != nil {
		return chat.Room{}, fmt.Errorf("sync: open direct user=%d: %w", userID, err)
	}

	s.mu.Lock()
	found := false
	for i := range s.rooms {
		if s.rooms[i].ID == room.ID {
			s.rooms[i] = room
			found = true
			break
		}
	}
	if !found {
		s.rooms = append(s.rooms, room)
	}
	s.mu.Unlock()

	s.SetActiveRoom(ctx, room.ID)
	return room, nil
}

// Rooms returns a copy of the current room list.
func (s *Synchronizer) Rooms() []chat.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// Window returns the visible message list for the active room: confirmed
// messages merged with pending placeholders, ascending by timestamp, ties
// keeping arrival order.
func (s *Synchronizer) Window() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Message, 0, len(s.window)+len(s.pending))
	out = append(out, s.window...)
	out = append(out, s.pending...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// HasMore reports whether older pages remain for the active room.
func (s *Synchronizer) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// ---- internals ----

func (s *Synchronizer) removePending(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.pending {
		if s.pending[i].ClientID == clientID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Synchronizer) refetchRoom(roomID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	room, err := s.api.GetRoom(ctx, roomID)
	if err != nil {
		s.log.Info("sync.room.refetch_fail", "room", roomID, "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rooms {
		if s.rooms[i].ID == room.ID {
			s.rooms[i] = room
			return
		}
	}
	s.rooms = append(s.rooms, room)
}

func sortedByTimestamp(msgs []chat.Message) []chat.Message {
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
