package realtime

import (
	"log/slog"
	"sync"

	"tether/cmd/internal/chat"
	v1 "tether/contracts/chat/v1"
)

// RoomJoiner ensures a join envelope is sent exactly once per (room, live
// connection) pair and a leave when the active room changes or the consumer
// tears down. It observes the connected rising edge through a status
// subscription rather than being invoked by the supervisor, which keeps the
// channel manager ignorant of chat semantics.
//
// Join/leave are best-effort: no acknowledgement is awaited and failures are
// not retried individually - a lost join recovers when the room is re-set as
// active or the connection cycles.
type RoomJoiner struct {
	log *slog.Logger
	ch  ChannelHandle

	mu        sync.Mutex
	kind      chat.RoomKind
	roomID    int64
	active    bool
	joined    bool // join sent on the current live connection
	cancelSub func()
}

// NewRoomJoiner constructs a RoomJoiner subscribed to the supervisor's
// status transitions. Call Teardown to unsubscribe and leave.
func NewRoomJoiner(log *slog.Logger, sup *Supervisor, ch ChannelHandle) *RoomJoiner {
	j := &RoomJoiner{log: log, ch: ch}
	j.cancelSub = sup.SubscribeStatus(j.onStatus)
	return j
}

// SetActive switches the joined room: leave the previous one (when
// connected), join the new one (when connected now; otherwise the next
// connected edge joins it).
func (j *RoomJoiner) SetActive(kind chat.RoomKind, roomID int64) {
	j.mu.Lock()
	sameRoom := j.active && j.roomID == roomID && j.kind == kind
	if sameRoom && j.joined {
		j.mu.Unlock()
		return
	}

	prevActive, prevKind, prevID, prevJoined := j.active, j.kind, j.roomID, j.joined
	j.kind = kind
	j.roomID = roomID
	j.active = true
	j.joined = false
	j.mu.Unlock()

	if prevActive && prevJoined && !sameRoom {
		j.sendLeave(prevKind, prevID)
	}

	if j.ch.Status() == StatusConnected {
		j.sendJoin(kind, roomID)
		j.mu.Lock()
		j.joined = true
		j.mu.Unlock()
	}
}

// ClearActive leaves the current room, if any.
func (j *RoomJoiner) ClearActive() {
	j.mu.Lock()
	wasActive, wasJoined := j.active, j.joined
	kind, roomID := j.kind, j.roomID
	j.active = false
	j.joined = false
	j.mu.Unlock()

	if wasActive && wasJoined {
		j.sendLeave(kind, roomID)
	}
}

// Teardown unsubscribes from status updates and leaves the active room.
func (j *RoomJoiner) Teardown() {
	if j.cancelSub != nil {
		j.cancelSub()
		j.cancelSub = nil
	}
	j.ClearActive()
}

// onStatus re-joins the active room on every connected rising edge: after a
// reconnection the server has no memory of the previous join, so this is a
// required reconciliation step.
func (j *RoomJoiner) onStatus(st Status) {
	switch st {
	case StatusConnected:
		j.mu.Lock()
		needJoin := j.active
		kind, roomID := j.kind, j.roomID
		j.joined = needJoin
		j.mu.Unlock()

		if needJoin {
			j.sendJoin(kind, roomID)
		}
	case StatusDisconnected, StatusConnecting:
		j.mu.Lock()
		j.joined = false
		j.mu.Unlock()
	}
}

func (j *RoomJoiner) sendJoin(kind chat.RoomKind, roomID int64) {
	env, err := v1.NewEnvelope(v1.TypeJoinRoom, v1.JoinRoomPayload{
		RoomType: string(kind),
		RoomID:   roomID,
	})
	if err != nil {
		j.log.Info("join.envelope.fail", "err", err)
		return
	}
	if err := j.ch.Send(env); err != nil {
		j.log.Info("join.send.fail", "room", roomID, "err", err)
	}
}

func (j *RoomJoiner) sendLeave(kind chat.RoomKind, roomID int64) {
	env, err := v1.NewEnvelope(v1.TypeLeaveRoom, v1.LeaveRoomPayload{
		RoomType: string(kind),
		RoomID:   roomID,
	})
	if err != nil {
		j.log.Info("leave.envelope.fail", "err", err)
		return
	}
	if err := j.ch.Send(env); err != nil {
		j.log.Info("leave.send.fail", "room", roomID, "err", err)
	}
}
