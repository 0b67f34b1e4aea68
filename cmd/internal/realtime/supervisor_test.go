package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "tether/contracts/chat/v1"
)

func newTestSupervisor(t *testing.T, d *fakeDialer) *Supervisor {
	t.Helper()
	return NewSupervisor(testLogger(), ChannelChat, "ws://test/ws/chat/", Credentials{},
		WithDialer(d.dial),
		WithJitter(func() time.Duration { return 0 }),
	)
}

func TestSupervisorAcquireConnectsOnce(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s := newTestSupervisor(t, d)

	h1 := s.Acquire()
	h2 := s.Acquire()
	defer h1.Release()
	defer h2.Release()

	waitFor(t, func() bool { return s.Status() == StatusConnected }, "connected")

	if got := d.dialCount(); got != 1 {
		t.Fatalf("dials=%d, want 1: acquires must share one connection", got)
	}
}

func TestSupervisorReleaseIsRefCounted(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s := newTestSupervisor(t, d)

	h1 := s.Acquire()
	h2 := s.Acquire()
	waitFor(t, func() bool { return s.Status() == StatusConnected }, "connected")
	conn := d.lastConn()

	h1.Release()
	if conn.isClosed() {
		t.Fatalf("connection closed while a consumer remains")
	}
	if s.Status() != StatusConnected {
		t.Fatalf("status=%v after partial release, want connected", s.Status())
	}

	h2.Release()
	waitFor(t, conn.isClosed, "close after last release")
}

func TestSupervisorReleaseIsIdempotentPerHandle(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s := newTestSupervisor(t, d)

	h1 := s.Acquire()
	h2 := s.Acquire()
	waitFor(t, func() bool { return s.Status() == StatusConnected }, "connected")
	conn := d.lastConn()

	h1.Release()
	h1.Release() // double release must not steal h2's reference
	if conn.isClosed() {
		t.Fatalf("double release closed a connection another consumer holds")
	}
	h2.Release()
	waitFor(t, conn.isClosed, "close after last release")
}

func TestSupervisorStatusTransitions(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s := newTestSupervisor(t, d)

	var seen testStatusLog
	cancel := s.SubscribeStatus(seen.record)
	defer cancel()

	h := s.Acquire()
	defer h.Release()
	waitFor(t, func() bool { return s.Status() == StatusConnected }, "connected")

	got := seen.snapshot()
	if len(got) < 2 || got[0] != StatusConnecting || got[1] != StatusConnected {
		t.Fatalf("transitions=%v, want [connecting connected ...]", got)
	}
}

func TestSupervisorNoReconnectAfterLastRelease(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s := newTestSupervisor(t, d)

	h := s.Acquire()
	waitFor(t, func() bool { return s.Status() == StatusConnected }, "connected")
	cb, ok := d.lastCallbacks()
	if !ok {
		t.Fatalf("no callbacks recorded")
	}

	h.Release()
	// The close we initiated arrives with refs==0 and must not re-dial.
	cb.OnClose(websocket.StatusNormalClosure, "released", true)

	time.Sleep(20 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Fatalf("dials=%d after release, want 1", got)
	}
	if s.Status() != StatusDisconnected {
		t.Fatalf("status=%v, want disconnected", s.Status())
	}
}

func TestSupervisorSetUnauthenticatedClosesAndStops(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s := newTestSupervisor(t, d)

	h := s.Acquire()
	defer h.Release()
	waitFor(t, func() bool { return s.Status() == StatusConnected }, "connected")
	conn := d.lastConn()
	cb, _ := d.lastCallbacks()

	s.SetAuthenticated(false)
	waitFor(t, conn.isClosed, "close on unauthenticated")

	cb.OnClose(websocket.StatusNormalClosure, "unauthenticated", true)
	time.Sleep(20 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Fatalf("dials=%d after unauthenticated close, want 1: no reconnect without auth", got)
	}
}

func TestSupervisorSendIsNoOpWhenDisconnected(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{err: errDialRefused}
	s := newTestSupervisor(t, d)

	h := s.Acquire()
	defer h.Release()
	waitFor(t, func() bool { return d.dialCount() >= 1 }, "dial attempt")

	env, err := v1.NewEnvelope(v1.TypeSendMessage, v1.SendMessagePayload{RoomID: 1, Message: "x"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := h.Send(env); err != nil {
		t.Fatalf("Send while disconnected must be a silent no-op, got %v", err)
	}
}

func TestSupervisorSendAfterReleaseReturnsErrReleased(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s := newTestSupervisor(t, d)

	h := s.Acquire()
	waitFor(t, func() bool { return s.Status() == StatusConnected }, "connect")
	h.Release()

	env, err := v1.NewEnvelope(v1.TypeSendMessage, v1.SendMessagePayload{RoomID: 1, Message: "x"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := h.Send(env); !errors.Is(err, ErrReleased) {
		t.Fatalf("Send after Release: err=%v, want ErrReleased", err)
	}
}

func TestSupervisorFansOutMessages(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s := newTestSupervisor(t, d)

	got := make(chan v1.Envelope, 1)
	cancel := s.SubscribeMessages(func(env v1.Envelope) { got <- env })
	defer cancel()

	h := s.Acquire()
	defer h.Release()
	waitFor(t, func() bool { return s.Status() == StatusConnected }, "connected")

	cb, _ := d.lastCallbacks()
	cb.OnMessage(v1.Envelope{Type: v1.TypeChatMessage})

	select {
	case env := <-got:
		if env.Type != v1.TypeChatMessage {
			t.Fatalf("type=%q, want %q", env.Type, v1.TypeChatMessage)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message never fanned out")
	}
}

// ---- helpers ----

var errDialRefused = errors.New("dial refused")

type testStatusLog struct {
	mu       sync.Mutex
	statuses []Status
}

func (l *testStatusLog) record(st Status) {
	l.mu.Lock()
	l.statuses = append(l.statuses, st)
	l.mu.Unlock()
}

func (l *testStatusLog) snapshot() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, len(l.statuses))
	copy(out, l.statuses)
	return out
}
