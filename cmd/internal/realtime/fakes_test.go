package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"tether/cmd/internal/chat"
	v1 "tether/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// fakeHandle is a ChannelHandle with a settable status that records every
// envelope sent through it.
type fakeHandle struct {
	mu     sync.Mutex
	status Status
	sent   []v1.Envelope
}

func newFakeHandle(st Status) *fakeHandle {
	return &fakeHandle{status: st}
}

func (h *fakeHandle) Send(env v1.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusConnected {
		return nil
	}
	h.sent = append(h.sent, env)
	return nil
}

func (h *fakeHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandle) setStatus(st Status) {
	h.mu.Lock()
	h.status = st
	h.mu.Unlock()
}

func (h *fakeHandle) envelopes() []v1.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]v1.Envelope, len(h.sent))
	copy(out, h.sent)
	return out
}

func (h *fakeHandle) reset() {
	h.mu.Lock()
	h.sent = nil
	h.mu.Unlock()
}

// fakeTransport is the transport handed out by fakeDialer.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []v1.Envelope
	closed bool
	code   websocket.StatusCode
}

func (f *fakeTransport) Send(env v1.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Close(code websocket.StatusCode, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer records each dial and exposes the callbacks of the most recent
// connection so tests can drive close events.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []*fakeTransport
	cbs   []Callbacks
	err   error
}

func (d *fakeDialer) dial(_ context.Context, _ *slog.Logger, _ Channel, _ string, _ Credentials, cb Callbacks, _ *Metrics) (transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	conn := &fakeTransport{}
	d.conns = append(d.conns, conn)
	d.cbs = append(d.cbs, cb)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) lastCallbacks() (Callbacks, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cbs) == 0 {
		return Callbacks{}, false
	}
	return d.cbs[len(d.cbs)-1], true
}

// fakeAPI is a RoomAPI with per-method stubs and call counting.
type fakeAPI struct {
	mu sync.Mutex

	listRoomsFn  func(ctx context.Context) ([]chat.Room, error)
	getRoomFn    func(ctx context.Context, roomID int64) (chat.Room, error)
	messagesFn   func(ctx context.Context, roomID int64, page int) (chat.MessagePage, error)
	sendFn       func(ctx context.Context, roomID int64, content string, attachments []chat.Upload) (chat.Message, error)
	markReadFn   func(ctx context.Context, roomID int64) error
	openDirectFn func(ctx context.Context, userID int64) (chat.Room, error)

	sendCalls     int
	markReadCalls int
}

func (f *fakeAPI) ListRooms(ctx context.Context) ([]chat.Room, error) {
	if f.listRoomsFn == nil {
		return nil, nil
	}
	return f.listRoomsFn(ctx)
}

func (f *fakeAPI) GetRoom(ctx context.Context, roomID int64) (chat.Room, error) {
	if f.getRoomFn == nil {
		return chat.Room{ID: roomID}, nil
	}
	return f.getRoomFn(ctx, roomID)
}

func (f *fakeAPI) Messages(ctx context.Context, roomID int64, page int) (chat.MessagePage, error) {
	if f.messagesFn == nil {
		return chat.MessagePage{}, nil
	}
	return f.messagesFn(ctx, roomID, page)
}

func (f *fakeAPI) SendMessage(ctx context.Context, roomID int64, content string, attachments []chat.Upload) (chat.Message, error) {
	f.mu.Lock()
	f.sendCalls++
	f.mu.Unlock()
	if f.sendFn == nil {
		return chat.Message{ID: 1, Content: content, RoomID: roomID, Timestamp: time.Now().UTC()}, nil
	}
	return f.sendFn(ctx, roomID, content, attachments)
}

func (f *fakeAPI) MarkRead(ctx context.Context, roomID int64) error {
	f.mu.Lock()
	f.markReadCalls++
	f.mu.Unlock()
	if f.markReadFn == nil {
		return nil
	}
	return f.markReadFn(ctx, roomID)
}

func (f *fakeAPI) CreateDirectRoom(ctx context.Context, userID int64) (chat.Room, error) {
	if f.openDirectFn == nil {
		return chat.Room{ID: userID, Kind: chat.RoomDirect}, nil
	}
	return f.openDirectFn(ctx, userID)
}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}
