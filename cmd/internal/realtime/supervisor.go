package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	v1 "tether/contracts/chat/v1"
)

const dialTimeout = 15 * time.Second

// transport is the slice of Conn the supervisor depends on; tests substitute
// a fake through WithDialer.
type transport interface {
	Send(env v1.Envelope) error
	Close(code websocket.StatusCode, reason string)
}

// DialFunc opens one authenticated connection. It mirrors Dial.
type DialFunc func(ctx context.Context, log *slog.Logger, ch Channel, endpoint string, creds Credentials, cb Callbacks, m *Metrics) (transport, error)

func defaultDial(ctx context.Context, log *slog.Logger, ch Channel, endpoint string, creds Credentials, cb Callbacks, m *Metrics) (transport, error) {
	return Dial(ctx, log, ch, endpoint, creds, cb, m)
}

// Supervisor wraps one channel's transport with reconnection policy and
// process-wide reference counting so that every consumer of "the chat
// connection" shares one physical connection.
//
// State machine: disconnected -> connecting -> connected -> disconnected ...
// Reconnection stops only when the reference count is zero or the owning
// session is no longer authenticated.
type Supervisor struct {
	log      *slog.Logger
	channel  Channel
	endpoint string
	creds    Credentials
	dial     DialFunc
	metrics  *Metrics
	jitter   func() time.Duration

	mu       sync.Mutex
	refs     int
	status   Status
	conn     transport
	attempt  int
	retry    *time.Timer
	authed   bool
	dialing  bool
	nextSub  int
	statusFn map[int]func(Status)
	msgFn    map[int]func(v1.Envelope)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithDialer substitutes the connection factory (tests).
func WithDialer(d DialFunc) SupervisorOption {
	return func(s *Supervisor) { s.dial = d }
}

// WithJitter substitutes the backoff jitter source (tests).
func WithJitter(j func() time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.jitter = j }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *Metrics) SupervisorOption {
	return func(s *Supervisor) { s.metrics = m }
}

// NewSupervisor constructs a Supervisor for one channel. The session is
// assumed authenticated until SetAuthenticated(false).
func NewSupervisor(log *slog.Logger, ch Channel, endpoint string, creds Credentials, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		log:      log,
		channel:  ch,
		endpoint: endpoint,
		creds:    creds,
		dial:     defaultDial,
		jitter:   randomJitter,
		status:   StatusDisconnected,
		authed:   true,
		statusFn: make(map[int]func(Status)),
		msgFn:    make(map[int]func(v1.Envelope)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle is one consumer's grip on a shared channel. Releasing the last
// handle tears the underlying connection down.
type Handle struct {
	s        *Supervisor
	once     sync.Once
	released atomic.Bool
}

// ErrReleased is returned by Send on a released handle.
var ErrReleased = errors.New("realtime: handle released")

// Acquire increments the reference count and, if no live or in-flight
// connection exists, opens one. Acquiring while connected or connecting
// reuses the existing connection.
func (s *Supervisor) Acquire() *Handle {
	s.mu.Lock()
	s.refs++
	start := s.authed && s.status == StatusDisconnected && s.retry == nil && !s.dialing
	var notify []func(Status)
	var st Status
	if start {
		s.dialing = true
		st = s.setStatusLocked(StatusConnecting)
		notify = s.statusSubsLocked()
	}
	s.mu.Unlock()

	if start {
		fanOutStatus(notify, st)
		go s.connect()
	}
	return &Handle{s: s}
}

// Release decrements the reference count; at zero the connection is closed
// and the shared handle cleared. Idempotent per Handle.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.released.Store(true)
		h.s.release()
	})
}

// Send forwards an envelope to the live connection. It is a no-op when the
// channel is not connected and returns ErrReleased after Release.
func (h *Handle) Send(env v1.Envelope) error {
	if h.released.Load() {
		return ErrReleased
	}
	h.s.mu.Lock()
	conn := h.s.conn
	connected := h.s.status == StatusConnected
	h.s.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	return conn.Send(env)
}

// Status returns the channel's current three-valued status.
func (h *Handle) Status() Status { return h.s.Status() }

// Status returns the channel's current status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Channel returns the channel this supervisor owns.
func (s *Supervisor) Channel() Channel { return s.channel }

// SubscribeStatus registers a status observer and returns a cancel func.
// Observers see every transition, including the connected rising edge the
// join/leave protocol relies on.
func (s *Supervisor) SubscribeStatus(fn func(Status)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.statusFn[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.statusFn, id)
		s.mu.Unlock()
	}
}

// SubscribeMessages registers a decoded-envelope observer and returns a
// cancel func. The supervisor stays ignorant of chat semantics; consumers
// route envelopes themselves.
func (s *Supervisor) SubscribeMessages(fn func(v1.Envelope)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.msgFn[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.msgFn, id)
		s.mu.Unlock()
	}
}

// SetAuthenticated couples the supervisor to the owning session's auth state.
// On transition to unauthenticated, pending retry timers are cancelled and
// the connection is closed; it is not reopened until a new Acquire follows a
// fresh authenticated session.
func (s *Supervisor) SetAuthenticated(authed bool) {
	s.mu.Lock()
	s.authed = authed
	var conn transport
	if !authed {
		s.cancelRetryLocked()
		conn = s.conn
		s.conn = nil
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "unauthenticated")
	}
}

// ---- internals ----

func (s *Supervisor) release() {
	s.mu.Lock()
	if s.refs > 0 {
		s.refs--
	}
	var conn transport
	if s.refs == 0 {
		s.cancelRetryLocked()
		conn = s.conn
		s.conn = nil
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "released")
	}
}

// connect runs one dial cycle off the caller's goroutine.
func (s *Supervisor) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	cb := Callbacks{
		OnMessage: s.fanOutMessage,
		OnClose:   s.handleClose,
		OnError: func(err error) {
			s.log.Info("ws.conn.error", "channel", s.channel, "err", err)
		},
	}

	conn, err := s.dial(ctx, s.log, s.channel, s.endpoint, s.creds, cb, s.metrics)

	s.mu.Lock()
	s.dialing = false
	if err != nil {
		st := s.setStatusLocked(StatusDisconnected)
		notify := s.statusSubsLocked()
		s.scheduleRetryLocked()
		s.mu.Unlock()

		s.log.Info("ws.connect.fail", "channel", s.channel, "err", err)
		fanOutStatus(notify, st)
		return
	}

	if s.refs == 0 || !s.authed {
		// Everyone left (or the session died) while the dial was in flight.
		st := s.setStatusLocked(StatusDisconnected)
		notify := s.statusSubsLocked()
		s.mu.Unlock()

		conn.Close(websocket.StatusNormalClosure, "released")
		fanOutStatus(notify, st)
		return
	}

	s.conn = conn
	s.attempt = 0
	st := s.setStatusLocked(StatusConnected)
	notify := s.statusSubsLocked()
	s.mu.Unlock()

	s.log.Info("ws.connect.ok", "channel", s.channel)
	fanOutStatus(notify, st)
}

// handleClose is the transport's OnClose. Any close while consumers remain
// and the session is authenticated schedules a reconnection attempt; closes
// we initiated ourselves arrive with refs==0 or authed==false and stop here.
func (s *Supervisor) handleClose(code websocket.StatusCode, reason string, wasClean bool) {
	s.mu.Lock()
	s.conn = nil
	st := s.setStatusLocked(StatusDisconnected)
	notify := s.statusSubsLocked()
	if s.refs > 0 && s.authed {
		s.scheduleRetryLocked()
	}
	s.mu.Unlock()

	s.log.Info("ws.conn.close", "channel", s.channel, "code", code, "reason", reason, "clean", wasClean)
	fanOutStatus(notify, st)
}

// scheduleRetryLocked arms the backoff timer. Caller holds s.mu.
func (s *Supervisor) scheduleRetryLocked() {
	if s.retry != nil || s.dialing || s.refs == 0 || !s.authed {
		return
	}

	s.attempt++
	delay := reconnectDelay(s.attempt) + s.jitter()
	s.metrics.reconnectScheduled(s.channel)
	s.log.Info("ws.reconnect.schedule", "channel", s.channel, "attempt", s.attempt, "delay_ms", delay.Milliseconds())

	s.retry = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.retry = nil
		if s.refs == 0 || !s.authed || s.status != StatusDisconnected || s.dialing {
			s.mu.Unlock()
			return
		}
		s.dialing = true
		st := s.setStatusLocked(StatusConnecting)
		notify := s.statusSubsLocked()
		s.mu.Unlock()

		fanOutStatus(notify, st)
		s.connect()
	})
}

func (s *Supervisor) cancelRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Supervisor) setStatusLocked(st Status) Status {
	s.status = st
	s.metrics.setConnectionState(s.channel, st)
	return st
}

func (s *Supervisor) statusSubsLocked() []func(Status) {
	out := make([]func(Status), 0, len(s.statusFn))
	for _, fn := range s.statusFn {
		out = append(out, fn)
	}
	return out
}

func (s *Supervisor) fanOutMessage(env v1.Envelope) {
	s.mu.Lock()
	subs := make([]func(v1.Envelope), 0, len(s.msgFn))
	for _, fn := range s.msgFn {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(env)
	}
}

// fanOutStatus invokes subscribers outside the supervisor lock so they may
// call back into the supervisor.
func fanOutStatus(subs []func(Status), st Status) {
	for _, fn := range subs {
		fn(st)
	}
}
