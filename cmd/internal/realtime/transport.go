package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "tether/contracts/chat/v1"
)

// Callbacks are the only way transport state changes become observable.
// All of them may be nil. OnMessage receives decoded envelopes; malformed
// frames are logged and dropped before this point.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(v1.Envelope)
	OnClose   func(code websocket.StatusCode, reason string, wasClean bool)
	OnError   func(err error)
}

// Conn owns one persistent duplex connection to one logical endpoint.
//
// Design notes:
//   - Send is a deliberate no-op when the connection is not connected;
//     callers check status or choose a fallback path.
//   - The read loop runs until the peer closes, the heartbeat gives up, or
//     Close is called; it reports the outcome through OnClose exactly once.
type Conn struct {
	log     *slog.Logger
	channel Channel
	ws      *websocket.Conn
	cb      Callbacks
	metrics *Metrics

	writeTimeout time.Duration

	mu        sync.Mutex
	connected bool

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial opens and authenticates one connection, fires OnOpen, and starts the
// read and heartbeat loops. The context bounds the handshake only.
func Dial(ctx context.Context, log *slog.Logger, ch Channel, endpoint string, creds Credentials, cb Callbacks, metrics *Metrics) (*Conn, error) {
	dialURL := endpoint
	opts := &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
	}

	switch creds.mode() {
	case authAmbient:
		opts.HTTPClient = &http.Client{Jar: creds.Jar}
	case authSubprotocol:
		opts.Subprotocols = append(opts.Subprotocols, bearerSubprotocolPrefix+strings.TrimSpace(creds.BearerToken))
	case authQueryToken:
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("realtime: parse endpoint: %w", err)
		}
		q := u.Query()
		q.Set(tokenQueryParam, strings.TrimSpace(creds.BearerToken))
		u.RawQuery = q.Encode()
		dialURL = u.String()
	}

	ws, _, err := websocket.Dial(ctx, dialURL, opts)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", ch, err)
	}
	ws.SetReadLimit(maxFrameBytes)

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		log:          log,
		channel:      ch,
		ws:           ws,
		cb:           cb,
		metrics:      metrics,
		writeTimeout: defaultWriteTimeout,
		connected:    true,
		cancel:       cancel,
	}

	if cb.OnOpen != nil {
		cb.OnOpen()
	}

	go c.readLoop(loopCtx)
	go c.heartbeatLoop(loopCtx)

	return c, nil
}

// Send serializes and writes one envelope. It is a no-op (not queued, not an
// error) when the connection is not connected. Write failures are reported
// through OnError and returned.
func (c *Conn) Send(env v1.Envelope) error {
	c.mu.Lock()
	ok := c.connected
	c.mu.Unlock()
	if !ok {
		return nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("realtime: marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
		return fmt.Errorf("realtime: write %s: %w", env.Type, err)
	}
	return nil
}

// Connected reports whether the connection is currently usable.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears the connection down. The close is reported through OnClose as
// clean regardless of what the peer does with it.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.shutdown(code, reason, true)
}

func (c *Conn) shutdown(code websocket.StatusCode, reason string, wasClean bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		_ = c.ws.Close(code, reason)
		c.cancel()

		if c.cb.OnClose != nil {
			c.cb.OnClose(code, reason, wasClean)
		}
	})
}

// ---- read loop ----

func (c *Conn) readLoop(ctx context.Context) {
	for {
		mt, data, err := c.ws.Read(ctx)
		if err != nil {
			code := websocket.CloseStatus(err)
			switch classifyReadErr(err) {
			case readErrClose:
				c.shutdown(code, "peer closed", code == websocket.StatusNormalClosure)
			case readErrCtxDone:
				// Close() already ran; nothing to report.
				c.shutdown(websocket.StatusNormalClosure, "context done", true)
			default:
				if c.cb.OnError != nil {
					c.cb.OnError(err)
				}
				c.shutdown(websocket.StatusAbnormalClosure, "read failed", false)
			}
			return
		}

		if mt != websocket.MessageText {
			c.dropFrame("binary_frame", nil)
			continue
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.dropFrame("bad_json", err)
			continue
		}
		if err := env.Validate(); err != nil {
			c.dropFrame("bad_envelope", err)
			continue
		}
		if !v1.KnownInbound(string(c.channel), env.Type) {
			c.dropFrame("unknown_type:"+env.Type, nil)
			continue
		}

		if c.cb.OnMessage != nil {
			c.cb.OnMessage(env)
		}
	}
}

// dropFrame logs and counts a malformed or unrecognized inbound frame.
// Such frames never propagate and never close the connection.
func (c *Conn) dropFrame(reason string, err error) {
	c.log.Info("ws.frame.drop", "channel", c.channel, "reason", reason, "err", err)
	c.metrics.frameDropped(c.channel)
}

// ---- heartbeat ----

func (c *Conn) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := c.ws.Ping(hbCtx)
			cancel()

			if err != nil {
				failures++
				c.log.Info("ws.ping.fail", "channel", c.channel, "failures", failures, "err", err)
				if failures >= heartbeatMaxFailures {
					c.shutdown(websocket.StatusGoingAway, "heartbeat failed", false)
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrAbrupt readErrKind = iota
	readErrClose
	readErrCtxDone
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	// net.ErrClosed and io.EOF fall through: an abrupt close with no status.
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrAbrupt
	}
	return readErrAbrupt
}
