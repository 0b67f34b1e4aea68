// Package main provides a CI-friendly WebSocket smoke test for a Tether
// chat endpoint.
//
// It validates:
//   - handshake + subprotocol selection
//   - join_room
//   - send_message -> chat_message echo
//   - typing start/stop signals
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "tether/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "tether.chat.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8000/ws/chat/", "WebSocket URL")
		roomID   = flag.Int64("room", 1, "Room ID to join")
		roomType = flag.String("room-type", "group", "Room type (direct, task, group)")
		text     = flag.String("text", "tether smoke test", "Message text to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	dialCtx, cancel := context.WithTimeout(root, *timeout)
	conn, _, err := websocket.Dial(dialCtx, *wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	cancel()
	if err != nil {
		fatalf("dial: %v", err)
	}
	conn.SetReadLimit(maxReadBytes)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "smoke done") }()

	if *verbose {
		fmt.Printf("connected: url=%s subprotocol=%q\n", *wsURL, conn.Subprotocol())
	}

	mustSend(root, conn, v1.TypeJoinRoom, v1.JoinRoomPayload{RoomType: *roomType, RoomID: *roomID}, *timeout)
	mustSend(root, conn, v1.TypeTyping, v1.TypingSignalPayload{RoomType: *roomType, RoomID: *roomID, IsTyping: true}, *timeout)
	mustSend(root, conn, v1.TypeSendMessage, v1.SendMessagePayload{RoomType: *roomType, RoomID: *roomID, Message: *text}, *timeout)
	mustSend(root, conn, v1.TypeTyping, v1.TypingSignalPayload{RoomType: *roomType, RoomID: *roomID, IsTyping: false}, *timeout)

	msg := mustAwaitEcho(root, conn, *roomID, *text, *timeout)

	mustSend(root, conn, v1.TypeLeaveRoom, v1.LeaveRoomPayload{RoomType: *roomType, RoomID: *roomID}, *timeout)

	fmt.Printf("OK: room=%d message_id=%d content=%q\n", *roomID, msg.ID, msg.Content)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func mustSend(ctx context.Context, conn *websocket.Conn, typ string, payload any, timeout time.Duration) {
	env, err := v1.NewEnvelope(typ, payload)
	if err != nil {
		fatalf("%s: build envelope: %v", typ, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		fatalf("%s: marshal: %v", typ, err)
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		fatalf("%s: write: %v", typ, err)
	}
}

// mustAwaitEcho reads frames until the sent message comes back as a
// chat_message for the room, skipping typing echoes and system chatter.
func mustAwaitEcho(ctx context.Context, conn *websocket.Conn, roomID int64, text string, timeout time.Duration) v1.MessagePayload {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		_, data, err := conn.Read(rctx)
		if err != nil {
			fatalf("await echo: read: %v", err)
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type != v1.TypeChatMessage {
			continue
		}

		var p v1.MessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			fatalf("await echo: bad chat_message payload: %v", err)
		}
		if p.RoomID == roomID && p.Content == text {
			return p
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ws-smoke: "+format+"\n", args...)
	os.Exit(1)
}
