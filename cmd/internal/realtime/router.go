package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"tether/cmd/internal/chat"
	v1 "tether/contracts/chat/v1"
)

// ChatRouter decodes chat-channel envelopes and routes them to the
// synchronizer and the typing coordinator. Decoding failures are logged and
// dropped; a server-reported error envelope is a debug signal only.
type ChatRouter struct {
	log    *slog.Logger
	sync   *Synchronizer
	typing *TypingCoordinator
	cancel func()
}

// AttachChat subscribes a router to the chat supervisor's envelope stream.
func AttachChat(log *slog.Logger, sup *Supervisor, sy *Synchronizer, ty *TypingCoordinator) *ChatRouter {
	r := &ChatRouter{log: log, sync: sy, typing: ty}
	r.cancel = sup.SubscribeMessages(r.route)
	return r
}

// Detach unsubscribes the router.
func (r *ChatRouter) Detach() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *ChatRouter) route(env v1.Envelope) {
	switch env.Type {
	case v1.TypeChatMessage, v1.TypeSystemMessage:
		var p v1.MessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			r.log.Info("router.message.bad_payload", "err", err)
			return
		}
		r.sync.Ingest(messageFromPayload(p, env.Type == v1.TypeSystemMessage))

	case v1.TypeTyping:
		var p v1.TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			r.log.Info("router.typing.bad_payload", "err", err)
			return
		}
		r.typing.Apply(p.User.ID, p.RoomID, p.IsTyping, time.Now().UTC())

	case v1.TypeError:
		var p v1.ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			r.log.Info("router.error.bad_payload", "err", err)
			return
		}
		r.log.Info("ws.server.error", "message", p.Message)
	}
}

func messageFromPayload(p v1.MessagePayload, system bool) chat.Message {
	atts := make([]chat.Attachment, 0, len(p.Attachments))
	for _, a := range p.Attachments {
		atts = append(atts, chat.Attachment{ID: a.ID, Name: a.Name, URL: a.URL})
	}

	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		// A server clock we cannot parse still has to order somewhere;
		// arrival time preserves the ascending invariant best.
		ts = time.Now().UTC()
	}

	return chat.Message{
		ID:          p.ID,
		Content:     p.Content,
		Sender:      chat.UserRef{ID: p.Sender.ID, Username: p.Sender.Username},
		RoomID:      p.RoomID,
		Attachments: atts,
		Timestamp:   ts,
		IsSystem:    system || p.IsSystem,
	}
}

// NotificationFunc consumes one decoded notification object.
type NotificationFunc func(notification json.RawMessage)

// AttachNotifications subscribes a consumer to the notifications channel,
// accepting both the current type and its legacy alias. Returns a cancel func.
func AttachNotifications(log *slog.Logger, sup *Supervisor, fn NotificationFunc) func() {
	return sup.SubscribeMessages(func(env v1.Envelope) {
		switch env.Type {
		case v1.TypeNotification, v1.TypeNotificationLegacy:
		default:
			return
		}

		var p v1.NotificationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Info("router.notification.bad_payload", "err", err)
			return
		}
		fn(p.Notification)
	})
}
