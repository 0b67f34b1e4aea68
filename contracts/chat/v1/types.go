// Package v1 defines the Tether chat wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the sync layer and tests to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Channel names. Each names one logical long-lived duplex stream,
// independent of how many consumers share it.
const (
	ChannelChat          = "chat"
	ChannelNotifications = "notifications"
)

// Inbound type constants (wire-stable).
const (
	// TypeChatMessage carries a user message (server -> client).
	TypeChatMessage = "chat_message"
	// TypeSystemMessage carries a server-generated message; always treated as system.
	TypeSystemMessage = "system_message"
	// TypeTyping carries a typing indicator in either direction.
	TypeTyping = "typing"
	// TypeError is a generic server-reported error (server -> client).
	TypeError = "error"

	// TypeNotification carries a notification object (server -> client).
	TypeNotification = "notification"
	// TypeNotificationLegacy is the pre-rename alias still emitted by older servers.
	TypeNotificationLegacy = "new_notification"
)

// Outbound type constants (client -> server, chat channel only).
const (
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeSendMessage = "send_message"
)

// Envelope is the canonical wire wrapper: one JSON object per frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Validate performs structural validation for an Envelope.
// Unknown types are not rejected here; the consumer decides whether to
// drop them (inbound) or never produce them (outbound).
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	return nil
}

// KnownInbound reports whether typ is a recognized inbound type for the channel.
// Frames with unrecognized types are logged and dropped, never fatal.
func KnownInbound(channel, typ string) bool {
	switch channel {
	case ChannelChat:
		switch typ {
		case TypeChatMessage, TypeSystemMessage, TypeTyping, TypeError:
			return true
		}
	case ChannelNotifications:
		switch typ {
		case TypeNotification, TypeNotificationLegacy:
			return true
		}
	}
	return false
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Data: data}, nil
}

// ---- Inbound payloads ----

// UserRef identifies a user inside a payload.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// AttachmentRef describes one attachment of a message.
type AttachmentRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// MessagePayload is the data of chat_message and system_message frames.
type MessagePayload struct {
	ID          int64           `json:"id"`
	Content     string          `json:"content"`
	Sender      UserRef         `json:"sender"`
	RoomID      int64           `json:"room_id"`
	RoomType    string          `json:"room_type,omitempty"`
	Attachments []AttachmentRef `json:"attachments"`
	Timestamp   string          `json:"timestamp"`
	IsSystem    bool            `json:"is_system,omitempty"`
}

// TypingPayload is the data of inbound typing frames.
type TypingPayload struct {
	User     UserRef `json:"user"`
	IsTyping bool    `json:"is_typing"`
	RoomID   int64   `json:"room_id"`
}

// ErrorPayload is the data of server-reported error frames.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NotificationPayload is the data of notification frames. The notification
// object itself is opaque to this layer and handed to the consumer as-is.
type NotificationPayload struct {
	Notification json.RawMessage `json:"notification"`
}

// ---- Outbound payloads ----

// JoinRoomPayload is the data of join_room frames.
type JoinRoomPayload struct {
	RoomType string `json:"room_type"`
	RoomID   int64  `json:"room_id"`
}

// LeaveRoomPayload is the data of leave_room frames.
type LeaveRoomPayload struct {
	RoomType string `json:"room_type"`
	RoomID   int64  `json:"room_id"`
}

// SendMessagePayload is the data of send_message frames.
type SendMessagePayload struct {
	RoomType string `json:"room_type"`
	RoomID   int64  `json:"room_id"`
	Message  string `json:"message"`
}

// TypingSignalPayload is the data of outbound typing frames.
type TypingSignalPayload struct {
	RoomType string `json:"room_type"`
	RoomID   int64  `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}
