// Package chat holds the domain model shared by the sync layer and the
// request/response API client.
package chat

import (
	"io"
	"time"
)

// RoomKind enumerates the room kinds understood by this layer.
type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomTask   RoomKind = "task"
	RoomGroup  RoomKind = "group"
)

// Room is the client-side view of one conversation.
//
// Rooms are created by a REST call or received via the list fetch, mutated in
// place when a message arrives or when they are marked read, and never deleted
// by this layer.
type Room struct {
	ID           int64
	Kind         RoomKind
	Name         string
	Participants []UserRef
	TaskID       int64 // zero when the room is not attached to a task

	LastMessage *Message // denormalized most-recent message, may be nil
	Unread      int      // non-negative
}

// UserRef identifies a user in the domain model.
type UserRef struct {
	ID       int64
	Username string
}

// Attachment is one file attached to a message.
type Attachment struct {
	ID   int64
	Name string
	URL  string
}

// Message is one chat message.
//
// ID is server-assigned. While a locally sent message is still pending, ID is
// zero and ClientID carries a locally generated placeholder identifier that is
// never reused as a real identifier.
type Message struct {
	ID          int64
	ClientID    string // non-empty only for pending placeholders
	Content     string
	Sender      UserRef
	RoomID      int64
	Attachments []Attachment
	Timestamp   time.Time
	Read        bool
	IsSystem    bool
}

// Pending reports whether the message is a not-yet-confirmed local placeholder.
func (m Message) Pending() bool { return m.ClientID != "" }

// MessagePage is one page of history returned by the fallback API.
type MessagePage struct {
	Messages []Message // ascending by timestamp
	HasMore  bool
}

// Upload is one attachment to send through the request/response path.
type Upload struct {
	Name   string
	Reader io.Reader
}
