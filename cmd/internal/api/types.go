package api

import (
	"time"

	"tether/cmd/internal/chat"
)

type userDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type attachmentDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

type messageDTO struct {
	ID          int64           `json:"id"`
	Content     string          `json:"content"`
	Sender      userDTO         `json:"sender"`
	RoomID      int64           `json:"room_id"`
	Attachments []attachmentDTO `json:"attachments"`
	Timestamp   time.Time       `json:"timestamp"`
	Read        bool            `json:"read"`
	IsSystem    bool            `json:"is_system"`
}

type roomDTO struct {
	ID           int64       `json:"id"`
	Kind         string      `json:"kind"`
	Name         string      `json:"name,omitempty"`
	Participants []userDTO   `json:"participants,omitempty"`
	TaskID       int64       `json:"task_id,omitempty"`
	LastMessage  *messageDTO `json:"last_message,omitempty"`
	Unread       int         `json:"unread"`
}

type messagePageDTO struct {
	Messages []messageDTO `json:"messages"`
	HasMore  bool         `json:"has_more"`
}

type createDirectRequest struct {
	UserID int64 `json:"user_id"`
}

func toMessage(d messageDTO) chat.Message {
	atts := make([]chat.Attachment, 0, len(d.Attachments))
	for _, a := range d.Attachments {
		atts = append(atts, chat.Attachment{ID: a.ID, Name: a.Name, URL: a.URL})
	}
	return chat.Message{
		ID:          d.ID,
		Content:     d.Content,
		Sender:      chat.UserRef{ID: d.Sender.ID, Username: d.Sender.Username},
		RoomID:      d.RoomID,
		Attachments: atts,
		Timestamp:   d.Timestamp,
		Read:        d.Read,
		IsSystem:    d.IsSystem,
	}
}

func toRoom(d roomDTO) chat.Room {
	parts := make([]chat.UserRef, 0, len(d.Participants))
	for _, p := range d.Participants {
		parts = append(parts, chat.UserRef{ID: p.ID, Username: p.Username})
	}
	r := chat.Room{
		ID:           d.ID,
		Kind:         chat.RoomKind(d.Kind),
		Name:         d.Name,
		Participants: parts,
		TaskID:       d.TaskID,
		Unread:       d.Unread,
	}
	if d.LastMessage != nil {
		m := toMessage(*d.LastMessage)
		r.LastMessage = &m
	}
	return r
}
