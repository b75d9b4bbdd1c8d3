package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Realtime frame actions. Inbound frames are tagged by the Action field;
// outbound send frames mirror the message shape with ActionMessage.
const (
	ActionMessage = "message"
	ActionDelete  = "delete"
	ActionSeen    = "seen"
)

// Event is one JSON frame on the realtime connection.
//
// Field usage by action:
//
//	message: ID, Content, SenderID, ReplyToID, ReplyToContent, CreatedAt, Seen, SeenTimestamp
//	delete:  MessageID
//	seen:    SeenTimestamp
type Event struct {
	Action string `json:"action"`

	ID             string    `json:"id,omitempty"`
	Content        string    `json:"content,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	ReplyToID      string    `json:"reply_to_id,omitempty"`
	ReplyToContent string    `json:"reply_to_content,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	Seen           bool      `json:"seen,omitempty"`

	MessageID string `json:"message_id,omitempty"`

	SeenTimestamp *time.Time `json:"seen_timestamp,omitempty"`
}

// ParseEvent decodes a raw frame and checks the action tag. A failure here is a
// protocol error: the caller logs it and drops the frame.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	switch ev.Action {
	case ActionMessage, ActionDelete, ActionSeen:
		return ev, nil
	default:
		return Event{}, fmt.Errorf("unknown action %q", ev.Action)
	}
}

// Message converts a message-action event into the stored message shape.
func (ev Event) Message() Message {
	return Message{
		ID:             ev.ID,
		Content:        ev.Content,
		SenderID:       ev.SenderID,
		ReplyToID:      ev.ReplyToID,
		ReplyToContent: ev.ReplyToContent,
		CreatedAt:      ev.CreatedAt,
		Seen:           ev.Seen,
		SeenTimestamp:  ev.SeenTimestamp,
	}
}

// SendFrame builds the outbound frame for a locally constructed message.
func SendFrame(m Message) Event {
	return Event{
		Action:         ActionMessage,
		ID:             m.ID,
		Content:        m.Content,
		SenderID:       m.SenderID,
		ReplyToID:      m.ReplyToID,
		ReplyToContent: m.ReplyToContent,
		CreatedAt:      m.CreatedAt,
		Seen:           m.Seen,
		SeenTimestamp:  m.SeenTimestamp,
	}
}
