package models

import "time"

// Message is a single chat message as it travels over the wire and lives in the
// message store. The id is generated on the sending client (timestamp prefix +
// random suffix) so an optimistic append sorts correctly before the server has
// ever seen the message.
//
// Messages are immutable once stored, with two exceptions: Seen/SeenTimestamp
// may be set once (never unset), and the reply reference fields are cleared when
// the message they point at is deleted.
type Message struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	SenderID       string     `json:"sender_id"`
	ReplyToID      string     `json:"reply_to_id,omitempty"`
	ReplyToContent string     `json:"reply_to_content,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Seen           bool       `json:"seen"`
	SeenTimestamp  *time.Time `json:"seen_timestamp"`
}

// RepliesTo reports whether the message carries a reply reference to messageID.
func (m Message) RepliesTo(messageID string) bool {
	return m.ReplyToID != "" && m.ReplyToID == messageID
}

// ClearReplyRef drops the reply reference. Called when the replied-to message
// has been deleted; the reference is never re-pointed.
func (m *Message) ClearReplyRef() {
	m.ReplyToID = ""
	m.ReplyToContent = ""
}

// SelectedChat identifies the currently open conversation. The zero value means
// no chat is open.
type SelectedChat struct {
	ChatID        string `json:"chat_id"`
	ParticipantID string `json:"participant_id"`
}

// IsZero reports whether no chat is selected.
func (s SelectedChat) IsZero() bool { return s.ChatID == "" }

// ReplyDraft is the transient reply-in-progress state. It is cleared on send or
// explicit cancel and never persisted.
type ReplyDraft struct {
	Open      bool   `json:"open"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	SenderID  string `json:"sender_id"`
}
