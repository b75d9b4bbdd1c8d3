package models

import "time"

// LastMessage is the denormalized inbox preview of a chat's newest message.
type LastMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	SentBy    string    `json:"sent_by"`
}

// InboxChat is one entry of the user's inbox as the server reports it.
type InboxChat struct {
	ChatID        string      `json:"chat_id"`
	ParticipantID string      `json:"participant_id"`
	LastMessage   LastMessage `json:"last_message"`
}

// Inbox groups the chats belonging to the authenticated user.
type Inbox struct {
	Chats []InboxChat `json:"chats"`
}

// UserInfo is the authenticated user's profile plus inbox listing.
type UserInfo struct {
	ID           string `json:"_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Description  string `json:"description"`
	ProfileImage string `json:"profile_image"`
	Inbox        Inbox  `json:"inbox"`
}

// Profile is the public slice of another user, as returned by search and
// profile lookups.
type Profile struct {
	ID           string `json:"_id"`
	Username     string `json:"username"`
	Description  string `json:"description"`
	ProfileImage string `json:"profile_image"`
}
