// Package models - message.go defines contact messages and the two reply threads.
package models

import "time"

// Contact message statuses
const (
	MessageStatusNew      = "new"
	MessageStatusRead     = "read"
	MessageStatusAnswered = "answered"
	MessageStatusClosed   = "closed"
)

// ValidMessageStatus reports whether s is a known message status
func ValidMessageStatus(s string) bool {
	switch s {
	case MessageStatusNew, MessageStatusRead, MessageStatusAnswered, MessageStatusClosed:
		return true
	}
	return false
}

// ContactMessage is a message sent through the contact form
type ContactMessage struct {
	ID        string    `db:"id" json:"id"`
	ProfileID *string   `db:"profile_id" json:"profile_id,omitempty"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Subject   string    `db:"subject" json:"subject"`
	Body      string    `db:"body" json:"body"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Reply is one entry of a message thread, written by an admin or the sender
type Reply struct {
	ID        string    `db:"id" json:"id"`
	MessageID string    `db:"message_id" json:"message_id"`
	AuthorID  *string   `db:"author_id" json:"author_id,omitempty"`
	Body      string    `db:"body" json:"body"`
	FromAdmin bool      `db:"from_admin" json:"from_admin"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MessageThread is a message with its replies in chronological order
type MessageThread struct {
	ContactMessage
	Replies []Reply `json:"replies"`
}
