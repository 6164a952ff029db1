// Package models - event.go defines the Event model and its moderation statuses.
package models

import "time"

// Event moderation statuses
const (
	EventStatusPending  = "pending"
	EventStatusApproved = "approved"
	EventStatusRejected = "rejected"
)

// ValidEventStatus reports whether s is a known event status
func ValidEventStatus(s string) bool {
	return s == EventStatusPending || s == EventStatusApproved || s == EventStatusRejected
}

// Event is a concert, workshop or jam session listed by a profile
type Event struct {
	ID             string     `db:"id" json:"id"`
	ProfileID      string     `db:"profile_id" json:"profile_id"`
	Title          string     `db:"title" json:"title"`
	Description    string     `db:"description" json:"description"`
	StartsAt       time.Time  `db:"starts_at" json:"starts_at"`
	EndsAt         *time.Time `db:"ends_at" json:"ends_at,omitempty"`
	Venue          string     `db:"venue" json:"venue"`
	City           string     `db:"city" json:"city"`
	PosterPath     *string    `db:"poster_path" json:"poster_path,omitempty"`
	Status         string     `db:"status" json:"status"`
	ModerationNote *string    `db:"moderation_note" json:"moderation_note,omitempty"`
	ReviewedBy     *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
