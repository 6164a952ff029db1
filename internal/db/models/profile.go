// Package models - profile.go defines the Profile model for people, bands, schools and
// venues, together with its instrument and gallery rows.
package models

import (
	"slices"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Profile is the public face of an account
type Profile struct {
	ID          string         `db:"id" json:"id"`
	DisplayName string         `db:"display_name" json:"display_name"`
	Category    string         `db:"category" json:"category"` // person, band, place, crew
	Roles       pq.StringArray `db:"roles" json:"roles"`
	Bio         string         `db:"bio" json:"bio"`
	City        string         `db:"city" json:"city"`
	AvatarPath  *string        `db:"avatar_path" json:"avatar_path,omitempty"`
	IsComplete  bool           `db:"is_complete" json:"is_complete"`
	IsAdmin     bool           `db:"is_admin" json:"is_admin"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// ComputeComplete reports whether the profile carries everything needed to appear in search
func (p *Profile) ComputeComplete() bool {
	return strings.TrimSpace(p.DisplayName) != "" &&
		p.Category != "" &&
		strings.TrimSpace(p.City) != "" &&
		len(p.Roles) > 0
}

// HasRole reports whether the profile lists the given role
func (p *Profile) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// ProfileInstrument is an instrument a person plays
type ProfileInstrument struct {
	ID         string `db:"id" json:"id"`
	ProfileID  string `db:"profile_id" json:"profile_id"`
	Instrument string `db:"instrument" json:"instrument"`
	SkillLevel string `db:"skill_level" json:"skill_level"`
}

// GalleryItem is one uploaded gallery image
type GalleryItem struct {
	ID         string    `db:"id" json:"id"`
	ProfileID  string    `db:"profile_id" json:"profile_id"`
	StorageKey string    `db:"storage_key" json:"storage_key"`
	Caption    string    `db:"caption" json:"caption"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ProfileFilter narrows a profile search
type ProfileFilter struct {
	Category string
	Role     string
	City     string
	Query    string
	Limit    int
	Offset   int
}
