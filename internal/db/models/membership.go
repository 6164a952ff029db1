// Package models - membership.go defines the row shape shared by band_members and
// school_teachers, plus the listing view joined with both profiles.
package models

import (
	"time"

	"github.com/bandyab/bandyab/internal/membership"
)

// Membership links an organization profile to an individual profile
type Membership struct {
	ID             string            `db:"id" json:"id"`
	OrganizationID string            `db:"organization_id" json:"organization_id"`
	IndividualID   string            `db:"individual_id" json:"individual_id"`
	Status         membership.Status `db:"status" json:"status"`
	Role           string            `db:"role" json:"role"`
	RejectedBy     *string           `db:"rejected_by" json:"rejected_by,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

// SideOf returns the side the given profile occupies on this row
func (m *Membership) SideOf(profileID string) (membership.Side, bool) {
	switch profileID {
	case m.OrganizationID:
		return membership.SideOrganization, true
	case m.IndividualID:
		return membership.SideIndividual, true
	}
	return "", false
}

// ProfileIDFor returns the profile id sitting on the given side
func (m *Membership) ProfileIDFor(side membership.Side) string {
	if side == membership.SideOrganization {
		return m.OrganizationID
	}
	return m.IndividualID
}

// MembershipView is a membership row with both profiles' display data
type MembershipView struct {
	Membership
	OrganizationName   string  `db:"organization_name" json:"organization_name"`
	OrganizationAvatar *string `db:"organization_avatar" json:"organization_avatar,omitempty"`
	IndividualName     string  `db:"individual_name" json:"individual_name"`
	IndividualAvatar   *string `db:"individual_avatar" json:"individual_avatar,omitempty"`
}

// MembershipFilter selects rows for a listing
type MembershipFilter struct {
	ProfileID string
	Side      membership.Side
	// Direction is incoming, outgoing or all
	Direction string
	Status    *membership.Status
}
