package services

import (
	"context"
	"errors"
	"strings"

	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/membership"
	"github.com/bandyab/bandyab/internal/realtime"
	"github.com/bandyab/bandyab/internal/telemetry"
)

const maxRoleLength = 64

// MembershipService runs the invite/request/respond lifecycle for one relationship kind
type MembershipService struct {
	kind     membership.Kind
	rows     *repositories.MembershipRepository
	profiles *repositories.ProfileRepository
	notifier Notifier
}

// NewMembershipService creates a service for the repository's kind. A nil notifier
// disables realtime refreshes.
func NewMembershipService(rows *repositories.MembershipRepository, profiles *repositories.ProfileRepository, notifier Notifier) *MembershipService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &MembershipService{
		kind:     rows.Kind(),
		rows:     rows,
		profiles: profiles,
		notifier: notifier,
	}
}

// Kind returns the relationship kind served
func (s *MembershipService) Kind() membership.Kind {
	return s.kind
}

// ActionResult is the outcome of an action on an existing row. Membership is nil
// when the row was deleted.
type ActionResult struct {
	Membership *models.Membership `json:"membership,omitempty"`
	Deleted    bool               `json:"deleted"`
	ID         string             `json:"id"`
}

// Invite opens a pending row on behalf of the organization
func (s *MembershipService) Invite(ctx context.Context, actor Actor, orgID, individualID, role string) (*models.Membership, error) {
	return s.open(ctx, actor, membership.SideOrganization, orgID, individualID, role)
}

// Request opens a requested row on behalf of the individual
func (s *MembershipService) Request(ctx context.Context, actor Actor, orgID, individualID, role string) (*models.Membership, error) {
	return s.open(ctx, actor, membership.SideIndividual, orgID, individualID, role)
}

func (s *MembershipService) open(ctx context.Context, actor Actor, side membership.Side, orgID, individualID, role string) (*models.Membership, error) {
	action := "invite"
	owner := orgID
	if side == membership.SideIndividual {
		action = "request"
		owner = individualID
	}

	role = strings.TrimSpace(role)
	if len(role) > maxRoleLength {
		return nil, domain.Invalid("role", "عنوان نقش بیش از حد طولانی است.")
	}
	if orgID == "" || individualID == "" {
		return nil, domain.Invalid("profile", "هر دو پروفایل باید مشخص باشند.")
	}
	if orgID == individualID {
		return nil, domain.Invalid("profile", "یک پروفایل نمی‌تواند به خودش بپیوندد.")
	}
	if actor.ProfileID != owner && !actor.Admin {
		return nil, domain.ErrForbidden
	}

	org, err := s.profiles.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	ind, err := s.profiles.GetByID(ctx, individualID)
	if err != nil {
		return nil, err
	}
	if org == nil || ind == nil {
		return nil, domain.ErrProfileNotFound
	}
	if !s.kind.AcceptsOrganization(org.Category, org.Roles) || !s.kind.AcceptsIndividual(ind.Category) {
		return nil, domain.ErrWrongCategory
	}

	row, err := s.rows.Create(ctx, orgID, individualID, role, membership.OpeningStatus(side))
	s.record(action, err)
	if err != nil {
		return nil, err
	}

	s.notify(row)
	return row, nil
}

// Act applies action to an existing row. The caller's side is the one they occupy on
// the row; an admin who is on neither side acts as the side given in as.
func (s *MembershipService) Act(ctx context.Context, actor Actor, rowID string, action membership.Action, as membership.Side) (*ActionResult, error) {
	row, err := s.rows.GetByID(ctx, rowID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrMembershipNotFound
	}

	side, ok := row.SideOf(actor.ProfileID)
	if !ok {
		if !actor.Admin {
			return nil, domain.ErrForbidden
		}
		if as != membership.SideOrganization && as != membership.SideIndividual {
			return nil, domain.Invalid("as", "مدیر باید طرف اقدام (organization یا individual) را مشخص کند.")
		}
		side = as
	}

	out, err := membership.Next(row.Status, side, action)
	if err != nil {
		s.record(string(action), err)
		return nil, err
	}

	result := &ActionResult{ID: row.ID}
	switch out.Effect {
	case membership.EffectNone:
		result.Membership = row
		s.record(string(action), nil)
		return result, nil

	case membership.EffectUpdate:
		var rejectedBy *string
		if out.StampRejectedBy {
			id := row.ProfileIDFor(side)
			rejectedBy = &id
		}
		updated, err := s.rows.TransitionStatus(ctx, row.ID, row.Status, out.To, rejectedBy)
		s.record(string(action), err)
		if err != nil {
			return nil, err
		}
		result.Membership = updated

	case membership.EffectDelete:
		err := s.rows.DeleteIfStatus(ctx, row.ID, row.Status)
		s.record(string(action), err)
		if err != nil {
			return nil, err
		}
		result.Deleted = true
	}

	s.notify(row)
	return result, nil
}

// List returns the rows of profileID, seen from the side its category puts it on
func (s *MembershipService) List(ctx context.Context, actor Actor, profileID, direction string, status *membership.Status) ([]models.MembershipView, error) {
	if actor.ProfileID != profileID && !actor.Admin {
		return nil, domain.ErrForbidden
	}

	p, err := s.profiles.GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrProfileNotFound
	}

	var side membership.Side
	switch {
	case s.kind.AcceptsOrganization(p.Category, p.Roles):
		side = membership.SideOrganization
	case s.kind.AcceptsIndividual(p.Category):
		side = membership.SideIndividual
	default:
		return nil, domain.ErrWrongCategory
	}

	return s.rows.List(ctx, models.MembershipFilter{
		ProfileID: profileID,
		Side:      side,
		Direction: direction,
		Status:    status,
	})
}

func (s *MembershipService) notify(row *models.Membership) {
	s.notifier.Refresh(s.kind.Table, row.ID,
		realtime.ProfileTopic(row.OrganizationID),
		realtime.ProfileTopic(row.IndividualID))
}

func (s *MembershipService) record(action string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidTransition):
		result = "invalid"
	case errors.Is(err, domain.ErrConflict):
		result = "conflict"
	case errors.Is(err, domain.ErrDuplicateMembership):
		result = "duplicate"
	default:
		result = "error"
	}
	telemetry.MembershipTransitionsTotal.WithLabelValues(s.kind.Name, action, result).Inc()
}
