// membership_repository.go implements MembershipRepository over band_members and
// school_teachers. One repository instance serves one membership.Kind; every status
// change is a compare-and-swap on the row's current status.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/membership"
	"github.com/jmoiron/sqlx"
)

// Membership list directions
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
	DirectionAll      = "all"
)

// MembershipRepository handles one membership table
type MembershipRepository struct {
	db   *sqlx.DB
	kind membership.Kind
}

// NewMembershipRepository creates a repository for the given kind
func NewMembershipRepository(db *sqlx.DB, kind membership.Kind) *MembershipRepository {
	return &MembershipRepository{db: db, kind: kind}
}

// Kind returns the relationship kind this repository serves
func (r *MembershipRepository) Kind() membership.Kind {
	return r.kind
}

// columns selects a row using the generic organization/individual names
func (r *MembershipRepository) columns(prefix string) string {
	return fmt.Sprintf(
		"%[1]sid, %[1]s%[2]s AS organization_id, %[1]s%[3]s AS individual_id, %[1]sstatus, %[1]srole, %[1]srejected_by, %[1]screated_at, %[1]supdated_at",
		prefix, r.kind.OrgColumn, r.kind.IndividualColumn)
}

// Create inserts a new row in the given opening status unless an active row already
// exists for the pair. The partial unique index makes the check and the insert one
// atomic statement; a conflicting row yields domain.ErrDuplicateMembership.
func (r *MembershipRepository) Create(ctx context.Context, orgID, individualID, role string, status membership.Status) (*models.Membership, error) {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, %[3]s, status, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (%[2]s, %[3]s) WHERE status IN ('pending', 'requested', 'accepted', 'rejected')
		DO NOTHING
		RETURNING %[4]s
	`, r.kind.Table, r.kind.OrgColumn, r.kind.IndividualColumn, r.columns(""))

	var m models.Membership
	err := r.db.GetContext(ctx, &m, query, orgID, individualID, string(status), r.kind.RoleOrDefault(role))
	if err == sql.ErrNoRows {
		return nil, domain.ErrDuplicateMembership
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s membership: %w", r.kind.Name, err)
	}
	return &m, nil
}

// GetByID retrieves a row by id
func (r *MembershipRepository) GetByID(ctx context.Context, id string) (*models.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, r.columns(""), r.kind.Table)

	var m models.Membership
	err := r.db.GetContext(ctx, &m, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s membership: %w", r.kind.Name, err)
	}
	return &m, nil
}

// TransitionStatus moves a row from one status to another. rejectedBy is written as
// given, so callers pass nil to clear it. When the row is no longer in status from,
// domain.ErrConflict is returned and nothing changes.
func (r *MembershipRepository) TransitionStatus(ctx context.Context, id string, from, to membership.Status, rejectedBy *string) (*models.Membership, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $3, rejected_by = $4, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING %s
	`, r.kind.Table, r.columns(""))

	var m models.Membership
	err := r.db.GetContext(ctx, &m, query, id, string(from), string(to), rejectedBy)
	if err == sql.ErrNoRows {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s membership: %w", r.kind.Name, err)
	}
	return &m, nil
}

// DeleteIfStatus hard-deletes a row that is still in status from
func (r *MembershipRepository) DeleteIfStatus(ctx context.Context, id string, from membership.Status) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status = $2`, r.kind.Table)
	res, err := r.db.ExecContext(ctx, query, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to delete %s membership: %w", r.kind.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

// List returns rows where the filter's profile sits on the filter's side, joined with
// both profiles. Incoming rows are those waiting on the caller; outgoing rows are
// those the caller opened.
func (r *MembershipRepository) List(ctx context.Context, f models.MembershipFilter) ([]models.MembershipView, error) {
	sideColumn := r.kind.IndividualColumn
	if f.Side == membership.SideOrganization {
		sideColumn = r.kind.OrgColumn
	}

	where := []string{"m." + sideColumn + " = $1"}
	args := []interface{}{f.ProfileID}

	switch f.Direction {
	case DirectionIncoming:
		args = append(args, string(membership.OpeningStatus(f.Side.Other())))
		where = append(where, fmt.Sprintf("m.status = $%d", len(args)))
	case DirectionOutgoing:
		args = append(args, string(membership.OpeningStatus(f.Side)))
		where = append(where, fmt.Sprintf("m.status = $%d", len(args)))
	case DirectionAll, "":
	default:
		return nil, fmt.Errorf("unknown direction %q: %w", f.Direction, domain.Invalid("direction", "جهت فهرست باید incoming، outgoing یا all باشد."))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("m.status = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s,
		       o.display_name AS organization_name, o.avatar_path AS organization_avatar,
		       i.display_name AS individual_name, i.avatar_path AS individual_avatar
		FROM %s m
		JOIN profiles o ON o.id = m.%s
		JOIN profiles i ON i.id = m.%s
		WHERE %s
		ORDER BY m.updated_at DESC
	`, r.columns("m."), r.kind.Table, r.kind.OrgColumn, r.kind.IndividualColumn, strings.Join(where, " AND "))

	views := make([]models.MembershipView, 0)
	if err := r.db.SelectContext(ctx, &views, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list %s memberships: %w", r.kind.Name, err)
	}
	return views, nil
}

// DeleteForProfile removes every row where the profile sits on either side
func (r *MembershipRepository) DeleteForProfile(ctx context.Context, q DBTX, profileID string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 OR %s = $1`, r.kind.Table, r.kind.OrgColumn, r.kind.IndividualColumn)
	res, err := q.ExecContext(ctx, query, profileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s memberships: %w", r.kind.Name, err)
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of rows per status
func (r *MembershipRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	counts, err := countRows(ctx, r.db, fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, r.kind.Table))
	if err != nil {
		return nil, fmt.Errorf("failed to count %s memberships: %w", r.kind.Name, err)
	}
	return counts, nil
}
