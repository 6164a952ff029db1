package services

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/membership"
	"github.com/bandyab/bandyab/internal/telemetry"
)

func newMembershipService(t *testing.T, kind membership.Kind) (*MembershipService, sqlmock.Sqlmock, *recordingNotifier) {
	t.Helper()
	db, mock := newMockDB(t)
	n := &recordingNotifier{}
	svc := NewMembershipService(
		repositories.NewMembershipRepository(db, kind),
		repositories.NewProfileRepository(db),
		n,
	)
	return svc, mock, n
}

func expectProfile(mock sqlmock.Sqlmock, id, category, roles string) {
	mock.ExpectQuery("SELECT .* FROM profiles WHERE id").
		WithArgs(id).
		WillReturnRows(profileRow(id, category, roles))
}

// ---------------------------------------------------------------------------
// Invite / Request
// ---------------------------------------------------------------------------

func TestInvite_CreatesPendingRow(t *testing.T) {
	svc, mock, n := newMembershipService(t, membership.Band)
	expectProfile(mock, "band-1", "band", "{band}")
	expectProfile(mock, "person-1", "person", "{drummer}")
	mock.ExpectQuery("INSERT INTO band_members").
		WithArgs("band-1", "person-1", "pending", "drummer").
		WillReturnRows(membershipRow("m-1", "band-1", "person-1", "pending", nil))

	before := testutil.ToFloat64(telemetry.MembershipTransitionsTotal.WithLabelValues("band", "invite", "ok"))

	row, err := svc.Invite(context.Background(), Actor{ProfileID: "band-1"}, "band-1", "person-1", " drummer ")
	require.NoError(t, err)
	assert.Equal(t, membership.StatusPending, row.Status)
	assert.Equal(t, 1, n.count())
	assert.Equal(t, []string{"profile:band-1", "profile:person-1"}, n.calls[0].topics)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.MembershipTransitionsTotal.WithLabelValues("band", "invite", "ok")))
}

func TestRequest_CreatesRequestedRow(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.School)
	expectProfile(mock, "school-1", "place", "{school}")
	expectProfile(mock, "person-1", "person", "{teacher}")
	mock.ExpectQuery("INSERT INTO school_teachers").
		WithArgs("school-1", "person-1", "requested", "teacher").
		WillReturnRows(membershipRow("m-1", "school-1", "person-1", "requested", nil))

	row, err := svc.Request(context.Background(), Actor{ProfileID: "person-1"}, "school-1", "person-1", "")
	require.NoError(t, err)
	assert.Equal(t, membership.StatusRequested, row.Status)
}

func TestInvite_OnlyOrganizationOwnerOrAdmin(t *testing.T) {
	svc, _, _ := newMembershipService(t, membership.Band)
	_, err := svc.Invite(context.Background(), Actor{ProfileID: "person-1"}, "band-1", "person-1", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestInvite_AdminMayActForOrganization(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.Band)
	expectProfile(mock, "band-1", "band", "{band}")
	expectProfile(mock, "person-1", "person", "{singer}")
	mock.ExpectQuery("INSERT INTO band_members").
		WillReturnRows(membershipRow("m-1", "band-1", "person-1", "pending", nil))

	_, err := svc.Invite(context.Background(), Actor{ProfileID: "admin-1", Admin: true}, "band-1", "person-1", "")
	require.NoError(t, err)
}

func TestOpen_Validation(t *testing.T) {
	svc, _, _ := newMembershipService(t, membership.Band)
	ctx := context.Background()
	long := make([]byte, maxRoleLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name  string
		org   string
		ind   string
		role  string
		field string
	}{
		{"missing org", "", "person-1", "", "profile"},
		{"self join", "p-1", "p-1", "", "profile"},
		{"role too long", "band-1", "person-1", string(long), "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Invite(ctx, Actor{ProfileID: tt.org, Admin: true}, tt.org, tt.ind, tt.role)
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve), "err = %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestInvite_WrongCategory(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.School)
	// A place without the school role cannot take teachers.
	expectProfile(mock, "venue-1", "place", "{venue}")
	expectProfile(mock, "person-1", "person", "{teacher}")

	_, err := svc.Invite(context.Background(), Actor{ProfileID: "venue-1"}, "venue-1", "person-1", "")
	assert.ErrorIs(t, err, domain.ErrWrongCategory)
}

func TestInvite_MissingProfile(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.Band)
	expectProfile(mock, "band-1", "band", "{band}")
	mock.ExpectQuery("SELECT .* FROM profiles WHERE id").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(profileCols))

	_, err := svc.Invite(context.Background(), Actor{ProfileID: "band-1"}, "band-1", "ghost", "")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}

func TestInvite_Duplicate(t *testing.T) {
	svc, mock, n := newMembershipService(t, membership.Band)
	expectProfile(mock, "band-1", "band", "{band}")
	expectProfile(mock, "person-1", "person", "{bassist}")
	mock.ExpectQuery("INSERT INTO band_members").
		WillReturnRows(sqlmock.NewRows(membershipCols))

	_, err := svc.Invite(context.Background(), Actor{ProfileID: "band-1"}, "band-1", "person-1", "")
	assert.ErrorIs(t, err, domain.ErrDuplicateMembership)
	assert.Equal(t, 0, n.count())
}

// ---------------------------------------------------------------------------
// Act
// ---------------------------------------------------------------------------

func expectRow(mock sqlmock.Sqlmock, table, status string) {
	mock.ExpectQuery("SELECT .* FROM " + table + " WHERE id").
		WithArgs("m-1").
		WillReturnRows(membershipRow("m-1", "org-1", "person-1", status, nil))
}

func TestAct_IndividualAcceptsInvitation(t *testing.T) {
	svc, mock, n := newMembershipService(t, membership.Band)
	expectRow(mock, "band_members", "pending")
	mock.ExpectQuery("UPDATE band_members SET status").
		WithArgs("m-1", "pending", "accepted", nil).
		WillReturnRows(membershipRow("m-1", "org-1", "person-1", "accepted", nil))

	res, err := svc.Act(context.Background(), Actor{ProfileID: "person-1"}, "m-1", membership.ActionAccept, "")
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	assert.Equal(t, membership.StatusAccepted, res.Membership.Status)
	assert.Equal(t, 1, n.count())
}

func TestAct_RejectStampsRejectedBy(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.School)
	expectRow(mock, "school_teachers", "requested")
	mock.ExpectQuery("UPDATE school_teachers SET status").
		WithArgs("m-1", "requested", "rejected", "org-1").
		WillReturnRows(membershipRow("m-1", "org-1", "person-1", "rejected", "org-1"))

	res, err := svc.Act(context.Background(), Actor{ProfileID: "org-1"}, "m-1", membership.ActionReject, "")
	require.NoError(t, err)
	require.NotNil(t, res.Membership.RejectedBy)
	assert.Equal(t, "org-1", *res.Membership.RejectedBy)
}

func TestAct_InitiatorCancelDeletes(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.Band)
	expectRow(mock, "band_members", "pending")
	mock.ExpectExec("DELETE FROM band_members WHERE id").
		WithArgs("m-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Act(context.Background(), Actor{ProfileID: "org-1"}, "m-1", membership.ActionCancel, "")
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.Nil(t, res.Membership)
	assert.Equal(t, "m-1", res.ID)
}

func TestAct_AcceptingOwnInvitationIsInvalid(t *testing.T) {
	svc, mock, n := newMembershipService(t, membership.Band)
	expectRow(mock, "band_members", "pending")

	_, err := svc.Act(context.Background(), Actor{ProfileID: "org-1"}, "m-1", membership.ActionAccept, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 0, n.count())
}

func TestAct_AcceptOnAcceptedIsNoop(t *testing.T) {
	svc, mock, n := newMembershipService(t, membership.Band)
	expectRow(mock, "band_members", "accepted")

	res, err := svc.Act(context.Background(), Actor{ProfileID: "person-1"}, "m-1", membership.ActionAccept, "")
	require.NoError(t, err)
	assert.Equal(t, membership.StatusAccepted, res.Membership.Status)
	assert.Equal(t, 0, n.count())
}

func TestAct_ConcurrentChangeConflicts(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.Band)
	expectRow(mock, "band_members", "accepted")
	mock.ExpectQuery("UPDATE band_members SET status").
		WillReturnRows(sqlmock.NewRows(membershipCols))

	_, err := svc.Act(context.Background(), Actor{ProfileID: "person-1"}, "m-1", membership.ActionLeave, "")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestAct_Outsider(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.Band)
	expectRow(mock, "band_members", "pending")

	_, err := svc.Act(context.Background(), Actor{ProfileID: "stranger"}, "m-1", membership.ActionAccept, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAct_AdminMustChooseSide(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.Band)
	expectRow(mock, "band_members", "accepted")

	_, err := svc.Act(context.Background(), Actor{ProfileID: "admin-1", Admin: true}, "m-1", membership.ActionRemove, "")
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "as", ve.Field)
}

func TestAct_AdminActsAsOrganization(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.Band)
	expectRow(mock, "band_members", "accepted")
	mock.ExpectQuery("UPDATE band_members SET status").
		WithArgs("m-1", "accepted", "left", nil).
		WillReturnRows(membershipRow("m-1", "org-1", "person-1", "left", nil))

	res, err := svc.Act(context.Background(), Actor{ProfileID: "admin-1", Admin: true}, "m-1", membership.ActionRemove, membership.SideOrganization)
	require.NoError(t, err)
	assert.Equal(t, membership.StatusLeft, res.Membership.Status)
}

func TestAct_NotFound(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.Band)
	mock.ExpectQuery("SELECT .* FROM band_members WHERE id").
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows(membershipCols))

	_, err := svc.Act(context.Background(), Actor{ProfileID: "person-1"}, "m-1", membership.ActionAccept, "")
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestList_SideFollowsCategory(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.Band)
	expectProfile(mock, "band-1", "band", "{band}")
	mock.ExpectQuery("FROM band_members m.*WHERE m.band_id = \\$1 AND m.status = \\$2").
		WithArgs("band-1", "requested").
		WillReturnRows(sqlmock.NewRows(append(membershipCols,
			"organization_name", "organization_avatar", "individual_name", "individual_avatar")))

	views, err := svc.List(context.Background(), Actor{ProfileID: "band-1"}, "band-1", repositories.DirectionIncoming, nil)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestList_Forbidden(t *testing.T) {
	svc, _, _ := newMembershipService(t, membership.Band)
	_, err := svc.List(context.Background(), Actor{ProfileID: "other"}, "band-1", "", nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestList_WrongCategory(t *testing.T) {
	svc, mock, _ := newMembershipService(t, membership.Band)
	expectProfile(mock, "crew-1", "crew", "{sound}")

	_, err := svc.List(context.Background(), Actor{ProfileID: "crew-1"}, "crew-1", "", nil)
	assert.ErrorIs(t, err, domain.ErrWrongCategory)
}
