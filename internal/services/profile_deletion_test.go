package services

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandyab/bandyab/internal/db"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/membership"
	"github.com/bandyab/bandyab/internal/storage/storagetest"
	"github.com/bandyab/bandyab/internal/telemetry"
)

func newDeletionService(t *testing.T) (*ProfileDeletionService, sqlmock.Sqlmock, *storagetest.Memory, *recordingNotifier) {
	t.Helper()
	sqlDB, mock := newMockDB(t)
	store := storagetest.NewMemory()
	n := &recordingNotifier{}
	svc := NewProfileDeletionService(ProfileDeletionDeps{
		Tx:       db.NewTxManager(sqlDB),
		Accounts: repositories.NewAccountRepository(sqlDB),
		Profiles: repositories.NewProfileRepository(sqlDB),
		Bands:    repositories.NewMembershipRepository(sqlDB, membership.Band),
		Schools:  repositories.NewMembershipRepository(sqlDB, membership.School),
		Events:   repositories.NewEventRepository(sqlDB),
		Messages: repositories.NewMessageRepository(sqlDB),
		Blog:     repositories.NewBlogRepository(sqlDB),
		Storage:  store,
		Notifier: n,
	})
	return svc, mock, store, n
}

// expectDeletion queues the statements of one deletion in order. accounts is the
// row count returned by the final account delete.
func expectDeletion(mock sqlmock.Sqlmock, id string, accounts int64) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT avatar_path FROM profiles.*UNION ALL.*profile_gallery").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"avatar_path"}).
			AddRow("avatars/" + id + "/a.png").
			AddRow("gallery/" + id + "/g.jpg"))
	mock.ExpectQuery("SELECT poster_path FROM events").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"poster_path"}).AddRow("posters/legacy/p.png"))

	mock.ExpectExec("DELETE FROM profile_instruments").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM profile_gallery").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM band_members").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM school_teachers").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM events").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM user_replies").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE contact_messages SET profile_id = NULL").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE blog_posts SET author_id = NULL").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM profiles").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM accounts").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, accounts))
}

func TestDelete_Self(t *testing.T) {
	svc, mock, store, n := newDeletionService(t)
	store.Put("avatars/p-1/a.png", []byte("a"))
	store.Put("gallery/p-1/g.jpg", []byte("g"))
	store.Put("gallery/p-1/orphan.jpg", []byte("o"))
	store.Put("posters/p-1/e.png", []byte("e"))
	store.Put("posters/legacy/p.png", []byte("p"))
	store.Put("avatars/p-2/keep.png", []byte("k"))

	expectDeletion(mock, "p-1", 1)
	mock.ExpectCommit()

	before := testutil.ToFloat64(telemetry.ProfileDeletionsTotal.WithLabelValues("self", "ok"))

	report, err := svc.Delete(context.Background(), Actor{ProfileID: "p-1"}, "p-1")
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.Rows["profile_instruments"])
	assert.Equal(t, int64(1), report.Rows["accounts"])
	assert.Equal(t, 5, report.StorageRemoved)
	assert.Empty(t, report.StorageFailures)
	assert.Equal(t, []string{"avatars/p-2/keep.png"}, store.Keys())

	assert.Equal(t, 1, n.count())
	assert.Contains(t, n.calls[0].topics, "admin")
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.ProfileDeletionsTotal.WithLabelValues("self", "ok")))
}

func TestDelete_AdminDeletesOther(t *testing.T) {
	svc, mock, _, _ := newDeletionService(t)
	expectDeletion(mock, "p-1", 1)
	mock.ExpectCommit()

	before := testutil.ToFloat64(telemetry.ProfileDeletionsTotal.WithLabelValues("admin", "ok"))
	_, err := svc.Delete(context.Background(), Actor{ProfileID: "admin-1", Admin: true}, "p-1")
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.ProfileDeletionsTotal.WithLabelValues("admin", "ok")))
}

func TestDelete_Forbidden(t *testing.T) {
	svc, _, _, _ := newDeletionService(t)
	_, err := svc.Delete(context.Background(), Actor{ProfileID: "p-2"}, "p-1")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestDelete_MissingAccountRollsBack(t *testing.T) {
	svc, mock, store, n := newDeletionService(t)
	store.Put("avatars/p-1/a.png", []byte("a"))

	expectDeletion(mock, "p-1", 0)
	mock.ExpectRollback()

	_, err := svc.Delete(context.Background(), Actor{ProfileID: "p-1"}, "p-1")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.Len(t, store.Keys(), 1, "storage must be untouched when the transaction rolls back")
	assert.Equal(t, 0, n.count())
}

func TestDelete_StepFailureRollsBack(t *testing.T) {
	svc, mock, _, _ := newDeletionService(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT avatar_path FROM profiles").WillReturnRows(sqlmock.NewRows([]string{"avatar_path"}))
	mock.ExpectQuery("SELECT poster_path FROM events").WillReturnRows(sqlmock.NewRows([]string{"poster_path"}))
	mock.ExpectExec("DELETE FROM profile_instruments").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	before := testutil.ToFloat64(telemetry.ProfileDeletionsTotal.WithLabelValues("self", "error"))
	_, err := svc.Delete(context.Background(), Actor{ProfileID: "p-1"}, "p-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile_instruments")
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.ProfileDeletionsTotal.WithLabelValues("self", "error")))
}

func TestDelete_StorageFailuresAreReported(t *testing.T) {
	svc, mock, store, _ := newDeletionService(t)
	store.FailPrefixes["gallery/p-1/"] = true
	store.FailKeys["posters/legacy/p.png"] = true

	expectDeletion(mock, "p-1", 1)
	mock.ExpectCommit()

	report, err := svc.Delete(context.Background(), Actor{ProfileID: "p-1"}, "p-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gallery/p-1/", "posters/legacy/p.png"}, report.StorageFailures)
}
