package services

import (
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

var profileCols = []string{
	"id", "display_name", "category", "roles", "bio", "city", "avatar_path",
	"is_complete", "is_admin", "created_at", "updated_at",
}

var membershipCols = []string{
	"id", "organization_id", "individual_id", "status", "role", "rejected_by", "created_at", "updated_at",
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		conn.Close()
	})
	return sqlx.NewDb(conn, "sqlmock"), mock
}

func profileRow(id, category, roles string) *sqlmock.Rows {
	return sqlmock.NewRows(profileCols).
		AddRow(id, "name-"+id, category, roles, "", "Tehran", nil, true, false, time.Now(), time.Now())
}

func membershipRow(id, org, ind, status string, rejectedBy interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(membershipCols).
		AddRow(id, org, ind, status, "member", rejectedBy, time.Now(), time.Now())
}

// recordingNotifier captures Refresh calls
type recordingNotifier struct {
	mu    sync.Mutex
	calls []refreshCall
}

type refreshCall struct {
	table  string
	id     string
	topics []string
}

func (n *recordingNotifier) Refresh(table, id string, topics ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, refreshCall{table: table, id: id, topics: topics})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}
