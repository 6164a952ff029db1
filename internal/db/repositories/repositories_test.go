package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

var errDB = errors.New("db error")

func strPtr(s string) *string { return &s }

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

// ---------------------------------------------------------------------------
// clampPage
// ---------------------------------------------------------------------------

func TestClampPage(t *testing.T) {
	tests := []struct {
		name                  string
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{"defaults", 0, 0, defaultPageSize, 0},
		{"negative", -5, -1, defaultPageSize, 0},
		{"capped", 1000, 40, maxPageSize, 40},
		{"passthrough", 10, 30, 10, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, o := clampPage(tt.limit, tt.offset)
			if l != tt.wantLimit || o != tt.wantOffset {
				t.Errorf("clampPage(%d, %d) = (%d, %d), want (%d, %d)",
					tt.limit, tt.offset, l, o, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// countRows
// ---------------------------------------------------------------------------

func TestCountRows(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("approved", 7))

	counts, err := countRows(context.Background(), db, "SELECT status, COUNT(*) FROM events GROUP BY status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts["pending"] != 3 || counts["approved"] != 7 {
		t.Errorf("counts = %v", counts)
	}
}

func TestCountRows_Error(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT status, COUNT").WillReturnError(errDB)

	if _, err := countRows(context.Background(), db, "SELECT status, COUNT(*) FROM events GROUP BY status"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestNotFoundAs(t *testing.T) {
	notFound := errors.New("thing not found")
	if got := NotFoundAs(sql.ErrNoRows, notFound); got != notFound {
		t.Errorf("NotFoundAs(ErrNoRows) = %v", got)
	}
	if got := NotFoundAs(errDB, notFound); got != errDB {
		t.Errorf("NotFoundAs(errDB) = %v", got)
	}
	if got := NotFoundAs(nil, notFound); got != nil {
		t.Errorf("NotFoundAs(nil) = %v", got)
	}
}
