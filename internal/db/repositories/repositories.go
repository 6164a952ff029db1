// Package repositories implements the data access layer for bandyab.
// Each repository type encapsulates all database queries for one entity; handlers and
// services never issue SQL directly. Methods that take part in a multi-table unit of
// work accept a DBTX so they can run on either the pool or an open transaction.
package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// DBTX is satisfied by both *sqlx.DB and *sqlx.Tx
type DBTX interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// clampPage normalises limit/offset pairs coming from query strings
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// countRows runs a "SELECT status, COUNT(*) ... GROUP BY status" style query
func countRows(ctx context.Context, db DBTX, query string, args ...interface{}) (map[string]int, error) {
	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// NotFoundAs replaces sql.ErrNoRows, returned by the update methods when no row
// matched, with the given domain error
func NotFoundAs(err, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return err
}
