// event_repository.go implements EventRepository: owner CRUD for events, admin moderation
// and the public listing of approved upcoming events.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/jmoiron/sqlx"
)

const eventColumns = `id, profile_id, title, description, starts_at, ends_at, venue, city, poster_path,
		       status, moderation_note, reviewed_by, reviewed_at, created_at, updated_at`

// EventRepository handles event database operations
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event in pending status
func (r *EventRepository) Create(ctx context.Context, e *models.Event) error {
	query := `
		INSERT INTO events (profile_id, title, description, starts_at, ends_at, venue, city, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING id, status, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		e.ProfileID, e.Title, e.Description, e.StartsAt, e.EndsAt, e.Venue, e.City,
	).Scan(&e.ID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// GetByID retrieves an event
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	err := r.db.GetContext(ctx, &e, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &e, nil
}

// UpdateContent rewrites an owner's event. Edited events go back to moderation.
func (r *EventRepository) UpdateContent(ctx context.Context, e *models.Event) error {
	query := `
		UPDATE events SET
			title = $3, description = $4, starts_at = $5, ends_at = $6, venue = $7, city = $8,
			status = 'pending', moderation_note = NULL, reviewed_by = NULL, reviewed_at = NULL,
			updated_at = now()
		WHERE id = $1 AND profile_id = $2
		RETURNING ` + eventColumns
	err := r.db.GetContext(ctx, e, query,
		e.ID, e.ProfileID, e.Title, e.Description, e.StartsAt, e.EndsAt, e.Venue, e.City)
	if err == sql.ErrNoRows {
		return sql.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

// SetStatus records a moderation decision for an event still in status from. When
// the event has moved on (or is gone), domain.ErrConflict is returned and nothing changes.
func (r *EventRepository) SetStatus(ctx context.Context, id, from, to string, note *string, reviewerID string) (*models.Event, error) {
	query := `
		UPDATE events SET status = $2, moderation_note = $3, reviewed_by = $4, reviewed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $5
		RETURNING ` + eventColumns
	var e models.Event
	err := r.db.GetContext(ctx, &e, query, id, to, note, reviewerID, from)
	if err == sql.ErrNoRows {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set event status: %w", err)
	}
	return &e, nil
}

// SetPoster replaces the poster path and returns the previous one
func (r *EventRepository) SetPoster(ctx context.Context, id string, path *string) (*string, error) {
	query := `
		WITH old AS (SELECT poster_path FROM events WHERE id = $1 FOR UPDATE)
		UPDATE events SET poster_path = $2, updated_at = now()
		WHERE id = $1
		RETURNING (SELECT poster_path FROM old)
	`
	var previous *string
	err := r.db.QueryRowxContext(ctx, query, id, path).Scan(&previous)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set poster: %w", err)
	}
	return previous, nil
}

// ListApprovedUpcoming is the public listing: approved events that have not started yet
func (r *EventRepository) ListApprovedUpcoming(ctx context.Context, city string, limit, offset int) ([]models.Event, error) {
	limit, offset = clampPage(limit, offset)
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE status = 'approved' AND starts_at >= now() AND ($1 = '' OR city = $1)
		ORDER BY starts_at ASC
		LIMIT $2 OFFSET $3`
	events := make([]models.Event, 0)
	if err := r.db.SelectContext(ctx, &events, query, city, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list approved events: %w", err)
	}
	return events, nil
}

// ListByStatus returns one moderation tab and its total size
func (r *EventRepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Event, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM events WHERE status = $1`, status); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	limit, offset = clampPage(limit, offset)
	query := `SELECT ` + eventColumns + ` FROM events WHERE status = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`
	events := make([]models.Event, 0)
	if err := r.db.SelectContext(ctx, &events, query, status, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	return events, total, nil
}

// ListByProfile returns every event owned by a profile
func (r *EventRepository) ListByProfile(ctx context.Context, profileID string) ([]models.Event, error) {
	events := make([]models.Event, 0)
	err := r.db.SelectContext(ctx, &events,
		`SELECT `+eventColumns+` FROM events WHERE profile_id = $1 ORDER BY starts_at DESC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profile events: %w", err)
	}
	return events, nil
}

// Delete removes an event and returns it so the poster can be cleaned up
func (r *EventRepository) Delete(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	err := r.db.GetContext(ctx, &e, `DELETE FROM events WHERE id = $1 RETURNING `+eventColumns, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete event: %w", err)
	}
	return &e, nil
}

// PosterKeys returns the poster object keys of a profile's events
func (r *EventRepository) PosterKeys(ctx context.Context, q DBTX, profileID string) ([]string, error) {
	keys := make([]string, 0)
	err := q.SelectContext(ctx, &keys,
		`SELECT poster_path FROM events WHERE profile_id = $1 AND poster_path IS NOT NULL`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect poster keys: %w", err)
	}
	return keys, nil
}

// DeleteForProfile removes every event owned by a profile
func (r *EventRepository) DeleteForProfile(ctx context.Context, q DBTX, profileID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM events WHERE profile_id = $1`, profileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete profile events: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of events per status
func (r *EventRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	counts, err := countRows(ctx, r.db, `SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	return counts, nil
}
