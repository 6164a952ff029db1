// profile_repository.go implements ProfileRepository: profile upsert and search,
// instrument and gallery rows, and the per-table deletes used by profile removal.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const profileColumns = `id, display_name, category, roles, bio, city, avatar_path, is_complete, is_admin, created_at, updated_at`

// ProfileRepository handles profile database operations
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new ProfileRepository
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetByID retrieves a profile by id
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.GetContext(ctx, &p, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// Upsert creates the caller's profile on first save and updates it afterwards.
// is_admin and avatar_path are never written here.
func (r *ProfileRepository) Upsert(ctx context.Context, p *models.Profile) error {
	p.IsComplete = p.ComputeComplete()
	query := `
		INSERT INTO profiles (id, display_name, category, roles, bio, city, is_complete)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			category     = EXCLUDED.category,
			roles        = EXCLUDED.roles,
			bio          = EXCLUDED.bio,
			city         = EXCLUDED.city,
			is_complete  = EXCLUDED.is_complete,
			updated_at   = now()
		RETURNING avatar_path, is_admin, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		p.ID,
		p.DisplayName,
		p.Category,
		pq.Array([]string(p.Roles)),
		p.Bio,
		p.City,
		p.IsComplete,
	).Scan(&p.AvatarPath, &p.IsAdmin, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Search lists complete profiles matching the filter, newest first
func (r *ProfileRepository) Search(ctx context.Context, f models.ProfileFilter) ([]models.Profile, int, error) {
	where := []string{"is_complete = true"}
	args := make([]interface{}, 0)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Role != "" {
		add("$%d = ANY(roles)", f.Role)
	}
	if f.City != "" {
		add("city = $%d", f.City)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		add("(display_name ILIKE $%d OR bio ILIKE $%[1]d)", "%"+q+"%")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM profiles WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count profiles: %w", err)
	}

	limit, offset := clampPage(f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM profiles WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		profileColumns, cond, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	profiles := make([]models.Profile, 0)
	if err := r.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to search profiles: %w", err)
	}
	return profiles, total, nil
}

// SetAvatar replaces the avatar path and returns the previous one
func (r *ProfileRepository) SetAvatar(ctx context.Context, id string, path *string) (*string, error) {
	query := `
		WITH old AS (SELECT avatar_path FROM profiles WHERE id = $1 FOR UPDATE)
		UPDATE profiles SET avatar_path = $2, updated_at = now()
		WHERE id = $1
		RETURNING (SELECT avatar_path FROM old)
	`
	var previous *string
	err := r.db.QueryRowxContext(ctx, query, id, path).Scan(&previous)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set avatar: %w", err)
	}
	return previous, nil
}

// SetAdmin grants or revokes admin rights
func (r *ProfileRepository) SetAdmin(ctx context.Context, id string, admin bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE profiles SET is_admin = $2, updated_at = now() WHERE id = $1`, id, admin)
	if err != nil {
		return fmt.Errorf("failed to set admin flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AdminIDs returns the ids of every admin profile
func (r *ProfileRepository) AdminIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM profiles WHERE is_admin = true`); err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	return ids, nil
}

// CountByCategory returns the number of profiles per category
func (r *ProfileRepository) CountByCategory(ctx context.Context) (map[string]int, error) {
	counts, err := countRows(ctx, r.db, `SELECT category, COUNT(*) FROM profiles GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to count profiles: %w", err)
	}
	return counts, nil
}

// ---------------------------------------------------------------------------
// Instruments
// ---------------------------------------------------------------------------

// ListInstruments returns a profile's instruments
func (r *ProfileRepository) ListInstruments(ctx context.Context, profileID string) ([]models.ProfileInstrument, error) {
	items := make([]models.ProfileInstrument, 0)
	err := r.db.SelectContext(ctx, &items,
		`SELECT id, profile_id, instrument, skill_level FROM profile_instruments WHERE profile_id = $1 ORDER BY instrument`,
		profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	return items, nil
}

// ReplaceInstruments swaps the full instrument set of a profile in one transaction
func (r *ProfileRepository) ReplaceInstruments(ctx context.Context, profileID string, items []models.ProfileInstrument) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM profile_instruments WHERE profile_id = $1`, profileID); err != nil {
		return fmt.Errorf("failed to clear instruments: %w", err)
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profile_instruments (profile_id, instrument, skill_level) VALUES ($1, $2, $3)`,
			profileID, it.Instrument, it.SkillLevel); err != nil {
			return fmt.Errorf("failed to insert instrument: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteInstruments removes every instrument row of a profile
func (r *ProfileRepository) DeleteInstruments(ctx context.Context, q DBTX, profileID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM profile_instruments WHERE profile_id = $1`, profileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete instruments: %w", err)
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// Gallery
// ---------------------------------------------------------------------------

// AddGalleryItem stores a new gallery row
func (r *ProfileRepository) AddGalleryItem(ctx context.Context, item *models.GalleryItem) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO profile_gallery (profile_id, storage_key, caption) VALUES ($1, $2, $3) RETURNING id, created_at`,
		item.ProfileID, item.StorageKey, item.Caption,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add gallery item: %w", err)
	}
	return nil
}

// ListGallery returns a profile's gallery, newest first
func (r *ProfileRepository) ListGallery(ctx context.Context, profileID string) ([]models.GalleryItem, error) {
	items := make([]models.GalleryItem, 0)
	err := r.db.SelectContext(ctx, &items,
		`SELECT id, profile_id, storage_key, caption, created_at FROM profile_gallery WHERE profile_id = $1 ORDER BY created_at DESC`,
		profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gallery: %w", err)
	}
	return items, nil
}

// DeleteGalleryItem removes one of the owner's gallery rows and returns it
func (r *ProfileRepository) DeleteGalleryItem(ctx context.Context, profileID, itemID string) (*models.GalleryItem, error) {
	var item models.GalleryItem
	err := r.db.GetContext(ctx, &item,
		`DELETE FROM profile_gallery WHERE id = $1 AND profile_id = $2 RETURNING id, profile_id, storage_key, caption, created_at`,
		itemID, profileID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete gallery item: %w", err)
	}
	return &item, nil
}

// DeleteGallery removes every gallery row of a profile
func (r *ProfileRepository) DeleteGallery(ctx context.Context, q DBTX, profileID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM profile_gallery WHERE profile_id = $1`, profileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete gallery: %w", err)
	}
	return res.RowsAffected()
}

// StorageKeys returns every object key owned by the profile: avatar and gallery images
func (r *ProfileRepository) StorageKeys(ctx context.Context, q DBTX, profileID string) ([]string, error) {
	query := `
		SELECT avatar_path FROM profiles WHERE id = $1 AND avatar_path IS NOT NULL
		UNION ALL
		SELECT storage_key FROM profile_gallery WHERE profile_id = $1
	`
	keys := make([]string, 0)
	if err := q.SelectContext(ctx, &keys, query, profileID); err != nil {
		return nil, fmt.Errorf("failed to collect storage keys: %w", err)
	}
	return keys, nil
}

// Delete removes the profile row itself
func (r *ProfileRepository) Delete(ctx context.Context, q DBTX, id string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete profile: %w", err)
	}
	return res.RowsAffected()
}
