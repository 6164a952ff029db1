// blog_repository.go implements BlogRepository: categories, admin post CRUD and the
// public published listing. published_at is stamped in SQL the first time a post
// reaches the published status and never changes afterwards.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/jmoiron/sqlx"
)

const postColumns = `id, author_id, category_id, title, slug, excerpt, body, cover_image_path,
		       status, published_at, created_at, updated_at`

const postColumnsP = `p.id, p.author_id, p.category_id, p.title, p.slug, p.excerpt, p.body, p.cover_image_path,
		       p.status, p.published_at, p.created_at, p.updated_at`

// publishedAtExpr keeps an existing published_at and stamps now() on first publication.
// The format argument is the placeholder holding the new status.
const publishedAtExpr = `CASE WHEN %[1]s = 'published' THEN COALESCE(published_at, now()) ELSE published_at END`

// BlogRepository handles blog database operations
type BlogRepository struct {
	db *sqlx.DB
}

// NewBlogRepository creates a new BlogRepository
func NewBlogRepository(db *sqlx.DB) *BlogRepository {
	return &BlogRepository{db: db}
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// CreateCategory inserts a blog category
func (r *BlogRepository) CreateCategory(ctx context.Context, c *models.BlogCategory) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO blog_categories (slug, name) VALUES ($1, $2) RETURNING id, created_at`,
		c.Slug, c.Name,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create blog category: %w", err)
	}
	return nil
}

// ListCategories returns every category by name
func (r *BlogRepository) ListCategories(ctx context.Context) ([]models.BlogCategory, error) {
	cats := make([]models.BlogCategory, 0)
	if err := r.db.SelectContext(ctx, &cats, `SELECT id, slug, name, created_at FROM blog_categories ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list blog categories: %w", err)
	}
	return cats, nil
}

// DeleteCategory removes a category; its posts become uncategorised
func (r *BlogRepository) DeleteCategory(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blog_categories WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete blog category: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ---------------------------------------------------------------------------
// Posts
// ---------------------------------------------------------------------------

// CreatePost inserts a post, stamping published_at when it is created published
func (r *BlogRepository) CreatePost(ctx context.Context, p *models.BlogPost) error {
	query := `
		INSERT INTO blog_posts (author_id, category_id, title, slug, excerpt, body, status, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CASE WHEN $7 = 'published' THEN now() END)
		RETURNING ` + postColumns
	err := r.db.GetContext(ctx, p, query,
		p.AuthorID, p.CategoryID, p.Title, p.Slug, p.Excerpt, p.Body, p.Status)
	if err != nil {
		return fmt.Errorf("failed to create blog post: %w", err)
	}
	return nil
}

// UpdatePost rewrites a post's content and status
func (r *BlogRepository) UpdatePost(ctx context.Context, p *models.BlogPost) error {
	query := `
		UPDATE blog_posts SET
			category_id = $2, title = $3, slug = $4, excerpt = $5, body = $6, status = $7,
			published_at = ` + fmt.Sprintf(publishedAtExpr, "$7") + `,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + postColumns
	err := r.db.GetContext(ctx, p, query,
		p.ID, p.CategoryID, p.Title, p.Slug, p.Excerpt, p.Body, p.Status)
	if err == sql.ErrNoRows {
		return sql.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("failed to update blog post: %w", err)
	}
	return nil
}

// SetPostStatus changes only the status of a post
func (r *BlogRepository) SetPostStatus(ctx context.Context, id, status string) (*models.BlogPost, error) {
	query := `
		UPDATE blog_posts SET status = $2, published_at = ` + fmt.Sprintf(publishedAtExpr, "$2") + `, updated_at = now()
		WHERE id = $1
		RETURNING ` + postColumns
	var p models.BlogPost
	err := r.db.GetContext(ctx, &p, query, id, status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set blog post status: %w", err)
	}
	return &p, nil
}

// SetCover replaces the cover image path and returns the previous one
func (r *BlogRepository) SetCover(ctx context.Context, id string, path *string) (*string, error) {
	query := `
		WITH old AS (SELECT cover_image_path FROM blog_posts WHERE id = $1 FOR UPDATE)
		UPDATE blog_posts SET cover_image_path = $2, updated_at = now()
		WHERE id = $1
		RETURNING (SELECT cover_image_path FROM old)
	`
	var previous *string
	err := r.db.QueryRowxContext(ctx, query, id, path).Scan(&previous)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set cover image: %w", err)
	}
	return previous, nil
}

// GetPostByID retrieves a post in any status
func (r *BlogRepository) GetPostByID(ctx context.Context, id string) (*models.BlogPost, error) {
	var p models.BlogPost
	err := r.db.GetContext(ctx, &p, `SELECT `+postColumns+` FROM blog_posts WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blog post: %w", err)
	}
	return &p, nil
}

// GetPublishedBySlug retrieves a published post for the public site
func (r *BlogRepository) GetPublishedBySlug(ctx context.Context, slug string) (*models.BlogPost, error) {
	var p models.BlogPost
	err := r.db.GetContext(ctx, &p,
		`SELECT `+postColumns+` FROM blog_posts WHERE slug = $1 AND status = 'published'`, slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blog post by slug: %w", err)
	}
	return &p, nil
}

// ListPublished returns published posts, newest first, optionally within a category slug
func (r *BlogRepository) ListPublished(ctx context.Context, categorySlug string, limit, offset int) ([]models.BlogPost, error) {
	limit, offset = clampPage(limit, offset)
	query := `
		SELECT ` + postColumnsP + `
		FROM blog_posts p
		LEFT JOIN blog_categories c ON c.id = p.category_id
		WHERE p.status = 'published' AND ($1 = '' OR c.slug = $1)
		ORDER BY p.published_at DESC
		LIMIT $2 OFFSET $3`
	posts := make([]models.BlogPost, 0)
	if err := r.db.SelectContext(ctx, &posts, query, categorySlug, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list published posts: %w", err)
	}
	return posts, nil
}

// ListAll returns posts for the admin panel, optionally filtered by status
func (r *BlogRepository) ListAll(ctx context.Context, status string, limit, offset int) ([]models.BlogPost, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM blog_posts WHERE ($1 = '' OR status = $1)`, status); err != nil {
		return nil, 0, fmt.Errorf("failed to count blog posts: %w", err)
	}

	limit, offset = clampPage(limit, offset)
	posts := make([]models.BlogPost, 0)
	err := r.db.SelectContext(ctx, &posts,
		`SELECT `+postColumns+` FROM blog_posts WHERE ($1 = '' OR status = $1) ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list blog posts: %w", err)
	}
	return posts, total, nil
}

// DeletePost removes a post and returns it so its cover image can be cleaned up
func (r *BlogRepository) DeletePost(ctx context.Context, id string) (*models.BlogPost, error) {
	var p models.BlogPost
	err := r.db.GetContext(ctx, &p, `DELETE FROM blog_posts WHERE id = $1 RETURNING `+postColumns, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete blog post: %w", err)
	}
	return &p, nil
}

// DetachAuthor clears the author of every post written by a profile
func (r *BlogRepository) DetachAuthor(ctx context.Context, q DBTX, profileID string) (int64, error) {
	res, err := q.ExecContext(ctx, `UPDATE blog_posts SET author_id = NULL WHERE author_id = $1`, profileID)
	if err != nil {
		return 0, fmt.Errorf("failed to detach blog author: %w", err)
	}
	return res.RowsAffected()
}
