// Package models - blog.go defines blog posts and categories.
package models

import "time"

// Blog post statuses
const (
	PostStatusDraft     = "draft"
	PostStatusPublished = "published"
	PostStatusArchived  = "archived"
)

// ValidPostStatus reports whether s is a known blog post status
func ValidPostStatus(s string) bool {
	return s == PostStatusDraft || s == PostStatusPublished || s == PostStatusArchived
}

// BlogCategory groups posts
type BlogCategory struct {
	ID        string    `db:"id" json:"id"`
	Slug      string    `db:"slug" json:"slug"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// BlogPost is an article written by an admin
type BlogPost struct {
	ID             string     `db:"id" json:"id"`
	AuthorID       *string    `db:"author_id" json:"author_id,omitempty"`
	CategoryID     *string    `db:"category_id" json:"category_id,omitempty"`
	Title          string     `db:"title" json:"title"`
	Slug           string     `db:"slug" json:"slug"`
	Excerpt        string     `db:"excerpt" json:"excerpt"`
	Body           string     `db:"body" json:"body"`
	CoverImagePath *string    `db:"cover_image_path" json:"cover_image_path,omitempty"`
	Status         string     `db:"status" json:"status"`
	PublishedAt    *time.Time `db:"published_at" json:"published_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
