// Package blog serves the public blog: published posts and their categories.
package blog

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/api/apiutil"
	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/storage"
)

// Handlers serves /api/v1/blog
type Handlers struct {
	posts *repositories.BlogRepository
	store storage.Storage
}

// NewHandlers creates the public blog handlers
func NewHandlers(posts *repositories.BlogRepository, store storage.Storage) *Handlers {
	return &Handlers{posts: posts, store: store}
}

// PostView is a post with its cover URL resolved
type PostView struct {
	models.BlogPost
	CoverURL string `json:"cover_url,omitempty"`
}

// NewPostView resolves the cover URL of p
func NewPostView(ctx context.Context, store storage.Storage, p models.BlogPost) PostView {
	return PostView{BlogPost: p, CoverURL: apiutil.OptionalURL(ctx, store, p.CoverImagePath)}
}

// List returns published posts, newest first
// GET /api/v1/blog/posts?category=&page=&per_page=
func (h *Handlers) List(c *gin.Context) {
	page := apiutil.ParsePage(c)
	ctx := c.Request.Context()
	posts, err := h.posts.ListPublished(ctx, strings.TrimSpace(c.Query("category")), page.PerPage, page.Offset())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	out := make([]PostView, 0, len(posts))
	for _, p := range posts {
		// list pages show the excerpt only
		p.Body = ""
		out = append(out, NewPostView(ctx, h.store, p))
	}
	c.JSON(http.StatusOK, gin.H{"posts": out, "page": page.Page, "per_page": page.PerPage})
}

// Get returns a published post by slug
// GET /api/v1/blog/posts/:slug
func (h *Handlers) Get(c *gin.Context) {
	p, err := h.posts.GetPublishedBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if p == nil {
		apierr.Respond(c, domain.ErrPostNotFound)
		return
	}
	c.JSON(http.StatusOK, NewPostView(c.Request.Context(), h.store, *p))
}

// Categories returns every blog category
// GET /api/v1/blog/categories
func (h *Handlers) Categories(c *gin.Context) {
	cats, err := h.posts.ListCategories(c.Request.Context())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}
