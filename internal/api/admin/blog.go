// blog.go implements admin blog management: post CRUD, status changes and categories.
package admin

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/api/apiutil"
	"github.com/bandyab/bandyab/internal/api/blog"
	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/realtime"
	"github.com/bandyab/bandyab/internal/services"
	"github.com/bandyab/bandyab/internal/storage"
	"github.com/bandyab/bandyab/internal/telemetry"
)

var slugPattern = regexp.MustCompile(`^[\p{L}\p{N}]+(-[\p{L}\p{N}]+)*$`)

// Slugify lower-cases s and joins its letter and digit runs with hyphens. Persian
// letters are kept as they are.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// BlogHandlers serves /api/v1/admin/blog
type BlogHandlers struct {
	posts    *repositories.BlogRepository
	store    storage.Storage
	notifier services.Notifier
}

// NewBlogHandlers creates the admin blog handlers
func NewBlogHandlers(posts *repositories.BlogRepository, store storage.Storage, notifier services.Notifier) *BlogHandlers {
	return &BlogHandlers{posts: posts, store: store, notifier: notifier}
}

func (h *BlogHandlers) refresh(id string) {
	h.notifier.Refresh("blog_posts", id, realtime.TopicBlog, realtime.TopicAdmin)
}

// ListPosts returns posts in any status
// GET /api/v1/admin/blog/posts?status=&page=&per_page=
func (h *BlogHandlers) ListPosts(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !models.ValidPostStatus(status) {
		apierr.Respond(c, domain.Invalid("status", "وضعیت نوشته نامعتبر است."))
		return
	}
	page := apiutil.ParsePage(c)
	ctx := c.Request.Context()
	posts, total, err := h.posts.ListAll(ctx, status, page.PerPage, page.Offset())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	out := make([]blog.PostView, 0, len(posts))
	for _, p := range posts {
		out = append(out, blog.NewPostView(ctx, h.store, p))
	}
	c.JSON(http.StatusOK, gin.H{"posts": out, "pagination": page.Body(total)})
}

// GetPost returns a post in any status
// GET /api/v1/admin/blog/posts/:id
func (h *BlogHandlers) GetPost(c *gin.Context) {
	p, err := h.posts.GetPostByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if p == nil {
		apierr.Respond(c, domain.ErrPostNotFound)
		return
	}
	c.JSON(http.StatusOK, blog.NewPostView(c.Request.Context(), h.store, *p))
}

type postRequest struct {
	Title      string  `json:"title" binding:"required,max=200"`
	Slug       string  `json:"slug" binding:"max=200"`
	Excerpt    string  `json:"excerpt" binding:"max=1000"`
	Body       string  `json:"body" binding:"max=100000"`
	CategoryID *string `json:"category_id"`
	Status     string  `json:"status" binding:"omitempty,oneof=draft published archived"`
}

func (r *postRequest) apply(p *models.BlogPost) error {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return domain.Invalid("title", "عنوان نوشته الزامی است.")
	}
	slug := strings.TrimSpace(r.Slug)
	if slug == "" {
		slug = Slugify(title)
	}
	slug = strings.ToLower(slug)
	if !slugPattern.MatchString(slug) {
		return domain.Invalid("slug", "نامک فقط می‌تواند شامل حروف، اعداد و خط تیره باشد.")
	}
	p.Title = title
	p.Slug = slug
	p.Excerpt = strings.TrimSpace(r.Excerpt)
	p.Body = r.Body
	p.CategoryID = nil
	if r.CategoryID != nil && *r.CategoryID != "" {
		p.CategoryID = r.CategoryID
	}
	p.Status = r.Status
	if p.Status == "" {
		p.Status = models.PostStatusDraft
	}
	return nil
}

// CreatePost writes a new post authored by the caller
// POST /api/v1/admin/blog/posts
func (h *BlogHandlers) CreatePost(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}
	author := middleware.ProfileID(c)
	p := &models.BlogPost{AuthorID: &author}
	if err := req.apply(p); err != nil {
		apierr.Respond(c, err)
		return
	}
	if err := h.posts.CreatePost(c.Request.Context(), p); err != nil {
		apierr.Respond(c, err)
		return
	}

	middleware.Audit(c, "blog.create", "blog_post", p.ID, map[string]interface{}{"slug": p.Slug, "status": p.Status})
	h.refresh(p.ID)
	c.JSON(http.StatusCreated, blog.NewPostView(c.Request.Context(), h.store, *p))
}

// UpdatePost rewrites a post
// PUT /api/v1/admin/blog/posts/:id
func (h *BlogHandlers) UpdatePost(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}
	p := &models.BlogPost{ID: c.Param("id")}
	if err := req.apply(p); err != nil {
		apierr.Respond(c, err)
		return
	}
	if err := h.posts.UpdatePost(c.Request.Context(), p); err != nil {
		apierr.Respond(c, repositories.NotFoundAs(err, domain.ErrPostNotFound))
		return
	}

	middleware.Audit(c, "blog.update", "blog_post", p.ID, map[string]interface{}{"slug": p.Slug, "status": p.Status})
	h.refresh(p.ID)
	c.JSON(http.StatusOK, blog.NewPostView(c.Request.Context(), h.store, *p))
}

type postStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=draft published archived"`
}

// SetPostStatus publishes, unpublishes or archives a post. published_at is stamped
// the first time only.
// POST /api/v1/admin/blog/posts/:id/status
func (h *BlogHandlers) SetPostStatus(c *gin.Context) {
	var req postStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}
	p, err := h.posts.SetPostStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if p == nil {
		apierr.Respond(c, domain.ErrPostNotFound)
		return
	}

	telemetry.ModerationDecisionsTotal.WithLabelValues("blog_post", p.Status).Inc()
	middleware.Audit(c, "blog.status", "blog_post", p.ID, map[string]interface{}{"status": p.Status})
	h.refresh(p.ID)
	c.JSON(http.StatusOK, blog.NewPostView(c.Request.Context(), h.store, *p))
}

// DeletePost removes a post and its cover image
// DELETE /api/v1/admin/blog/posts/:id
func (h *BlogHandlers) DeletePost(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.posts.DeletePost(ctx, c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if p == nil {
		apierr.Respond(c, domain.ErrPostNotFound)
		return
	}
	if p.CoverImagePath != nil {
		storage.DeleteQuietly(ctx, h.store, "blog_delete", *p.CoverImagePath)
	}

	middleware.Audit(c, "blog.delete", "blog_post", p.ID, map[string]interface{}{"slug": p.Slug})
	h.refresh(p.ID)
	c.Status(http.StatusNoContent)
}

type categoryRequest struct {
	Name string `json:"name" binding:"required,max=80"`
	Slug string `json:"slug" binding:"max=80"`
}

// CreateCategory adds a blog category
// POST /api/v1/admin/blog/categories
func (h *BlogHandlers) CreateCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if slug == "" {
		slug = Slugify(name)
	}
	if name == "" || !slugPattern.MatchString(slug) {
		apierr.Respond(c, domain.Invalid("slug", "نام یا نامک دسته‌بندی نامعتبر است."))
		return
	}

	cat := &models.BlogCategory{Name: name, Slug: slug}
	if err := h.posts.CreateCategory(c.Request.Context(), cat); err != nil {
		apierr.Respond(c, err)
		return
	}
	middleware.Audit(c, "blog.category_create", "blog_category", cat.ID, map[string]interface{}{"slug": cat.Slug})
	h.notifier.Refresh("blog_categories", cat.ID, realtime.TopicBlog)
	c.JSON(http.StatusCreated, cat)
}

// DeleteCategory removes a category. Its posts become uncategorised.
// DELETE /api/v1/admin/blog/categories/:id
func (h *BlogHandlers) DeleteCategory(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.posts.DeleteCategory(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if !ok {
		apierr.NotFound(c)
		return
	}
	middleware.Audit(c, "blog.category_delete", "blog_category", id, nil)
	h.notifier.Refresh("blog_categories", id, realtime.TopicBlog)
	c.Status(http.StatusNoContent)
}
