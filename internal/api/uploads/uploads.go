// Package uploads implements the image upload proxies. Browsers never write to the
// object store directly: every image passes through here so its type and size are
// checked and its key is tied to the owning profile or post.
package uploads

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/api/apiutil"
	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/realtime"
	"github.com/bandyab/bandyab/internal/services"
	"github.com/bandyab/bandyab/internal/storage"
)

const maxCaption = 300

// Handlers serves /api/v1/uploads and the admin blog image routes
type Handlers struct {
	cfg      *config.Config
	profiles *repositories.ProfileRepository
	events   *repositories.EventRepository
	posts    *repositories.BlogRepository
	store    storage.Storage
	notifier services.Notifier
}

// NewHandlers creates the upload handlers
func NewHandlers(cfg *config.Config, profiles *repositories.ProfileRepository, events *repositories.EventRepository,
	posts *repositories.BlogRepository, store storage.Storage, notifier services.Notifier) *Handlers {
	return &Handlers{
		cfg:      cfg,
		profiles: profiles,
		events:   events,
		posts:    posts,
		store:    store,
		notifier: notifier,
	}
}

// replace points a row at a freshly stored object. The new object is removed when the
// row update fails, the replaced one after it succeeds.
func (h *Handlers) replace(ctx context.Context, op string, up *apiutil.Uploaded, set func(*string) (*string, error), notFound error) error {
	previous, err := set(&up.Path)
	if err != nil {
		storage.DeleteQuietly(ctx, h.store, op, up.Path)
		return repositories.NotFoundAs(err, notFound)
	}
	if previous != nil && *previous != up.Path {
		storage.DeleteQuietly(ctx, h.store, op, *previous)
	}
	return nil
}

// Avatar replaces the caller's avatar
// POST /api/v1/uploads/avatar
func (h *Handlers) Avatar(c *gin.Context) {
	ctx := c.Request.Context()
	id := middleware.ProfileID(c)
	up, err := apiutil.StoreImage(c, h.cfg, h.store, storage.BucketAvatars, id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	set := func(p *string) (*string, error) { return h.profiles.SetAvatar(ctx, id, p) }
	if err := h.replace(ctx, "avatar_replace", up, set, domain.ErrProfileNotFound); err != nil {
		apierr.Respond(c, err)
		return
	}

	middleware.Audit(c, "upload.avatar", "profile", id, map[string]interface{}{"path": up.Path})
	h.notifier.Refresh("profiles", id, realtime.ProfileTopic(id))
	c.JSON(http.StatusOK, up)
}

// DeleteAvatar clears the caller's avatar
// DELETE /api/v1/uploads/avatar
func (h *Handlers) DeleteAvatar(c *gin.Context) {
	ctx := c.Request.Context()
	id := middleware.ProfileID(c)
	previous, err := h.profiles.SetAvatar(ctx, id, nil)
	if err != nil {
		apierr.Respond(c, repositories.NotFoundAs(err, domain.ErrProfileNotFound))
		return
	}
	if previous != nil {
		storage.DeleteQuietly(ctx, h.store, "avatar_delete", *previous)
	}
	middleware.Audit(c, "upload.avatar_delete", "profile", id, nil)
	h.notifier.Refresh("profiles", id, realtime.ProfileTopic(id))
	c.Status(http.StatusNoContent)
}

// Gallery adds an image to the caller's gallery. The optional "caption" form field
// is stored with it.
// POST /api/v1/uploads/gallery
func (h *Handlers) Gallery(c *gin.Context) {
	ctx := c.Request.Context()
	id := middleware.ProfileID(c)
	caption := strings.TrimSpace(c.PostForm("caption"))
	if len([]rune(caption)) > maxCaption {
		apierr.Respond(c, domain.Invalid("caption", "توضیح تصویر بیش از حد طولانی است."))
		return
	}

	up, err := apiutil.StoreImage(c, h.cfg, h.store, storage.BucketGallery, id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	item := &models.GalleryItem{ProfileID: id, StorageKey: up.Path, Caption: caption}
	if err := h.profiles.AddGalleryItem(ctx, item); err != nil {
		storage.DeleteQuietly(ctx, h.store, "gallery_add", up.Path)
		apierr.Respond(c, err)
		return
	}

	middleware.Audit(c, "upload.gallery", "profile", id, map[string]interface{}{"item_id": item.ID})
	h.notifier.Refresh("profile_gallery", item.ID, realtime.ProfileTopic(id))
	c.JSON(http.StatusCreated, gin.H{"path": up.Path, "url": up.URL, "item": item})
}

// EventPoster replaces the poster of an event owned by the caller. The object is
// stored under the event owner's prefix so profile deletion finds it.
// POST /api/v1/uploads/events/:id/poster
func (h *Handlers) EventPoster(c *gin.Context) {
	ctx := c.Request.Context()
	e, err := h.events.GetByID(ctx, c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if e == nil {
		apierr.Respond(c, domain.ErrEventNotFound)
		return
	}
	if e.ProfileID != middleware.ProfileID(c) && !middleware.IsAdmin(c) {
		apierr.Respond(c, domain.ErrForbidden)
		return
	}

	up, err := apiutil.StoreImage(c, h.cfg, h.store, storage.BucketPosters, e.ProfileID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	set := func(p *string) (*string, error) { return h.events.SetPoster(ctx, e.ID, p) }
	if err := h.replace(ctx, "poster_replace", up, set, domain.ErrEventNotFound); err != nil {
		apierr.Respond(c, err)
		return
	}

	middleware.Audit(c, "upload.poster", "event", e.ID, map[string]interface{}{"path": up.Path})
	h.notifier.Refresh("events", e.ID, realtime.TopicEvents, realtime.TopicAdmin, realtime.ProfileTopic(e.ProfileID))
	c.JSON(http.StatusOK, up)
}

// BlogImage stores an inline image for a blog post body
// POST /api/v1/admin/blog/images
func (h *Handlers) BlogImage(c *gin.Context) {
	up, err := apiutil.StoreImage(c, h.cfg, h.store, storage.BucketBlog, middleware.ProfileID(c))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	middleware.Audit(c, "upload.blog_image", "blog_post", "", map[string]interface{}{"path": up.Path})
	c.JSON(http.StatusCreated, up)
}

// BlogCover replaces the cover image of a post
// POST /api/v1/admin/blog/posts/:id/cover
func (h *Handlers) BlogCover(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	post, err := h.posts.GetPostByID(ctx, id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if post == nil {
		apierr.Respond(c, domain.ErrPostNotFound)
		return
	}

	up, err := apiutil.StoreImage(c, h.cfg, h.store, storage.BucketBlog, middleware.ProfileID(c))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	set := func(p *string) (*string, error) { return h.posts.SetCover(ctx, id, p) }
	if err := h.replace(ctx, "cover_replace", up, set, domain.ErrPostNotFound); err != nil {
		apierr.Respond(c, err)
		return
	}

	middleware.Audit(c, "upload.blog_cover", "blog_post", id, map[string]interface{}{"path": up.Path})
	h.notifier.Refresh("blog_posts", id, realtime.TopicBlog, realtime.TopicAdmin)
	c.JSON(http.StatusOK, up)
}
