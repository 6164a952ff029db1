// Package events implements the event endpoints: the public listing of approved
// upcoming events and owner CRUD. Every create or edit sends the event back to
// moderation.
package events

import (
	"context"
	"net/http"
	"strings"
	"time"

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

// Handlers serves /api/v1/events
type Handlers struct {
	cfg      *config.Config
	events   *repositories.EventRepository
	store    storage.Storage
	notifier services.Notifier
}

// NewHandlers creates the event handlers
func NewHandlers(cfg *config.Config, events *repositories.EventRepository, store storage.Storage, notifier services.Notifier) *Handlers {
	return &Handlers{cfg: cfg, events: events, store: store, notifier: notifier}
}

// View is an event with its poster URL resolved
type View struct {
	models.Event
	PosterURL string `json:"poster_url,omitempty"`
}

// NewView resolves the poster URL of e
func NewView(ctx context.Context, store storage.Storage, e models.Event) View {
	return View{Event: e, PosterURL: apiutil.OptionalURL(ctx, store, e.PosterPath)}
}

func (h *Handlers) views(ctx context.Context, list []models.Event) []View {
	out := make([]View, 0, len(list))
	for _, e := range list {
		out = append(out, NewView(ctx, h.store, e))
	}
	return out
}

// Topics returns the realtime topics that refetch when an event owned by ownerID changes
func Topics(ownerID string) []string {
	return []string{realtime.TopicEvents, realtime.TopicAdmin, realtime.ProfileTopic(ownerID)}
}

// List returns approved events that have not started yet
// GET /api/v1/events?city=&page=&per_page=
func (h *Handlers) List(c *gin.Context) {
	page := apiutil.ParsePage(c)
	list, err := h.events.ListApprovedUpcoming(c.Request.Context(), strings.TrimSpace(c.Query("city")), page.PerPage, page.Offset())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events":   h.views(c.Request.Context(), list),
		"page":     page.Page,
		"per_page": page.PerPage,
	})
}

// Get returns one event. Events awaiting or failing moderation are visible only to
// their owner and to admins.
// GET /api/v1/events/:id
func (h *Handlers) Get(c *gin.Context) {
	e, err := h.events.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if e == nil || (e.Status != models.EventStatusApproved && !canManage(c, e)) {
		apierr.Respond(c, domain.ErrEventNotFound)
		return
	}
	c.JSON(http.StatusOK, NewView(c.Request.Context(), h.store, *e))
}

// Mine returns every event of the caller in any status
// GET /api/v1/events/mine
func (h *Handlers) Mine(c *gin.Context) {
	list, err := h.events.ListByProfile(c.Request.Context(), middleware.ProfileID(c))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": h.views(c.Request.Context(), list)})
}

type eventRequest struct {
	Title       string     `json:"title" binding:"required,max=200"`
	Description string     `json:"description" binding:"max=5000"`
	StartsAt    time.Time  `json:"starts_at" binding:"required"`
	EndsAt      *time.Time `json:"ends_at"`
	Venue       string     `json:"venue" binding:"max=200"`
	City        string     `json:"city" binding:"required,max=80"`
}

func (r *eventRequest) apply(e *models.Event) error {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return domain.Invalid("title", "عنوان رویداد الزامی است.")
	}
	if r.EndsAt != nil && !r.EndsAt.After(r.StartsAt) {
		return domain.Invalid("ends_at", "زمان پایان باید بعد از زمان شروع باشد.")
	}
	e.Title = title
	e.Description = strings.TrimSpace(r.Description)
	e.StartsAt = r.StartsAt
	e.EndsAt = r.EndsAt
	e.Venue = strings.TrimSpace(r.Venue)
	e.City = strings.TrimSpace(r.City)
	return nil
}

// Create submits a new event for moderation
// POST /api/v1/events
func (h *Handlers) Create(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}
	e := &models.Event{ProfileID: middleware.ProfileID(c)}
	if err := req.apply(e); err != nil {
		apierr.Respond(c, err)
		return
	}
	if err := h.events.Create(c.Request.Context(), e); err != nil {
		apierr.Respond(c, err)
		return
	}

	middleware.Audit(c, "event.create", "event", e.ID, map[string]interface{}{"title": e.Title})
	h.notifier.Refresh("events", e.ID, Topics(e.ProfileID)...)
	c.JSON(http.StatusCreated, NewView(c.Request.Context(), h.store, *e))
}

// Update edits one of the caller's events and returns it to pending
// PUT /api/v1/events/:id
func (h *Handlers) Update(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}

	ctx := c.Request.Context()
	e, err := h.owned(c)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if err := req.apply(e); err != nil {
		apierr.Respond(c, err)
		return
	}
	if err := h.events.UpdateContent(ctx, e); err != nil {
		apierr.Respond(c, repositories.NotFoundAs(err, domain.ErrEventNotFound))
		return
	}

	middleware.Audit(c, "event.update", "event", e.ID, map[string]interface{}{"title": e.Title})
	h.notifier.Refresh("events", e.ID, Topics(e.ProfileID)...)
	c.JSON(http.StatusOK, NewView(ctx, h.store, *e))
}

// Delete removes an event and its poster. Admins may delete any event.
// DELETE /api/v1/events/:id
func (h *Handlers) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	e, err := h.owned(c)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	deleted, err := h.events.Delete(ctx, e.ID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if deleted == nil {
		apierr.Respond(c, domain.ErrEventNotFound)
		return
	}
	if deleted.PosterPath != nil {
		storage.DeleteQuietly(ctx, h.store, "event_delete", *deleted.PosterPath)
	}

	middleware.Audit(c, "event.delete", "event", e.ID, map[string]interface{}{"owner_id": e.ProfileID})
	h.notifier.Refresh("events", e.ID, Topics(e.ProfileID)...)
	c.Status(http.StatusNoContent)
}

// owned loads the :id event and checks the caller may change it
func (h *Handlers) owned(c *gin.Context) (*models.Event, error) {
	e, err := h.events.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, domain.ErrEventNotFound
	}
	if !canManage(c, e) {
		return nil, domain.ErrForbidden
	}
	return e, nil
}

func canManage(c *gin.Context, e *models.Event) bool {
	id := middleware.ProfileID(c)
	return (id != "" && id == e.ProfileID) || middleware.IsAdmin(c)
}
