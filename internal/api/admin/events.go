// events.go implements the event moderation queue: listing events per status and
// approving or rejecting them.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/api/apiutil"
	"github.com/bandyab/bandyab/internal/api/events"
	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/services"
	"github.com/bandyab/bandyab/internal/storage"
	"github.com/bandyab/bandyab/internal/telemetry"
)

// EventHandlers serves /api/v1/admin/events
type EventHandlers struct {
	events   *repositories.EventRepository
	store    storage.Storage
	notifier services.Notifier
}

// NewEventHandlers creates the moderation handlers
func NewEventHandlers(events *repositories.EventRepository, store storage.Storage, notifier services.Notifier) *EventHandlers {
	return &EventHandlers{events: events, store: store, notifier: notifier}
}

// ListEvents returns one moderation tab, oldest first
// GET /api/v1/admin/events?status=pending&page=&per_page=
func (h *EventHandlers) ListEvents(c *gin.Context) {
	status := c.DefaultQuery("status", models.EventStatusPending)
	if !models.ValidEventStatus(status) {
		apierr.Respond(c, domain.Invalid("status", "وضعیت رویداد نامعتبر است."))
		return
	}
	page := apiutil.ParsePage(c)
	ctx := c.Request.Context()
	list, total, err := h.events.ListByStatus(ctx, status, page.PerPage, page.Offset())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	out := make([]events.View, 0, len(list))
	for _, e := range list {
		out = append(out, events.NewView(ctx, h.store, e))
	}
	c.JSON(http.StatusOK, gin.H{"events": out, "pagination": page.Body(total)})
}

type moderateRequest struct {
	Status string `json:"status" binding:"required,oneof=approved rejected"`
	Note   string `json:"note" binding:"max=1000"`
}

// ModerateEvent approves or rejects an event. Approved and rejected events can be
// re-moderated; repeating the current decision is refused. A decision racing another
// admin's is answered with 409.
// PATCH /api/v1/admin/events/:id
// POST /api/v1/admin/events/:id/moderate
func (h *EventHandlers) ModerateEvent(c *gin.Context) {
	var req moderateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	current, err := h.events.GetByID(ctx, id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if current == nil {
		apierr.Respond(c, domain.ErrEventNotFound)
		return
	}
	if current.Status == req.Status {
		apierr.Respond(c, domain.ErrInvalidTransition)
		return
	}

	var note *string
	if n := strings.TrimSpace(req.Note); n != "" {
		note = &n
	}
	e, err := h.events.SetStatus(ctx, id, current.Status, req.Status, note, middleware.ProfileID(c))
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	telemetry.ModerationDecisionsTotal.WithLabelValues("event", e.Status).Inc()
	middleware.Audit(c, "event.moderate", "event", e.ID, map[string]interface{}{
		"from": current.Status,
		"to":   e.Status,
	})
	h.notifier.Refresh("events", e.ID, events.Topics(e.ProfileID)...)
	c.JSON(http.StatusOK, events.NewView(ctx, h.store, *e))
}
