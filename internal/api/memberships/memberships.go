// Package memberships serves the band and school relationship endpoints. Both kinds
// share one handler type parameterized by the membership service it wraps.
package memberships

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/membership"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/services"
)

// Service is the membership workflow of one relationship kind
type Service interface {
	Kind() membership.Kind
	Invite(ctx context.Context, actor services.Actor, orgID, individualID, role string) (*models.Membership, error)
	Request(ctx context.Context, actor services.Actor, orgID, individualID, role string) (*models.Membership, error)
	Act(ctx context.Context, actor services.Actor, rowID string, action membership.Action, as membership.Side) (*services.ActionResult, error)
	List(ctx context.Context, actor services.Actor, profileID, direction string, status *membership.Status) ([]models.MembershipView, error)
}

// Handlers serves /api/v1/bands or /api/v1/schools
type Handlers struct {
	svc Service
}

// NewHandlers creates handlers for the relationship kind served by svc
func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

// Register mounts the routes on g. Every route requires a signed-in profile.
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.GET("", h.List)
	g.POST("/invite", h.Invite)
	g.POST("/request", h.Request)
	g.POST("/:id/:action", h.Act)
}

type openRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
	IndividualID   string `json:"individual_id" binding:"required"`
	Role           string `json:"role"`
}

func (h *Handlers) open(c *gin.Context, action string, fn func(context.Context, services.Actor, string, string, string) (*models.Membership, error)) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}
	row, err := fn(c.Request.Context(), middleware.Actor(c), req.OrganizationID, req.IndividualID, req.Role)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	kind := h.svc.Kind()
	middleware.Audit(c, kind.Name+"."+action, kind.Table, row.ID, map[string]interface{}{
		"organization_id": row.OrganizationID,
		"individual_id":   row.IndividualID,
		"status":          string(row.Status),
	})
	c.JSON(http.StatusCreated, row)
}

// Invite opens a pending row on behalf of the organization
// POST /api/v1/{bands,schools}/invite
func (h *Handlers) Invite(c *gin.Context) {
	h.open(c, "invite", h.svc.Invite)
}

// Request opens a requested row on behalf of the individual
// POST /api/v1/{bands,schools}/request
func (h *Handlers) Request(c *gin.Context) {
	h.open(c, "request", h.svc.Request)
}

type actRequest struct {
	As string `json:"as" binding:"omitempty,oneof=organization individual"`
}

// Act applies accept, reject, cancel, leave, remove or delete to a row. Admins acting
// on a row they are not part of name the side they act for in "as".
// POST /api/v1/{bands,schools}/:id/:action
func (h *Handlers) Act(c *gin.Context) {
	action, err := membership.ParseAction(c.Param("action"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	var req actRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Binding(c, err)
			return
		}
	}

	id := c.Param("id")
	result, err := h.svc.Act(c.Request.Context(), middleware.Actor(c), id, action, membership.Side(req.As))
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	kind := h.svc.Kind()
	meta := map[string]interface{}{"deleted": result.Deleted}
	if req.As != "" {
		meta["as"] = req.As
	}
	if result.Membership != nil {
		meta["status"] = string(result.Membership.Status)
	}
	middleware.Audit(c, kind.Name+"."+string(action), kind.Table, id, meta)
	c.JSON(http.StatusOK, result)
}

// List returns the rows of a profile, by default the caller's own
// GET /api/v1/{bands,schools}?profile_id=&direction=incoming|outgoing|all&status=
func (h *Handlers) List(c *gin.Context) {
	profileID := c.DefaultQuery("profile_id", middleware.ProfileID(c))

	var status *membership.Status
	if raw := c.Query("status"); raw != "" {
		s, err := membership.ParseStatus(raw)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		status = &s
	}

	rows, err := h.svc.List(c.Request.Context(), middleware.Actor(c), profileID, c.DefaultQuery("direction", "all"), status)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memberships": rows, "kind": h.svc.Kind().Name})
}
