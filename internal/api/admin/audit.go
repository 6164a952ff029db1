// audit.go implements the audit log viewer.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/api/apiutil"
	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
)

// AuditHandlers serves /api/v1/admin/audit-logs
type AuditHandlers struct {
	audits *repositories.AuditRepository
}

// NewAuditHandlers creates the audit log handlers
func NewAuditHandlers(audits *repositories.AuditRepository) *AuditHandlers {
	return &AuditHandlers{audits: audits}
}

func optionalQuery(c *gin.Context, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

func optionalTime(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, domain.Invalid(key, "تاریخ باید در قالب RFC3339 باشد.")
	}
	return &t, nil
}

// ListAuditLogs returns audit entries, newest first
// GET /api/v1/admin/audit-logs?actor_id=&action=&resource_type=&resource_id=&start_date=&end_date=&page=&per_page=
func (h *AuditHandlers) ListAuditLogs(c *gin.Context) {
	filters := repositories.AuditFilters{
		ActorID:      optionalQuery(c, "actor_id"),
		Action:       optionalQuery(c, "action"),
		ResourceType: optionalQuery(c, "resource_type"),
		ResourceID:   optionalQuery(c, "resource_id"),
	}
	var err error
	if filters.StartDate, err = optionalTime(c, "start_date"); err != nil {
		apierr.Respond(c, err)
		return
	}
	if filters.EndDate, err = optionalTime(c, "end_date"); err != nil {
		apierr.Respond(c, err)
		return
	}

	page := apiutil.ParsePage(c)
	logs, total, err := h.audits.ListAuditLogs(c.Request.Context(), filters, page.PerPage, page.Offset())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "pagination": page.Body(total)})
}

// GetAuditLog returns one audit entry
// GET /api/v1/admin/audit-logs/:id
func (h *AuditHandlers) GetAuditLog(c *gin.Context) {
	log, err := h.audits.GetAuditLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if log == nil {
		apierr.NotFound(c)
		return
	}
	c.JSON(http.StatusOK, log)
}
