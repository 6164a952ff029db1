// profiles.go implements admin profile management: granting admin rights and
// deleting a profile with everything that hangs off it.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/realtime"
	"github.com/bandyab/bandyab/internal/services"
)

// Deleter removes a profile and its account
type Deleter interface {
	Delete(ctx context.Context, actor services.Actor, profileID string) (*services.DeletionReport, error)
}

// ProfileHandlers serves /api/v1/admin/profiles
type ProfileHandlers struct {
	profiles *repositories.ProfileRepository
	deleter  Deleter
	notifier services.Notifier
}

// NewProfileHandlers creates the admin profile handlers
func NewProfileHandlers(profiles *repositories.ProfileRepository, deleter Deleter, notifier services.Notifier) *ProfileHandlers {
	return &ProfileHandlers{profiles: profiles, deleter: deleter, notifier: notifier}
}

// DeleteProfile removes any profile
// DELETE /api/v1/admin/profiles/:id
func (h *ProfileHandlers) DeleteProfile(c *gin.Context) {
	id := c.Param("id")
	if id == middleware.ProfileID(c) {
		apierr.Respond(c, domain.Invalid("id", "برای حذف حساب خود از صفحه پروفایل استفاده کنید."))
		return
	}
	report, err := h.deleter.Delete(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	middleware.Audit(c, "profile.delete", "profile", id, map[string]interface{}{
		"initiator":        "admin",
		"storage_removed":  report.StorageRemoved,
		"storage_failures": len(report.StorageFailures),
	})
	c.JSON(http.StatusOK, report)
}

type setAdminRequest struct {
	IsAdmin *bool `json:"is_admin" binding:"required"`
}

// SetAdmin grants or revokes admin rights. Admins cannot revoke their own rights.
// PUT /api/v1/admin/profiles/:id/admin
func (h *ProfileHandlers) SetAdmin(c *gin.Context) {
	var req setAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}
	id := c.Param("id")
	if id == middleware.ProfileID(c) && !*req.IsAdmin {
		apierr.Respond(c, domain.Invalid("is_admin", "نمی‌توانید دسترسی مدیریت خود را لغو کنید."))
		return
	}
	if err := h.profiles.SetAdmin(c.Request.Context(), id, *req.IsAdmin); err != nil {
		apierr.Respond(c, repositories.NotFoundAs(err, domain.ErrProfileNotFound))
		return
	}
	middleware.Audit(c, "profile.set_admin", "profile", id, map[string]interface{}{"is_admin": *req.IsAdmin})
	h.notifier.Refresh("profiles", id, realtime.ProfileTopic(id), realtime.TopicAdmin)
	c.JSON(http.StatusOK, gin.H{"id": id, "is_admin": *req.IsAdmin})
}
