// messages.go implements the admin contact inbox: listing, reading, replying and closing.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/api/apiutil"
	"github.com/bandyab/bandyab/internal/api/messages"
	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/services"
	"github.com/bandyab/bandyab/internal/telemetry"
)

// MessageHandlers serves /api/v1/admin/messages
type MessageHandlers struct {
	messages *repositories.MessageRepository
	notifier services.Notifier
}

// NewMessageHandlers creates the inbox handlers
func NewMessageHandlers(messages *repositories.MessageRepository, notifier services.Notifier) *MessageHandlers {
	return &MessageHandlers{messages: messages, notifier: notifier}
}

func (h *MessageHandlers) refresh(table string, m *models.ContactMessage) {
	h.notifier.Refresh(table, m.ID, messages.Topics(m.ProfileID)...)
}

// ListMessages returns the inbox, optionally filtered by status
// GET /api/v1/admin/messages?status=&page=&per_page=
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !models.ValidMessageStatus(status) {
		apierr.Respond(c, domain.Invalid("status", "وضعیت پیام نامعتبر است."))
		return
	}
	page := apiutil.ParsePage(c)
	list, total, err := h.messages.ListByStatus(c.Request.Context(), status, page.PerPage, page.Offset())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list, "pagination": page.Body(total)})
}

// GetMessage returns a message with its full thread
// GET /api/v1/admin/messages/:id
func (h *MessageHandlers) GetMessage(c *gin.Context) {
	thread, err := h.messages.GetThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if thread == nil {
		apierr.Respond(c, domain.ErrMessageNotFound)
		return
	}
	c.JSON(http.StatusOK, thread)
}

// MarkRead moves a new message to read. Messages in any other status are returned
// unchanged.
// POST /api/v1/admin/messages/:id/read
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	m, err := h.messages.SetStatus(ctx, id, models.MessageStatusNew, models.MessageStatusRead)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if m == nil {
		current, err := h.messages.GetByID(ctx, id)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		if current == nil {
			apierr.Respond(c, domain.ErrMessageNotFound)
			return
		}
		c.JSON(http.StatusOK, current)
		return
	}

	middleware.Audit(c, "message.read", "contact_message", m.ID, nil)
	h.refresh("contact_messages", m)
	c.JSON(http.StatusOK, m)
}

type adminReplyRequest struct {
	Body string `json:"body" binding:"required,max=5000"`
}

// Reply answers a message and marks it answered
// POST /api/v1/admin/messages/:id/replies
func (h *MessageHandlers) Reply(c *gin.Context) {
	var req adminReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		apierr.Respond(c, domain.Invalid("body", "متن پاسخ الزامی است."))
		return
	}

	ctx := c.Request.Context()
	m, err := h.messages.GetByID(ctx, c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if m == nil {
		apierr.Respond(c, domain.ErrMessageNotFound)
		return
	}
	if m.Status == models.MessageStatusClosed {
		apierr.Respond(c, domain.ErrInvalidTransition)
		return
	}

	reply, err := h.messages.AddAdminReply(ctx, m.ID, middleware.ProfileID(c), body)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	telemetry.ModerationDecisionsTotal.WithLabelValues("message", models.MessageStatusAnswered).Inc()
	middleware.Audit(c, "message.reply", "contact_message", m.ID, nil)
	h.refresh("admin_replies", m)
	c.JSON(http.StatusCreated, reply)
}

// Close ends a conversation. Closed messages take no further replies.
// POST /api/v1/admin/messages/:id/close
func (h *MessageHandlers) Close(c *gin.Context) {
	m, err := h.messages.SetStatus(c.Request.Context(), c.Param("id"), "", models.MessageStatusClosed)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if m == nil {
		apierr.Respond(c, domain.ErrMessageNotFound)
		return
	}
	telemetry.ModerationDecisionsTotal.WithLabelValues("message", models.MessageStatusClosed).Inc()
	middleware.Audit(c, "message.close", "contact_message", m.ID, nil)
	h.refresh("contact_messages", m)
	c.JSON(http.StatusOK, m)
}
