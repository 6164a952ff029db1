// Package messages implements the contact form and the sender's side of a message
// thread. The admin inbox lives in internal/api/admin.
package messages

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/otp"
	"github.com/bandyab/bandyab/internal/realtime"
	"github.com/bandyab/bandyab/internal/services"
)

// CaptchaVerifier checks the contact form CAPTCHA
type CaptchaVerifier interface {
	Enabled() bool
	Verify(ctx context.Context, token, remoteIP string) error
}

// Handlers serves /api/v1/messages
type Handlers struct {
	messages *repositories.MessageRepository
	captcha  CaptchaVerifier
	notifier services.Notifier
}

// NewHandlers creates the contact handlers. captcha may be nil.
func NewHandlers(messages *repositories.MessageRepository, captcha CaptchaVerifier, notifier services.Notifier) *Handlers {
	return &Handlers{messages: messages, captcha: captcha, notifier: notifier}
}

// Topics returns the realtime topics refreshed when a message of profileID changes
func Topics(profileID *string) []string {
	topics := []string{realtime.TopicAdmin}
	if profileID != nil && *profileID != "" {
		topics = append(topics, realtime.MessagesTopic(*profileID))
	}
	return topics
}

type submitRequest struct {
	Name         string `json:"name" binding:"required,max=120"`
	Email        string `json:"email" binding:"required,email,max=254"`
	Phone        string `json:"phone" binding:"max=20"`
	Subject      string `json:"subject" binding:"required,max=200"`
	Body         string `json:"body" binding:"required,max=5000"`
	CaptchaToken string `json:"captcha_token"`
}

// Submit stores a contact message from a visitor or a signed-in profile
// POST /api/v1/messages
func (h *Handlers) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}
	if h.captcha != nil && h.captcha.Enabled() {
		if err := h.captcha.Verify(c.Request.Context(), req.CaptchaToken, c.ClientIP()); err != nil {
			apierr.Respond(c, err)
			return
		}
	}

	m := &models.ContactMessage{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.ToLower(strings.TrimSpace(req.Email)),
		Subject: strings.TrimSpace(req.Subject),
		Body:    strings.TrimSpace(req.Body),
	}
	if m.Name == "" || m.Subject == "" || m.Body == "" {
		apierr.Respond(c, domain.Invalid("body", "نام، موضوع و متن پیام الزامی است."))
		return
	}
	if raw := strings.TrimSpace(req.Phone); raw != "" {
		phone, err := otp.NormalizePhone(raw)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		m.Phone = &phone
	}
	if id := middleware.ProfileID(c); id != "" {
		m.ProfileID = &id
	}

	if err := h.messages.Create(c.Request.Context(), m); err != nil {
		apierr.Respond(c, err)
		return
	}
	middleware.Audit(c, "message.submit", "contact_message", m.ID, map[string]interface{}{"subject": m.Subject})
	h.notifier.Refresh("contact_messages", m.ID, Topics(m.ProfileID)...)
	c.JSON(http.StatusCreated, m)
}

// Mine lists the caller's messages
// GET /api/v1/messages/mine
func (h *Handlers) Mine(c *gin.Context) {
	list, err := h.messages.ListByProfile(c.Request.Context(), middleware.ProfileID(c))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

// Thread returns one of the caller's messages with its replies
// GET /api/v1/messages/:id
func (h *Handlers) Thread(c *gin.Context) {
	thread, err := h.messages.GetThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if thread == nil || !ownedBy(&thread.ContactMessage, middleware.ProfileID(c)) {
		apierr.Respond(c, domain.ErrMessageNotFound)
		return
	}
	c.JSON(http.StatusOK, thread)
}

type replyRequest struct {
	Body string `json:"body" binding:"required,max=5000"`
}

// Reply adds the sender's follow-up and puts the message back in the inbox
// POST /api/v1/messages/:id/replies
func (h *Handlers) Reply(c *gin.Context) {
	var req replyRequest
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
	profileID := middleware.ProfileID(c)
	m, err := h.messages.GetByID(ctx, c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if m == nil || !ownedBy(m, profileID) {
		apierr.Respond(c, domain.ErrMessageNotFound)
		return
	}

	reply, err := h.messages.AddUserReply(ctx, m.ID, profileID, body)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	middleware.Audit(c, "message.user_reply", "contact_message", m.ID, nil)
	h.notifier.Refresh("user_replies", m.ID, Topics(m.ProfileID)...)
	c.JSON(http.StatusCreated, reply)
}

func ownedBy(m *models.ContactMessage, profileID string) bool {
	return profileID != "" && m.ProfileID != nil && *m.ProfileID == profileID
}
