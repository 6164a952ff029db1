// Package profiles implements the profile endpoints: the caller's own profile,
// public profiles, search, instruments, gallery and profile deletion.
package profiles

import (
	"context"
	"net/http"
	"slices"
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

const (
	maxRoles       = 10
	maxInstruments = 20
)

// Deleter removes a profile with everything hanging off it
type Deleter interface {
	Delete(ctx context.Context, actor services.Actor, profileID string) (*services.DeletionReport, error)
}

// Handlers serves /api/v1/profiles
type Handlers struct {
	cfg      *config.Config
	profiles *repositories.ProfileRepository
	deleter  Deleter
	store    storage.Storage
	notifier services.Notifier
}

// NewHandlers creates the profile handlers
func NewHandlers(cfg *config.Config, profiles *repositories.ProfileRepository, deleter Deleter, store storage.Storage, notifier services.Notifier) *Handlers {
	return &Handlers{
		cfg:      cfg,
		profiles: profiles,
		deleter:  deleter,
		store:    store,
		notifier: notifier,
	}
}

// ProfileView is a profile with its instruments, gallery and resolved image URLs
type ProfileView struct {
	*models.Profile
	AvatarURL   string                     `json:"avatar_url,omitempty"`
	Instruments []models.ProfileInstrument `json:"instruments"`
	Gallery     []GalleryItemView          `json:"gallery"`
}

// GalleryItemView is a gallery row with its URL
type GalleryItemView struct {
	models.GalleryItem
	URL string `json:"url"`
}

func (h *Handlers) view(ctx context.Context, p *models.Profile) (*ProfileView, error) {
	instruments, err := h.profiles.ListInstruments(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	items, err := h.profiles.ListGallery(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	gallery := make([]GalleryItemView, 0, len(items))
	for _, it := range items {
		gallery = append(gallery, GalleryItemView{GalleryItem: it, URL: apiutil.ObjectURL(ctx, h.store, it.StorageKey)})
	}
	return &ProfileView{
		Profile:     p,
		AvatarURL:   apiutil.OptionalURL(ctx, h.store, p.AvatarPath),
		Instruments: instruments,
		Gallery:     gallery,
	}, nil
}

func (h *Handlers) respondProfile(c *gin.Context, id string) {
	ctx := c.Request.Context()
	p, err := h.profiles.GetByID(ctx, id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if p == nil {
		apierr.Respond(c, domain.ErrProfileNotFound)
		return
	}
	v, err := h.view(ctx, p)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GetMine returns the caller's profile
// GET /api/v1/profiles/me
func (h *Handlers) GetMine(c *gin.Context) {
	h.respondProfile(c, middleware.AccountID(c))
}

// Get returns a public profile
// GET /api/v1/profiles/:id
func (h *Handlers) Get(c *gin.Context) {
	h.respondProfile(c, c.Param("id"))
}

// Search lists complete profiles
// GET /api/v1/profiles?category=&role=&city=&q=&page=&per_page=
func (h *Handlers) Search(c *gin.Context) {
	page := apiutil.ParsePage(c)
	found, total, err := h.profiles.Search(c.Request.Context(), models.ProfileFilter{
		Category: c.Query("category"),
		Role:     strings.TrimSpace(c.Query("role")),
		City:     strings.TrimSpace(c.Query("city")),
		Query:    c.Query("q"),
		Limit:    page.PerPage,
		Offset:   page.Offset(),
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	type listItem struct {
		models.Profile
		AvatarURL string `json:"avatar_url,omitempty"`
	}
	out := make([]listItem, 0, len(found))
	for _, p := range found {
		out = append(out, listItem{Profile: p, AvatarURL: apiutil.OptionalURL(c.Request.Context(), h.store, p.AvatarPath)})
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out, "pagination": page.Body(total)})
}

type upsertRequest struct {
	DisplayName string   `json:"display_name" binding:"required,max=120"`
	Category    string   `json:"category" binding:"required,oneof=person band place crew"`
	Roles       []string `json:"roles" binding:"max=10,dive,max=40"`
	Bio         string   `json:"bio" binding:"max=4000"`
	City        string   `json:"city" binding:"max=80"`
}

// normalizeRoles trims, lower-cases and de-duplicates roles
func normalizeRoles(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	if len(out) > maxRoles {
		out = out[:maxRoles]
	}
	return out
}

// Upsert creates the caller's profile on first save and updates it afterwards
// PUT /api/v1/profiles/me
func (h *Handlers) Upsert(c *gin.Context) {
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		apierr.Respond(c, domain.Invalid("display_name", "نام نمایشی الزامی است."))
		return
	}

	id := middleware.AccountID(c)
	_, existed := c.Get(middleware.ContextProfile)
	p := &models.Profile{
		ID:          id,
		DisplayName: name,
		Category:    req.Category,
		Roles:       normalizeRoles(req.Roles),
		Bio:         strings.TrimSpace(req.Bio),
		City:        strings.TrimSpace(req.City),
	}
	if err := h.profiles.Upsert(c.Request.Context(), p); err != nil {
		apierr.Respond(c, err)
		return
	}

	action := "profile.update"
	status := http.StatusOK
	if !existed {
		action = "profile.create"
		status = http.StatusCreated
	}
	middleware.Audit(c, action, "profile", id, map[string]interface{}{"category": p.Category})
	h.notifier.Refresh("profiles", id, realtime.ProfileTopic(id))
	c.JSON(status, p)
}

type instrumentInput struct {
	Instrument string `json:"instrument" binding:"required,max=60"`
	SkillLevel string `json:"skill_level" binding:"omitempty,oneof=beginner intermediate advanced professional"`
}

type instrumentsRequest struct {
	Instruments []instrumentInput `json:"instruments" binding:"max=20,dive"`
}

// ReplaceInstruments swaps the caller's instrument set
// PUT /api/v1/profiles/me/instruments
func (h *Handlers) ReplaceInstruments(c *gin.Context) {
	var req instrumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Binding(c, err)
		return
	}

	id := middleware.ProfileID(c)
	items := make([]models.ProfileInstrument, 0, len(req.Instruments))
	seen := make(map[string]bool, len(req.Instruments))
	for _, in := range req.Instruments {
		name := strings.TrimSpace(in.Instrument)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		level := in.SkillLevel
		if level == "" {
			level = "intermediate"
		}
		items = append(items, models.ProfileInstrument{ProfileID: id, Instrument: name, SkillLevel: level})
	}
	if len(items) > maxInstruments {
		items = items[:maxInstruments]
	}

	ctx := c.Request.Context()
	if err := h.profiles.ReplaceInstruments(ctx, id, items); err != nil {
		apierr.Respond(c, err)
		return
	}
	saved, err := h.profiles.ListInstruments(ctx, id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	middleware.Audit(c, "profile.instruments", "profile", id, map[string]interface{}{"count": len(items)})
	h.notifier.Refresh("profile_instruments", id, realtime.ProfileTopic(id))
	c.JSON(http.StatusOK, gin.H{"instruments": saved})
}

// DeleteGalleryItem removes one of the caller's gallery images
// DELETE /api/v1/profiles/me/gallery/:itemId
func (h *Handlers) DeleteGalleryItem(c *gin.Context) {
	id := middleware.ProfileID(c)
	ctx := c.Request.Context()
	item, err := h.profiles.DeleteGalleryItem(ctx, id, c.Param("itemId"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if item == nil {
		apierr.NotFound(c)
		return
	}
	storage.DeleteQuietly(ctx, h.store, "gallery_delete", item.StorageKey)

	middleware.Audit(c, "gallery.delete", "profile", id, map[string]interface{}{"item_id": item.ID})
	h.notifier.Refresh("profile_gallery", item.ID, realtime.ProfileTopic(id))
	c.Status(http.StatusNoContent)
}

// DeleteMine removes the caller's profile and account and signs them out
// DELETE /api/v1/profiles/me
func (h *Handlers) DeleteMine(c *gin.Context) {
	id := middleware.AccountID(c)
	actor := services.Actor{ProfileID: id, Admin: middleware.IsAdmin(c)}
	report, err := h.deleter.Delete(c.Request.Context(), actor, id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	apiutil.ClearSessionCookie(c, h.cfg)
	middleware.Audit(c, "profile.delete", "profile", id, map[string]interface{}{
		"initiator":        "self",
		"storage_removed":  report.StorageRemoved,
		"storage_failures": len(report.StorageFailures),
	})
	c.JSON(http.StatusOK, report)
}
