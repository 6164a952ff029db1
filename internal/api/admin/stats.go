// stats.go implements the admin dashboard counters.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/db/models"
)

// StatusCounter is any repository able to count its rows per status or category
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// CategoryCounter counts profiles per category
type CategoryCounter interface {
	CountByCategory(ctx context.Context) (map[string]int, error)
}

// StatsHandler serves the dashboard statistics
type StatsHandler struct {
	profiles    CategoryCounter
	events      StatusCounter
	messages    StatusCounter
	memberships map[string]StatusCounter
}

// NewStatsHandler creates a stats handler. memberships is keyed by relationship kind.
func NewStatsHandler(profiles CategoryCounter, events, messages StatusCounter, memberships map[string]StatusCounter) *StatsHandler {
	return &StatsHandler{profiles: profiles, events: events, messages: messages, memberships: memberships}
}

// DashboardStats is the response of GetDashboardStats
type DashboardStats struct {
	PendingEvents int                       `json:"pending_events"`
	NewMessages   int                       `json:"new_messages"`
	Profiles      map[string]int            `json:"profiles"`
	Events        map[string]int            `json:"events"`
	Messages      map[string]int            `json:"messages"`
	Memberships   map[string]map[string]int `json:"memberships"`
}

// GetDashboardStats runs every count concurrently
// GET /api/v1/admin/stats
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	var stats DashboardStats
	kinds := make([]string, 0, len(h.memberships))
	counts := make([]map[string]int, len(h.memberships))
	for kind := range h.memberships {
		kinds = append(kinds, kind)
	}

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() (err error) {
		stats.Profiles, err = h.profiles.CountByCategory(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.Events, err = h.events.CountByStatus(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.Messages, err = h.messages.CountByStatus(ctx)
		return err
	})
	for i, kind := range kinds {
		g.Go(func() (err error) {
			counts[i], err = h.memberships[kind].CountByStatus(ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		apierr.Respond(c, err)
		return
	}

	stats.Memberships = make(map[string]map[string]int, len(kinds))
	for i, kind := range kinds {
		stats.Memberships[kind] = counts[i]
	}
	stats.PendingEvents = stats.Events[models.EventStatusPending]
	stats.NewMessages = stats.Messages[models.MessageStatusNew]
	c.JSON(http.StatusOK, stats)
}
