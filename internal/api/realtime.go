package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/realtime"
)

const maxTopics = 20

// Subscriber upgrades a request into a change feed for topics
type Subscriber interface {
	Serve(w http.ResponseWriter, r *http.Request, topics []string)
}

// authorizeTopics parses the comma-separated topic list and checks the caller may
// follow each topic. Per-profile topics are open to their owner and admins only.
func authorizeTopics(c *gin.Context, raw string) ([]string, error) {
	seen := make(map[string]bool)
	topics := make([]string, 0)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true

		switch {
		case t == realtime.TopicEvents, t == realtime.TopicBlog:
		case t == realtime.TopicAdmin:
			if !middleware.IsAdmin(c) {
				return nil, domain.ErrForbidden
			}
		case strings.HasPrefix(t, "profile:"), strings.HasPrefix(t, "messages:"):
			_, id, _ := strings.Cut(t, ":")
			if id == "" {
				return nil, domain.Invalid("topics", "موضوع نامعتبر است: "+t)
			}
			if id != middleware.ProfileID(c) && !middleware.IsAdmin(c) {
				return nil, domain.ErrForbidden
			}
		default:
			return nil, domain.Invalid("topics", "موضوع نامعتبر است: "+t)
		}
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		return nil, domain.Invalid("topics", "حداقل یک موضوع لازم است.")
	}
	if len(topics) > maxTopics {
		return nil, domain.Invalid("topics", "تعداد موضوع‌ها بیش از حد مجاز است.")
	}
	return topics, nil
}

// realtimeHandler streams refresh notifications over a websocket
// GET /api/v1/realtime?topics=events,profile:<id>
func realtimeHandler(sub Subscriber) gin.HandlerFunc {
	return func(c *gin.Context) {
		topics, err := authorizeTopics(c, c.Query("topics"))
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		sub.Serve(c.Writer, c.Request, topics)
	}
}
