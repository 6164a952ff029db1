package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/audit"
	"github.com/bandyab/bandyab/internal/config"
)

const auditMarkKey = "audit_mark"

type auditMark struct {
	action       string
	resourceType string
	resourceID   string
	metadata     map[string]interface{}
}

// Audit names the action a handler performed. The audit middleware records it once
// the response has been written.
func Audit(c *gin.Context, action, resourceType, resourceID string, metadata map[string]interface{}) {
	c.Set(auditMarkKey, &auditMark{action: action, resourceType: resourceType, resourceID: resourceID, metadata: metadata})
}

// AuditRecorder is satisfied by *audit.Recorder
type AuditRecorder interface {
	Record(entry *audit.LogEntry)
}

// AuditMiddleware records mutations. Handlers that call Audit get their named action;
// other successful writes are recorded as "<METHOD> <route>". Reads are never recorded
// and failed requests only when log_failed_requests is set.
func AuditMiddleware(recorder AuditRecorder, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if recorder == nil || (cfg != nil && !cfg.Enabled) {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		status := c.Writer.Status()
		if status >= 400 && (cfg == nil || !cfg.LogFailedRequests) {
			return
		}

		entry := &audit.LogEntry{
			ActorID:    ProfileID(c),
			IPAddress:  c.ClientIP(),
			RequestID:  c.GetString(RequestIDKey),
			StatusCode: status,
		}
		if entry.ActorID == "" {
			entry.ActorID = AccountID(c)
		}

		if v, ok := c.Get(auditMarkKey); ok {
			m := v.(*auditMark)
			entry.Action = m.action
			entry.ResourceType = m.resourceType
			entry.ResourceID = m.resourceID
			entry.Metadata = m.metadata
		} else {
			route := c.FullPath()
			if route == "" {
				route = c.Request.URL.Path
			}
			entry.Action = c.Request.Method + " " + route
			entry.ResourceType = resourceFromRoute(route)
		}
		recorder.Record(entry)
	}
}

// resourceFromRoute picks the first path segment after /api/v1 (and /admin)
func resourceFromRoute(route string) string {
	parts := strings.Split(strings.Trim(route, "/"), "/")
	for _, p := range parts {
		switch p {
		case "", "api", "v1", "admin":
			continue
		}
		if strings.HasPrefix(p, ":") {
			return ""
		}
		return p
	}
	return ""
}
