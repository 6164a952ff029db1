package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware writes one structured line per request. Health probes are logged
// at debug so they do not drown the access log.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"request_id", c.GetString(RequestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		}
		if id := AccountID(c); id != "" {
			attrs = append(attrs, "account_id", id)
		}

		switch {
		case status >= 500:
			slog.Error("request", attrs...)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/ready":
			slog.Debug("request", attrs...)
		default:
			slog.Info("request", attrs...)
		}
	}
}
