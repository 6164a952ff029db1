package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request id in and out
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request id
	RequestIDKey = "request_id"
)

// maxRequestIDLen bounds ids accepted from upstream proxies
const maxRequestIDLen = 128

// RequestIDMiddleware reuses an inbound X-Request-ID (when it is short enough) or
// generates a UUID, stores it under RequestIDKey and echoes it in the response.
// Register it before anything that logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
