package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/auth"
)

func contextScopes(c *gin.Context) ([]string, bool) {
	v, ok := c.Get(ContextScopes)
	if !ok {
		return nil, false
	}
	scopes, ok := v.([]string)
	return scopes, ok
}

// RequireScope aborts with 403 unless the caller holds scope (or admin)
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes, ok := contextScopes(c)
		if !ok || !auth.HasScope(scopes, scope) {
			apierr.Forbidden(c)
			return
		}
		c.Next()
	}
}

// RequireAnyScope aborts with 403 unless the caller holds at least one of scopes
func RequireAnyScope(scopes ...auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		held, ok := contextScopes(c)
		if !ok || !auth.HasAnyScope(held, scopes) {
			apierr.Forbidden(c)
			return
		}
		c.Next()
	}
}

// RequireAdmin aborts with 403 unless the caller is an admin
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes, ok := contextScopes(c)
		if !ok || !auth.IsAdmin(scopes) {
			apierr.Forbidden(c)
			return
		}
		c.Next()
	}
}
