package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/services"
)

// gin.Context keys set by the auth middleware
const (
	ContextAccount   = "account"
	ContextAccountID = "account_id"
	ContextProfile   = "profile"
	ContextProfileID = "profile_id"
	ContextIsAdmin   = "is_admin"
	ContextScopes    = "scopes"
)

// AccountID returns the signed-in account id, or "" for anonymous requests
func AccountID(c *gin.Context) string {
	return c.GetString(ContextAccountID)
}

// ProfileID returns the signed-in profile id, or "" when there is none
func ProfileID(c *gin.Context) string {
	return c.GetString(ContextProfileID)
}

// Account returns the signed-in account
func Account(c *gin.Context) *models.Account {
	v, ok := c.Get(ContextAccount)
	if !ok {
		return nil
	}
	a, _ := v.(*models.Account)
	return a
}

// Profile returns the signed-in profile
func Profile(c *gin.Context) *models.Profile {
	v, ok := c.Get(ContextProfile)
	if !ok {
		return nil
	}
	p, _ := v.(*models.Profile)
	return p
}

// IsAdmin reports whether the caller's profile is an admin
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextIsAdmin)
}

// Actor builds the service-layer actor for the caller
func Actor(c *gin.Context) services.Actor {
	return services.Actor{ProfileID: ProfileID(c), Admin: IsAdmin(c)}
}
