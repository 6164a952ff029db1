// Package middleware provides the Gin middleware shared by every route: request ids,
// metrics, security headers, CORS, rate limiting, session authentication, scope checks
// and audit recording.
//
// Ordering is fixed in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → CORS → RateLimit → Auth → RBAC → Audit → Handler
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/auth"
	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/db/repositories"
)

// DefaultSessionCookie is used when auth.session_cookie_name is unset
const DefaultSessionCookie = "session"

// SessionCookieName returns the configured session cookie name
func SessionCookieName(cfg *config.Config) string {
	if cfg != nil && cfg.Auth.SessionCookieName != "" {
		return cfg.Auth.SessionCookieName
	}
	return DefaultSessionCookie
}

// sessionToken reads the token from the Authorization header, falling back to the
// session cookie. The second result reports whether any credential was presented.
func sessionToken(c *gin.Context, cookieName string) (string, bool) {
	if h := c.GetHeader("Authorization"); h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return "", true
		}
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), true
	}
	if v, err := c.Cookie(cookieName); err == nil && v != "" {
		return v, true
	}
	return "", false
}

type authResult int

const (
	authNone authResult = iota
	authOK
	authRejected
	authFailed
)

// authenticate resolves the caller and stores the identity on the context
func authenticate(c *gin.Context, cfg *config.Config, accounts *repositories.AccountRepository, profiles *repositories.ProfileRepository) (authResult, error) {
	token, presented := sessionToken(c, SessionCookieName(cfg))
	if !presented {
		return authNone, nil
	}
	if token == "" {
		return authRejected, nil
	}

	claims, err := auth.ValidateJWT(token)
	if err != nil {
		return authRejected, nil
	}

	ctx := c.Request.Context()
	account, err := accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		return authFailed, err
	}
	if account == nil {
		return authRejected, nil
	}

	profile, err := profiles.GetByID(ctx, account.ID)
	if err != nil {
		return authFailed, err
	}

	SetIdentity(c, account, profile)
	return authOK, nil
}

// SetIdentity stores the caller on the context the way the auth middleware does
func SetIdentity(c *gin.Context, account *models.Account, profile *models.Profile) {
	isAdmin := profile != nil && profile.IsAdmin
	c.Set(ContextAccount, account)
	c.Set(ContextAccountID, account.ID)
	if profile != nil {
		c.Set(ContextProfile, profile)
		c.Set(ContextProfileID, profile.ID)
	}
	c.Set(ContextIsAdmin, isAdmin)
	c.Set(ContextScopes, auth.ScopesFor(isAdmin))
}

// AuthMiddleware requires a valid session (Bearer token or session cookie).
// Scopes are derived from the profile on every request so that granting or revoking
// admin takes effect without reissuing tokens.
func AuthMiddleware(cfg *config.Config, accounts *repositories.AccountRepository, profiles *repositories.ProfileRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := authenticate(c, cfg, accounts, profiles)
		switch res {
		case authOK:
			c.Next()
		case authFailed:
			apierr.Respond(c, err)
		default:
			apierr.Unauthorized(c)
		}
	}
}

// OptionalAuthMiddleware loads the caller when a valid session is presented and
// otherwise continues anonymously. Database failures still abort with 500.
func OptionalAuthMiddleware(cfg *config.Config, accounts *repositories.AccountRepository, profiles *repositories.ProfileRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := authenticate(c, cfg, accounts, profiles)
		if res == authFailed {
			apierr.Respond(c, err)
			return
		}
		c.Next()
	}
}

// RequireProfile aborts with 403 when the signed-in account has not created its
// profile yet
func RequireProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ProfileID(c) == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "ابتدا پروفایل خود را تکمیل کنید."})
			return
		}
		c.Next()
	}
}
