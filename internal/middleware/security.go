package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig selects the protective response headers
type SecurityHeadersConfig struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	FrameOptions          string // DENY, SAMEORIGIN or "" to omit
	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
	// CrossOriginResourcePolicy is "same-origin" for the JSON API; served images use
	// "cross-origin" so the frontend on another origin can embed them.
	CrossOriginResourcePolicy string
}

// APISecurityHeadersConfig returns the headers for JSON endpoints
func APISecurityHeadersConfig(tls bool) SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:                tls,
		HSTSMaxAge:                31536000,
		HSTSIncludeSubdomains:     true,
		FrameOptions:              "DENY",
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:            "no-referrer",
		PermissionsPolicy:         "geolocation=(), microphone=(), camera=()",
		CrossOriginResourcePolicy: "same-origin",
	}
}

// FileSecurityHeadersConfig returns the headers for uploaded files served locally
func FileSecurityHeadersConfig(tls bool) SecurityHeadersConfig {
	cfg := APISecurityHeadersConfig(tls)
	cfg.ContentSecurityPolicy = "default-src 'none'; img-src 'self'; sandbox"
	cfg.CrossOriginResourcePolicy = "cross-origin"
	return cfg
}

// SecurityHeadersMiddleware sets the configured headers on every response, errors
// included
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) gin.HandlerFunc {
	hsts := ""
	if cfg.EnableHSTS {
		hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
		if cfg.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if hsts != "" {
			h.Set("Strict-Transport-Security", hsts)
		}
		if cfg.FrameOptions != "" {
			h.Set("X-Frame-Options", cfg.FrameOptions)
		}
		h.Set("X-Content-Type-Options", "nosniff")
		if cfg.ContentSecurityPolicy != "" {
			h.Set("Content-Security-Policy", cfg.ContentSecurityPolicy)
		}
		if cfg.ReferrerPolicy != "" {
			h.Set("Referrer-Policy", cfg.ReferrerPolicy)
		}
		if cfg.PermissionsPolicy != "" {
			h.Set("Permissions-Policy", cfg.PermissionsPolicy)
		}
		if cfg.CrossOriginResourcePolicy != "" {
			h.Set("Cross-Origin-Resource-Policy", cfg.CrossOriginResourcePolicy)
		}
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		c.Next()
	}
}
