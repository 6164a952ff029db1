package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/storage"
)

// Pinger is satisfied by *sql.DB and *sqlx.DB
type Pinger interface {
	Ping() error
}

// healthCheckHandler is the liveness probe
// GET /health
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler also probes the storage backend so a readiness gate fails when
// uploads would error.
// GET /ready
func readinessHandler(db Pinger, store storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Exists on a sentinel key exercises credentials and connectivity without
		// creating state.
		if _, err := store.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the build version
// GET /version
func versionHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     version,
			"api_version": "v1",
		})
	}
}

// clientConfigHandler returns the public keys the frontend needs at startup
// GET /api/v1/client-config
func clientConfigHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		captcha := gin.H{"enabled": cfg.Captcha.Enabled}
		if cfg.Captcha.Enabled {
			captcha["site_key"] = cfg.Captcha.SiteKey
		}
		c.JSON(http.StatusOK, gin.H{
			"captcha":       captcha,
			"maps_api_key":  cfg.Maps.APIKey,
			"oidc_enabled":  cfg.Auth.OIDC.Enabled,
			"max_upload_mb": cfg.Storage.MaxUploadBytes >> 20,
			"realtime":      cfg.Realtime.Enabled,
		})
	}
}

// serveFileHandler streams objects of the local backend when serve_directly is set
// GET /files/*filepath
func serveFileHandler(store storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("filepath"), "/")
		if key == "" {
			apierr.NotFound(c)
			return
		}

		ctx := c.Request.Context()
		meta, err := store.GetMetadata(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			apierr.NotFound(c)
			return
		}
		if err != nil {
			apierr.Respond(c, err)
			return
		}

		reader, err := store.Download(ctx, key)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		defer reader.Close()

		contentType := meta.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Cache-Control", "public, max-age=86400")
		c.Header("ETag", `"`+meta.Checksum+`"`)
		c.DataFromReader(http.StatusOK, meta.Size, contentType, reader, nil)
	}
}
