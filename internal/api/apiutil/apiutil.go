// Package apiutil holds the request helpers shared by the HTTP handler packages:
// pagination, image uploads and the session cookie.
package apiutil

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/storage"
	"github.com/bandyab/bandyab/internal/telemetry"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100

	// DefaultMaxUploadBytes applies when storage.max_upload_bytes is unset
	DefaultMaxUploadBytes int64 = 5 << 20

	// URLTTL is how long signed object URLs stay valid
	URLTTL = time.Hour
)

// Page is a parsed page/per_page query
type Page struct {
	Page    int
	PerPage int
}

// Offset returns the row offset of the page
func (p Page) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Body builds the pagination object returned next to a list
func (p Page) Body(total int) gin.H {
	return gin.H{"page": p.Page, "per_page": p.PerPage, "total": total}
}

// ParsePage reads page and per_page, clamping them to sane values
func ParsePage(c *gin.Context) Page {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(DefaultPerPage)))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return Page{Page: page, PerPage: perPage}
}

// MaxUploadBytes returns the configured upload limit
func MaxUploadBytes(cfg *config.Config) int64 {
	if cfg == nil || cfg.Storage.MaxUploadBytes <= 0 {
		return DefaultMaxUploadBytes
	}
	return cfg.Storage.MaxUploadBytes
}

// Uploaded is the response body of every upload proxy
type Uploaded struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// StoreImage reads the multipart "file" field, verifies it is an accepted image and
// stores it under <bucket>/<ownerID>/<uuid><ext>.
func StoreImage(c *gin.Context, cfg *config.Config, store storage.Storage, bucket, ownerID string) (*Uploaded, error) {
	limit := MaxUploadBytes(cfg)
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, domain.ErrFileTooLarge
		}
		return nil, domain.Invalid("file", "فایل ارسال نشده است.")
	}
	if fh.Size > limit {
		return nil, domain.ErrFileTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := storage.DetectImage(f)
	if err != nil {
		return nil, err
	}

	key := storage.ObjectKey(bucket, ownerID, img.Ext)
	if _, err := store.Upload(c.Request.Context(), key, img.Body, fh.Size, img.ContentType); err != nil {
		return nil, err
	}
	telemetry.UploadsTotal.WithLabelValues(bucket).Inc()
	telemetry.UploadBytes.Observe(float64(fh.Size))

	return &Uploaded{Path: key, URL: ObjectURL(c.Request.Context(), store, key)}, nil
}

// LimitBody caps the request body of an upload route. The limit leaves room for the
// multipart envelope around the file.
func LimitBody(cfg *config.Config) gin.HandlerFunc {
	limit := MaxUploadBytes(cfg) + 64<<10
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// ObjectURL resolves a browser URL for key. Failures are logged and yield "".
func ObjectURL(ctx context.Context, store storage.Storage, key string) string {
	if key == "" {
		return ""
	}
	u, err := store.GetURL(ctx, key, URLTTL)
	if err != nil {
		slog.Warn("failed to resolve object url", "key", key, "error", err)
		return ""
	}
	return u
}

// OptionalURL is ObjectURL for a nullable key column
func OptionalURL(ctx context.Context, store storage.Storage, key *string) string {
	if key == nil {
		return ""
	}
	return ObjectURL(ctx, store, *key)
}

// SetSessionCookie stores the session token in an HttpOnly cookie
func SetSessionCookie(c *gin.Context, cfg *config.Config, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName(cfg), token, int(ttl.Seconds()), "/", cfg.Server.CookieDomain, cfg.Server.CookieSecure, true)
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie(c *gin.Context, cfg *config.Config) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName(cfg), "", -1, "/", cfg.Server.CookieDomain, cfg.Server.CookieSecure, true)
}
