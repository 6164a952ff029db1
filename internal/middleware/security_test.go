package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func securityHeaders(cfg SecurityHeadersConfig, status int) http.Header {
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(status) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w.Header()
}

// ---------------------------------------------------------------------------
// SecurityHeadersMiddleware
// ---------------------------------------------------------------------------

func TestSecurityHeaders_API(t *testing.T) {
	h := securityHeaders(APISecurityHeadersConfig(true), http.StatusOK)

	want := map[string]string{
		"Strict-Transport-Security":    "max-age=31536000; includeSubDomains",
		"X-Frame-Options":              "DENY",
		"X-Content-Type-Options":       "nosniff",
		"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":              "no-referrer",
		"Cross-Origin-Resource-Policy": "same-origin",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestSecurityHeaders_NoHSTSWithoutTLS(t *testing.T) {
	h := securityHeaders(APISecurityHeadersConfig(false), http.StatusOK)
	if got := h.Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS set without TLS: %q", got)
	}
}

func TestSecurityHeaders_Files(t *testing.T) {
	h := securityHeaders(FileSecurityHeadersConfig(false), http.StatusOK)
	if got := h.Get("Cross-Origin-Resource-Policy"); got != "cross-origin" {
		t.Errorf("CORP = %q, want cross-origin", got)
	}
	if got := h.Get("Content-Security-Policy"); got == "" {
		t.Error("files must carry a CSP")
	}
}

func TestSecurityHeaders_OnErrors(t *testing.T) {
	h := securityHeaders(APISecurityHeadersConfig(true), http.StatusInternalServerError)
	if h.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("headers missing on error response")
	}
}
