// Package captcha verifies client CAPTCHA tokens against a siteverify endpoint
// (reCAPTCHA, hCaptcha and Turnstile all share the same form contract).
package captcha

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/domain"
)

// DefaultVerifyURL is used when no verify_url is configured
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Verifier checks CAPTCHA tokens
type Verifier struct {
	enabled   bool
	secret    string
	verifyURL string
	client    *http.Client
}

// NewVerifier creates a Verifier. A disabled verifier accepts every token.
func NewVerifier(cfg config.CaptchaConfig, client *http.Client) *Verifier {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	verifyURL := cfg.VerifyURL
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	return &Verifier{enabled: cfg.Enabled, secret: cfg.Secret, verifyURL: verifyURL, client: client}
}

// Enabled reports whether tokens are actually checked
func (v *Verifier) Enabled() bool {
	return v.enabled
}

// Verify checks token for the client at remoteIP. It returns domain.ErrCaptchaFailed
// when the provider rejects the token and a wrapped error when the provider cannot
// be reached.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	if !v.enabled {
		return nil
	}
	if strings.TrimSpace(token) == "" {
		return domain.ErrCaptchaFailed
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("captcha provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read captcha response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("captcha provider returned HTTP %d", resp.StatusCode)
	}

	if !gjson.GetBytes(raw, "success").Bool() {
		var codes []string
		for _, c := range gjson.GetBytes(raw, "error-codes").Array() {
			codes = append(codes, c.String())
		}
		slog.Info("captcha rejected", "error_codes", codes)
		return domain.ErrCaptchaFailed
	}
	return nil
}
