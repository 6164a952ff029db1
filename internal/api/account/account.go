// Package account implements the sign-up, sign-in and session endpoints: password
// accounts, phone one-time codes, OIDC sign-in and CAPTCHA checks.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bandyab/bandyab/internal/api/apiutil"
	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/auth"
	"github.com/bandyab/bandyab/internal/auth/oidc"
	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/crypto"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/otp"
)

const (
	defaultSessionTTL  = 24 * time.Hour
	defaultMinPassword = 8

	stateCookie     = "oidc_state"
	stateCookieTTL  = 10 * time.Minute
	stateCookiePath = "/api/v1/auth/oidc"
)

// CodeService sends and checks phone one-time codes
type CodeService interface {
	Send(ctx context.Context, rawPhone string) (string, error)
	Verify(ctx context.Context, rawPhone, code string) (string, error)
	TTL() time.Duration
}

// CaptchaVerifier checks a CAPTCHA response token
type CaptchaVerifier interface {
	Enabled() bool
	Verify(ctx context.Context, token, remoteIP string) error
}

// IdentityProvider is the OIDC provider used for external sign-in
type IdentityProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oidc.Identity, error)
}

// Handlers serves the /api/v1/auth endpoints
type Handlers struct {
	cfg      *config.Config
	accounts *repositories.AccountRepository
	profiles *repositories.ProfileRepository
	cipher   *crypto.FieldCipher
	codes    CodeService
	captcha  CaptchaVerifier
	idp      IdentityProvider
}

// NewHandlers creates the auth handlers. captcha may be nil when CAPTCHA is not configured.
func NewHandlers(cfg *config.Config, accounts *repositories.AccountRepository, profiles *repositories.ProfileRepository, cipher *crypto.FieldCipher, codes CodeService, captcha CaptchaVerifier) *Handlers {
	return &Handlers{
		cfg:      cfg,
		accounts: accounts,
		profiles: profiles,
		cipher:   cipher,
		codes:    codes,
		captcha:  captcha,
	}
}

// SetIdentityProvider enables OIDC sign-in
func (h *Handlers) SetIdentityProvider(p IdentityProvider) {
	h.idp = p
}

func (h *Handlers) sessionTTL() time.Duration {
	if h.cfg.Auth.SessionTTL > 0 {
		return h.cfg.Auth.SessionTTL
	}
	return defaultSessionTTL
}

func (h *Handlers) minPassword() int {
	if h.cfg.Auth.MinPasswordLength > 0 {
		return h.cfg.Auth.MinPasswordLength
	}
	return defaultMinPassword
}

// checkCaptcha verifies token when CAPTCHA is configured
func (h *Handlers) checkCaptcha(c *gin.Context, token string) error {
	if h.captcha == nil || !h.captcha.Enabled() {
		return nil
	}
	return h.captcha.Verify(c.Request.Context(), token, c.ClientIP())
}

// issueSession signs a token for acc, sets the session cookie and returns the body
// shared by every sign-in endpoint.
func (h *Handlers) issueSession(c *gin.Context, acc *models.Account) (gin.H, error) {
	ttl := h.sessionTTL()
	token, err := auth.GenerateJWT(acc.ID, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}
	apiutil.SetSessionCookie(c, h.cfg, token, ttl)

	profile, err := h.profiles.GetByID(c.Request.Context(), acc.ID)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"token":      token,
		"expires_in": int(ttl.Seconds()),
		"account":    acc,
		"profile":    profile,
	}, nil
}

func (h *Handlers) touch(ctx context.Context, accountID string) {
	if err := h.accounts.TouchSignIn(ctx, accountID); err != nil {
		slog.Warn("failed to record sign-in", "account_id", accountID, "error", err)
	}
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUpHandler creates a password account and signs it in
// POST /api/v1/auth/signup
func (h *Handlers) SignUpHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Binding(c, err)
			return
		}
		if len([]rune(req.Password)) < h.minPassword() {
			apierr.Respond(c, domain.Invalid("password", fmt.Sprintf("رمز عبور باید حداقل %d نویسه باشد.", h.minPassword())))
			return
		}

		ctx := c.Request.Context()
		email := normalizeEmail(req.Email)
		existing, err := h.accounts.GetByEmail(ctx, email)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		if existing != nil {
			apierr.Respond(c, domain.ErrAccountExists)
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		acc := &models.Account{Email: &email, PasswordHash: &hash}
		if err := h.accounts.Create(ctx, acc); err != nil {
			apierr.Respond(c, err)
			return
		}

		body, err := h.issueSession(c, acc)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		middleware.Audit(c, "account.signup", "account", acc.ID, map[string]interface{}{"method": "password"})
		c.JSON(http.StatusCreated, body)
	}
}

// SignInHandler signs in with email and password
// POST /api/v1/auth/signin
func (h *Handlers) SignInHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Binding(c, err)
			return
		}

		ctx := c.Request.Context()
		acc, err := h.accounts.GetByEmail(ctx, normalizeEmail(req.Email))
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		if acc == nil || !acc.HasPassword() || !auth.CheckPassword(req.Password, *acc.PasswordHash) {
			apierr.Respond(c, domain.ErrInvalidCredentials)
			return
		}

		h.touch(ctx, acc.ID)
		body, err := h.issueSession(c, acc)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

type otpSendRequest struct {
	Phone        string `json:"phone" binding:"required"`
	CaptchaToken string `json:"captcha_token"`
}

// SendCodeHandler texts a one-time code to a mobile number
// POST /api/v1/auth/otp/send
func (h *Handlers) SendCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req otpSendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Binding(c, err)
			return
		}
		if err := h.checkCaptcha(c, req.CaptchaToken); err != nil {
			apierr.Respond(c, err)
			return
		}

		phone, err := h.codes.Send(c.Request.Context(), req.Phone)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"phone":      otp.MaskPhone(phone),
			"expires_in": int(h.codes.TTL().Seconds()),
		})
	}
}

type otpVerifyRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// VerifyCodeHandler checks a one-time code. A signed-in caller gets the phone attached
// to their account; otherwise the phone's account is signed in, created on first use.
// POST /api/v1/auth/otp/verify
func (h *Handlers) VerifyCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req otpVerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Binding(c, err)
			return
		}

		ctx := c.Request.Context()
		phone, err := h.codes.Verify(ctx, req.Phone, strings.TrimSpace(req.Code))
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		sealed, err := h.cipher.Seal(phone)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		phoneHash := h.cipher.Hash(phone)

		existing, err := h.accounts.GetByPhoneHash(ctx, phoneHash)
		if err != nil {
			apierr.Respond(c, err)
			return
		}

		if accountID := middleware.AccountID(c); accountID != "" {
			if existing != nil && existing.ID != accountID {
				apierr.Respond(c, domain.ErrAccountExists)
				return
			}
			if err := h.accounts.SetPhone(ctx, accountID, sealed, phoneHash); err != nil {
				apierr.Respond(c, err)
				return
			}
			middleware.Audit(c, "account.phone_attach", "account", accountID, nil)
			c.JSON(http.StatusOK, gin.H{"phone": otp.MaskPhone(phone), "attached": true})
			return
		}

		status := http.StatusOK
		acc := existing
		if acc == nil {
			acc = &models.Account{PhoneEncrypted: &sealed, PhoneHash: &phoneHash}
			if err := h.accounts.Create(ctx, acc); err != nil {
				apierr.Respond(c, err)
				return
			}
			status = http.StatusCreated
			middleware.Audit(c, "account.signup", "account", acc.ID, map[string]interface{}{"method": "phone"})
		} else {
			h.touch(ctx, acc.ID)
		}

		body, err := h.issueSession(c, acc)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		c.JSON(status, body)
	}
}

// OIDCLoginHandler redirects the browser to the identity provider
// GET /api/v1/auth/oidc/login
func (h *Handlers) OIDCLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.idp == nil {
			apierr.NotFound(c)
			return
		}
		state, err := auth.RandomToken(32)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(stateCookie, state, int(stateCookieTTL.Seconds()), stateCookiePath, h.cfg.Server.CookieDomain, h.cfg.Server.CookieSecure, true)
		c.Redirect(http.StatusFound, h.idp.AuthURL(state))
	}
}

// OIDCCallbackHandler completes OIDC sign-in and redirects back to the frontend
// GET /api/v1/auth/oidc/callback?code=...&state=...
func (h *Handlers) OIDCCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.idp == nil {
			apierr.NotFound(c)
			return
		}
		frontend := h.cfg.Server.GetFrontendURL()
		fail := func(reason string) {
			c.Redirect(http.StatusFound, frontend+"/login?error="+reason)
		}

		expected, _ := c.Cookie(stateCookie)
		c.SetCookie(stateCookie, "", -1, stateCookiePath, h.cfg.Server.CookieDomain, h.cfg.Server.CookieSecure, true)

		if e := c.Query("error"); e != "" {
			slog.Info("identity provider returned an error", "error", e, "description", c.Query("error_description"))
			fail("provider_error")
			return
		}
		state := c.Query("state")
		if state == "" || expected == "" || !crypto.Equal(state, expected) {
			fail("invalid_state")
			return
		}
		code := c.Query("code")
		if code == "" {
			fail("missing_code")
			return
		}

		ctx := c.Request.Context()
		id, err := h.idp.Exchange(ctx, code)
		if err != nil {
			slog.Warn("oidc code exchange failed", "error", err)
			fail("exchange_failed")
			return
		}
		email := ""
		if id.EmailVerified {
			email = normalizeEmail(id.Email)
		}

		acc, created, err := h.accounts.GetOrCreateByOIDC(ctx, id.Subject, email)
		if err != nil {
			slog.Error("failed to resolve oidc account", "error", err)
			fail("internal")
			return
		}
		h.touch(ctx, acc.ID)

		token, err := auth.GenerateJWT(acc.ID, h.sessionTTL())
		if err != nil {
			slog.Error("failed to sign session", "error", err)
			fail("internal")
			return
		}
		apiutil.SetSessionCookie(c, h.cfg, token, h.sessionTTL())
		if created {
			middleware.Audit(c, "account.signup", "account", acc.ID, map[string]interface{}{"method": "oidc"})
			c.Redirect(http.StatusFound, frontend+"/auth/callback?new=1")
			return
		}
		c.Redirect(http.StatusFound, frontend+"/auth/callback")
	}
}

// RefreshHandler issues a fresh session for the signed-in account
// POST /api/v1/auth/refresh
func (h *Handlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		acc := middleware.Account(c)
		if acc == nil {
			apierr.Unauthorized(c)
			return
		}
		ttl := h.sessionTTL()
		token, err := auth.GenerateJWT(acc.ID, ttl)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		apiutil.SetSessionCookie(c, h.cfg, token, ttl)
		c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int(ttl.Seconds())})
	}
}

// MeHandler returns the signed-in account, its profile and scopes
// GET /api/v1/auth/me
func (h *Handlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		acc := middleware.Account(c)
		if acc == nil {
			apierr.Unauthorized(c)
			return
		}
		scopes, _ := c.Get(middleware.ContextScopes)

		body := gin.H{
			"account":      acc,
			"profile":      middleware.Profile(c),
			"scopes":       scopes,
			"has_password": acc.HasPassword(),
		}
		if acc.PhoneEncrypted != nil {
			phone, err := h.cipher.Open(*acc.PhoneEncrypted)
			if err != nil {
				slog.Warn("failed to open stored phone", "account_id", acc.ID, "error", err)
			} else {
				body["phone"] = otp.MaskPhone(phone)
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// SignOutHandler clears the session cookie
// POST /api/v1/auth/signout
func (h *Handlers) SignOutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiutil.ClearSessionCookie(c, h.cfg)
		c.JSON(http.StatusOK, gin.H{"message": "خروج انجام شد."})
	}
}

type captchaRequest struct {
	Token string `json:"token" binding:"required"`
}

// CaptchaVerifyHandler checks a CAPTCHA token with the provider
// POST /api/v1/captcha/verify
func (h *Handlers) CaptchaVerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req captchaRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Binding(c, err)
			return
		}
		err := h.checkCaptcha(c, req.Token)
		if errors.Is(err, domain.ErrCaptchaFailed) {
			c.JSON(http.StatusOK, gin.H{"success": false})
			return
		}
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
