package account

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandyab/bandyab/internal/api/apitest"
	"github.com/bandyab/bandyab/internal/auth"
	"github.com/bandyab/bandyab/internal/auth/oidc"
	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/crypto"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
)

func TestMain(m *testing.M) {
	os.Setenv("BANDYAB_JWT_SECRET", "test-jwt-secret-that-is-32-chars!!")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeCodes struct {
	phone   string
	sendErr error
	verErr  error
	sent    []string
}

func (f *fakeCodes) Send(_ context.Context, raw string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, raw)
	return f.phone, nil
}

func (f *fakeCodes) Verify(_ context.Context, _, _ string) (string, error) {
	if f.verErr != nil {
		return "", f.verErr
	}
	return f.phone, nil
}

func (f *fakeCodes) TTL() time.Duration { return 2 * time.Minute }

type fakeCaptcha struct {
	enabled bool
	err     error
	tokens  []string
}

func (f *fakeCaptcha) Enabled() bool { return f.enabled }

func (f *fakeCaptcha) Verify(_ context.Context, token, _ string) error {
	f.tokens = append(f.tokens, token)
	return f.err
}

type fakeIdP struct {
	id  *oidc.Identity
	err error
}

func (f *fakeIdP) AuthURL(state string) string {
	return "https://idp.example.com/auth?state=" + state
}

func (f *fakeIdP) Exchange(_ context.Context, _ string) (*oidc.Identity, error) {
	return f.id, f.err
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	mock    sqlmock.Sqlmock
	h       *Handlers
	codes   *fakeCodes
	captcha *fakeCaptcha
	cipher  *crypto.FieldCipher
	cfg     *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock := apitest.NewDB(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypto.NewFieldCipher(key)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.FrontendURL = "https://bandyab.test"
	cfg.Auth.SessionTTL = time.Hour

	codes := &fakeCodes{phone: "+989121234567"}
	captcha := &fakeCaptcha{}
	h := NewHandlers(cfg, repositories.NewAccountRepository(db), repositories.NewProfileRepository(db), cipher, codes, captcha)
	return &fixture{mock: mock, h: h, codes: codes, captcha: captcha, cipher: cipher, cfg: cfg}
}

func (f *fixture) router(pre ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	g := r.Group("", pre...)
	g.POST("/signup", f.h.SignUpHandler())
	g.POST("/signin", f.h.SignInHandler())
	g.POST("/otp/send", f.h.SendCodeHandler())
	g.POST("/otp/verify", f.h.VerifyCodeHandler())
	g.GET("/oidc/login", f.h.OIDCLoginHandler())
	g.GET("/oidc/callback", f.h.OIDCCallbackHandler())
	g.POST("/refresh", f.h.RefreshHandler())
	g.GET("/me", f.h.MeHandler())
	g.POST("/signout", f.h.SignOutHandler())
	g.POST("/captcha", f.h.CaptchaVerifyHandler())
	return r
}

func (f *fixture) expectNoProfile(id string) {
	f.mock.ExpectQuery("SELECT .* FROM profiles WHERE id = \\$1").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(apitest.ProfileCols))
}

func accountRow(id string, email, passwordHash interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(apitest.AccountCols).
		AddRow(id, email, nil, nil, passwordHash, nil, time.Now(), time.Now(), nil)
}

func sessionCookie(t *testing.T, header http.Header) *http.Cookie {
	t.Helper()
	for _, c := range (&http.Response{Header: header}).Cookies() {
		if c.Name == middleware.DefaultSessionCookie {
			return c
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Password accounts
// ---------------------------------------------------------------------------

func TestSignUp_CreatesAccountAndSession(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT .* FROM accounts WHERE email = \\$1").WithArgs("new@example.com").
		WillReturnRows(sqlmock.NewRows(apitest.AccountCols))
	f.mock.ExpectQuery("INSERT INTO accounts").
		WithArgs("new@example.com", nil, nil, sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("acc-1", time.Now(), time.Now()))
	f.expectNoProfile("acc-1")

	w := apitest.JSON(f.router(), http.MethodPost, "/signup", gin.H{"email": "New@Example.com", "password": "long-enough"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := apitest.Decode(t, w)
	assert.NotEmpty(t, body["token"])
	assert.EqualValues(t, 3600, body["expires_in"])

	cookie := sessionCookie(t, w.Header())
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	claims, err := auth.ValidateJWT(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.AccountID)
}

func TestSignUp_ShortPassword(t *testing.T) {
	f := newFixture(t)
	w := apitest.JSON(f.router(), http.MethodPost, "/signup", gin.H{"email": "a@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, apitest.Decode(t, w)["error"], "8")
}

func TestSignUp_InvalidEmail(t *testing.T) {
	f := newFixture(t)
	w := apitest.JSON(f.router(), http.MethodPost, "/signup", gin.H{"email": "not-an-email", "password": "long-enough"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignUp_ExistingEmail(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT .* FROM accounts WHERE email = \\$1").
		WillReturnRows(accountRow("acc-1", "a@example.com", nil))

	w := apitest.JSON(f.router(), http.MethodPost, "/signup", gin.H{"email": "a@example.com", "password": "long-enough"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignIn(t *testing.T) {
	hash, err := auth.HashPassword("correct-horse")
	require.NoError(t, err)

	t.Run("wrong password", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT .* FROM accounts WHERE email = \\$1").
			WillReturnRows(accountRow("acc-1", "a@example.com", hash))

		w := apitest.JSON(f.router(), http.MethodPost, "/signin", gin.H{"email": "a@example.com", "password": "wrong-horse"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Nil(t, sessionCookie(t, w.Header()))
	})

	t.Run("unknown email", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT .* FROM accounts WHERE email = \\$1").
			WillReturnRows(sqlmock.NewRows(apitest.AccountCols))

		w := apitest.JSON(f.router(), http.MethodPost, "/signin", gin.H{"email": "b@example.com", "password": "correct-horse"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("phone-only account has no password", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT .* FROM accounts WHERE email = \\$1").
			WillReturnRows(accountRow("acc-1", "a@example.com", nil))

		w := apitest.JSON(f.router(), http.MethodPost, "/signin", gin.H{"email": "a@example.com", "password": "correct-horse"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("SELECT .* FROM accounts WHERE email = \\$1").
			WillReturnRows(accountRow("acc-1", "a@example.com", hash))
		f.mock.ExpectExec("UPDATE accounts SET last_sign_in_at").WithArgs("acc-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery("SELECT .* FROM profiles WHERE id = \\$1").WithArgs("acc-1").
			WillReturnRows(apitest.ProfileRow("acc-1", "person", "{musician}", false))

		w := apitest.JSON(f.router(), http.MethodPost, "/signin", gin.H{"email": "a@example.com", "password": "correct-horse"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := apitest.Decode(t, w)
		assert.NotNil(t, body["profile"])
		assert.NotNil(t, sessionCookie(t, w.Header()))
	})
}

// ---------------------------------------------------------------------------
// Phone codes
// ---------------------------------------------------------------------------

func TestSendCode_MasksPhone(t *testing.T) {
	f := newFixture(t)
	w := apitest.JSON(f.router(), http.MethodPost, "/otp/send", gin.H{"phone": "09121234567"})

	require.Equal(t, http.StatusOK, w.Code)
	body := apitest.Decode(t, w)
	assert.Equal(t, "+98912****567", body["phone"])
	assert.EqualValues(t, 120, body["expires_in"])
	assert.Equal(t, []string{"09121234567"}, f.codes.sent)
}

func TestSendCode_CaptchaRejected(t *testing.T) {
	f := newFixture(t)
	f.captcha.enabled = true
	f.captcha.err = domain.ErrCaptchaFailed

	w := apitest.JSON(f.router(), http.MethodPost, "/otp/send", gin.H{"phone": "09121234567", "captcha_token": "tok"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{"tok"}, f.captcha.tokens)
	assert.Empty(t, f.codes.sent)
}

func TestSendCode_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.codes.sendErr = domain.ErrRateLimited
	w := apitest.JSON(f.router(), http.MethodPost, "/otp/send", gin.H{"phone": "09121234567"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestVerifyCode_CreatesAccount(t *testing.T) {
	f := newFixture(t)
	hash := f.cipher.Hash("+989121234567")
	f.mock.ExpectQuery("SELECT .* FROM accounts WHERE phone_hash = \\$1").WithArgs(hash).
		WillReturnRows(sqlmock.NewRows(apitest.AccountCols))
	f.mock.ExpectQuery("INSERT INTO accounts").
		WithArgs(nil, sqlmock.AnyArg(), hash, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("acc-9", time.Now(), time.Now()))
	f.expectNoProfile("acc-9")

	w := apitest.JSON(f.router(), http.MethodPost, "/otp/verify", gin.H{"phone": "09121234567", "code": "123456"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotNil(t, sessionCookie(t, w.Header()))
}

func TestVerifyCode_SignsInExisting(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT .* FROM accounts WHERE phone_hash = \\$1").
		WillReturnRows(accountRow("acc-2", nil, nil))
	f.mock.ExpectExec("UPDATE accounts SET last_sign_in_at").WithArgs("acc-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.expectNoProfile("acc-2")

	w := apitest.JSON(f.router(), http.MethodPost, "/otp/verify", gin.H{"phone": "09121234567", "code": "123456"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestVerifyCode_AttachesToSignedInAccount(t *testing.T) {
	f := newFixture(t)
	hash := f.cipher.Hash("+989121234567")
	f.mock.ExpectQuery("SELECT .* FROM accounts WHERE phone_hash = \\$1").
		WillReturnRows(sqlmock.NewRows(apitest.AccountCols))
	f.mock.ExpectExec("UPDATE accounts SET phone_encrypted").
		WithArgs("acc-1", sqlmock.AnyArg(), hash).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := f.router(apitest.SignedIn(apitest.Person("acc-1")))
	w := apitest.JSON(r, http.MethodPost, "/otp/verify", gin.H{"phone": "09121234567", "code": "123456"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, apitest.Decode(t, w)["attached"])
	assert.Nil(t, sessionCookie(t, w.Header()))
}

func TestVerifyCode_PhoneOwnedByAnotherAccount(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT .* FROM accounts WHERE phone_hash = \\$1").
		WillReturnRows(accountRow("acc-other", nil, nil))

	r := f.router(apitest.SignedIn(apitest.Person("acc-1")))
	w := apitest.JSON(r, http.MethodPost, "/otp/verify", gin.H{"phone": "09121234567", "code": "123456"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyCode_Errors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrCodeMismatch, http.StatusBadRequest},
		{domain.ErrCodeExpired, http.StatusBadRequest},
		{domain.ErrTooManyAttempts, http.StatusTooManyRequests},
		{errors.New("redis down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := newFixture(t)
			f.codes.verErr = tt.err
			w := apitest.JSON(f.router(), http.MethodPost, "/otp/verify", gin.H{"phone": "09121234567", "code": "000000"})
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

// ---------------------------------------------------------------------------
// OIDC
// ---------------------------------------------------------------------------

func TestOIDCLogin_NotConfigured(t *testing.T) {
	f := newFixture(t)
	w := apitest.JSON(f.router(), http.MethodGet, "/oidc/login", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOIDCLogin_SetsStateAndRedirects(t *testing.T) {
	f := newFixture(t)
	f.h.SetIdentityProvider(&fakeIdP{})

	w := apitest.JSON(f.router(), http.MethodGet, "/oidc/login", nil)

	require.Equal(t, http.StatusFound, w.Code)
	var state string
	for _, c := range (&http.Response{Header: w.Header()}).Cookies() {
		if c.Name == stateCookie {
			state = c.Value
		}
	}
	require.NotEmpty(t, state)
	assert.Equal(t, "https://idp.example.com/auth?state="+state, w.Header().Get("Location"))
}

func callback(r http.Handler, query, cookieState string) *http.Response {
	req, _ := http.NewRequest(http.MethodGet, "/oidc/callback?"+query, nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: stateCookie, Value: cookieState})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Result()
}

func TestOIDCCallback_StateMismatch(t *testing.T) {
	f := newFixture(t)
	f.h.SetIdentityProvider(&fakeIdP{})

	resp := callback(f.router(), "state=abc&code=xyz", "different")

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://bandyab.test/login?error=invalid_state", resp.Header.Get("Location"))
}

func TestOIDCCallback_ProviderError(t *testing.T) {
	f := newFixture(t)
	f.h.SetIdentityProvider(&fakeIdP{})
	resp := callback(f.router(), "error=access_denied&state=abc", "abc")
	assert.Equal(t, "https://bandyab.test/login?error=provider_error", resp.Header.Get("Location"))
}

func TestOIDCCallback_ExchangeFails(t *testing.T) {
	f := newFixture(t)
	f.h.SetIdentityProvider(&fakeIdP{err: errors.New("bad code")})
	resp := callback(f.router(), "state=abc&code=xyz", "abc")
	assert.Equal(t, "https://bandyab.test/login?error=exchange_failed", resp.Header.Get("Location"))
}

func TestOIDCCallback_NewAccount(t *testing.T) {
	f := newFixture(t)
	f.h.SetIdentityProvider(&fakeIdP{id: &oidc.Identity{Subject: "sub-1", Email: "G@Example.com", EmailVerified: true}})

	f.mock.ExpectQuery("SELECT .* FROM accounts WHERE oidc_subject = \\$1").WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows(apitest.AccountCols))
	f.mock.ExpectQuery("SELECT .* FROM accounts WHERE email = \\$1").WithArgs("g@example.com").
		WillReturnRows(sqlmock.NewRows(apitest.AccountCols))
	f.mock.ExpectQuery("INSERT INTO accounts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("acc-5", time.Now(), time.Now()))
	f.mock.ExpectExec("UPDATE accounts SET last_sign_in_at").WithArgs("acc-5").
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp := callback(f.router(), "state=abc&code=xyz", "abc")

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://bandyab.test/auth/callback?new=1", resp.Header.Get("Location"))
	assert.NotNil(t, sessionCookie(t, resp.Header))
}

func TestOIDCCallback_UnverifiedEmailNotLinked(t *testing.T) {
	f := newFixture(t)
	f.h.SetIdentityProvider(&fakeIdP{id: &oidc.Identity{Subject: "sub-2", Email: "victim@example.com"}})

	f.mock.ExpectQuery("SELECT .* FROM accounts WHERE oidc_subject = \\$1").WithArgs("sub-2").
		WillReturnRows(sqlmock.NewRows(apitest.AccountCols))
	f.mock.ExpectQuery("INSERT INTO accounts").
		WithArgs(nil, nil, nil, nil, "sub-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("acc-6", time.Now(), time.Now()))
	f.mock.ExpectExec("UPDATE accounts SET last_sign_in_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp := callback(f.router(), "state=abc&code=xyz", "abc")
	assert.Equal(t, "https://bandyab.test/auth/callback?new=1", resp.Header.Get("Location"))
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func TestRefresh(t *testing.T) {
	f := newFixture(t)

	w := apitest.JSON(f.router(), http.MethodPost, "/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = apitest.JSON(f.router(apitest.SignedIn(apitest.Person("acc-1"))), http.MethodPost, "/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	claims, err := auth.ValidateJWT(apitest.Decode(t, w)["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.AccountID)
}

func TestMe_MasksStoredPhone(t *testing.T) {
	f := newFixture(t)
	sealed, err := f.cipher.Seal("+989121234567")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", apitest.SignedIn(apitest.Admin("acc-1")), func(c *gin.Context) {
		middleware.Account(c).PhoneEncrypted = &sealed
		c.Next()
	}, f.h.MeHandler())

	w := apitest.JSON(r, http.MethodGet, "/me", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := apitest.Decode(t, w)
	assert.Equal(t, "+98912****567", body["phone"])
	assert.Contains(t, body["scopes"], string(auth.ScopeAdmin))
	assert.Equal(t, false, body["has_password"])
}

func TestSignOut_ClearsCookie(t *testing.T) {
	f := newFixture(t)
	w := apitest.JSON(f.router(), http.MethodPost, "/signout", nil)

	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w.Header())
	require.NotNil(t, cookie)
	assert.True(t, cookie.MaxAge < 0 || strings.Contains(w.Header().Get("Set-Cookie"), "Max-Age=0"))
}

func TestCaptchaVerify(t *testing.T) {
	f := newFixture(t)
	f.captcha.enabled = true

	w := apitest.JSON(f.router(), http.MethodPost, "/captcha", gin.H{"token": "ok"})
	assert.Equal(t, true, apitest.Decode(t, w)["success"])

	f.captcha.err = domain.ErrCaptchaFailed
	w = apitest.JSON(f.router(), http.MethodPost, "/captcha", gin.H{"token": "bad"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, apitest.Decode(t, w)["success"])

	w = apitest.JSON(f.router(), http.MethodPost, "/captcha", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
