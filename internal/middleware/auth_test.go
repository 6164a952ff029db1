package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/bandyab/bandyab/internal/auth"
	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var accountCols = []string{
	"id", "email", "phone_encrypted", "phone_hash", "password_hash", "oidc_subject",
	"created_at", "updated_at", "last_sign_in_at",
}

var profileCols = []string{
	"id", "display_name", "category", "roles", "bio", "city", "avatar_path",
	"is_complete", "is_admin", "created_at", "updated_at",
}

type authFixture struct {
	mock     sqlmock.Sqlmock
	accounts *repositories.AccountRepository
	profiles *repositories.ProfileRepository
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		conn.Close()
	})
	db := sqlx.NewDb(conn, "sqlmock")
	return &authFixture{
		mock:     mock,
		accounts: repositories.NewAccountRepository(db),
		profiles: repositories.NewProfileRepository(db),
	}
}

func (f *authFixture) expectAccount(id string) {
	f.mock.ExpectQuery("SELECT .* FROM accounts WHERE id = \\$1").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow(id, "a@example.com", nil, nil, nil, nil, time.Now(), time.Now(), nil))
}

func (f *authFixture) expectProfile(id string, admin bool) {
	f.mock.ExpectQuery("SELECT .* FROM profiles WHERE id = \\$1").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow(id, "Sara", "person", "{musician}", "", "Tehran", nil, true, admin, time.Now(), time.Now()))
}

// captured is filled by the terminal handler
type captured struct {
	accountID string
	profileID string
	admin     bool
	scopes    []string
}

func (f *authFixture) router(mw func(*config.Config, *repositories.AccountRepository, *repositories.ProfileRepository) gin.HandlerFunc, out *captured) *gin.Engine {
	r := gin.New()
	r.Use(mw(&config.Config{}, f.accounts, f.profiles))
	r.GET("/", func(c *gin.Context) {
		out.accountID = AccountID(c)
		out.profileID = ProfileID(c)
		out.admin = IsAdmin(c)
		if v, ok := c.Get(ContextScopes); ok {
			out.scopes = v.([]string)
		}
		c.Status(http.StatusOK)
	})
	return r
}

func token(t *testing.T, accountID string) string {
	t.Helper()
	tok, err := auth.GenerateJWT(accountID, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return tok
}

func serve(r *gin.Engine, mutate func(*http.Request)) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if mutate != nil {
		mutate(req)
	}
	r.ServeHTTP(w, req)
	return w
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

// ---------------------------------------------------------------------------
// AuthMiddleware
// ---------------------------------------------------------------------------

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*http.Request)
	}{
		{"no credentials", nil},
		{"non-bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }},
		{"empty bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer  ") }},
		{"garbage token", bearer("not-a-jwt")},
		{"garbage cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: "junk"}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			var got captured
			w := serve(f.router(AuthMiddleware, &got), tt.mutate)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	f := newAuthFixture(t)
	f.expectAccount("acc-1")
	f.expectProfile("acc-1", false)

	var got captured
	w := serve(f.router(AuthMiddleware, &got), bearer(token(t, "acc-1")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if got.accountID != "acc-1" || got.profileID != "acc-1" {
		t.Errorf("ids = %q/%q", got.accountID, got.profileID)
	}
	if got.admin || auth.IsAdmin(got.scopes) {
		t.Error("non-admin profile got admin")
	}
	if !auth.HasScope(got.scopes, auth.ScopeMembershipsWrite) {
		t.Errorf("scopes = %v, want owner scopes", got.scopes)
	}
}

func TestAuthMiddleware_SessionCookie(t *testing.T) {
	f := newAuthFixture(t)
	f.expectAccount("acc-2")
	f.expectProfile("acc-2", true)

	var got captured
	tok := token(t, "acc-2")
	w := serve(f.router(AuthMiddleware, &got), func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: tok})
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !got.admin || !auth.IsAdmin(got.scopes) {
		t.Errorf("admin profile not recognised: admin=%v scopes=%v", got.admin, got.scopes)
	}
}

func TestAuthMiddleware_AccountWithoutProfile(t *testing.T) {
	f := newAuthFixture(t)
	f.expectAccount("acc-3")
	f.mock.ExpectQuery("SELECT .* FROM profiles").WillReturnRows(sqlmock.NewRows(profileCols))

	var got captured
	w := serve(f.router(AuthMiddleware, &got), bearer(token(t, "acc-3")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got.accountID != "acc-3" || got.profileID != "" {
		t.Errorf("ids = %q/%q, want acc-3/empty", got.accountID, got.profileID)
	}
}

func TestAuthMiddleware_DeletedAccount(t *testing.T) {
	f := newAuthFixture(t)
	f.mock.ExpectQuery("SELECT .* FROM accounts").WillReturnRows(sqlmock.NewRows(accountCols))

	var got captured
	if w := serve(f.router(AuthMiddleware, &got), bearer(token(t, "gone"))); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_DBError(t *testing.T) {
	f := newAuthFixture(t)
	f.mock.ExpectQuery("SELECT .* FROM accounts").WillReturnError(errors.New("connection reset"))

	var got captured
	if w := serve(f.router(AuthMiddleware, &got), bearer(token(t, "acc-1"))); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// OptionalAuthMiddleware
// ---------------------------------------------------------------------------

func TestOptionalAuthMiddleware_Anonymous(t *testing.T) {
	for _, mutate := range []func(*http.Request){nil, bearer("junk")} {
		f := newAuthFixture(t)
		var got captured
		w := serve(f.router(OptionalAuthMiddleware, &got), mutate)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		if got.accountID != "" {
			t.Errorf("anonymous request got account %q", got.accountID)
		}
	}
}

func TestOptionalAuthMiddleware_SignedIn(t *testing.T) {
	f := newAuthFixture(t)
	f.expectAccount("acc-1")
	f.expectProfile("acc-1", false)

	var got captured
	w := serve(f.router(OptionalAuthMiddleware, &got), bearer(token(t, "acc-1")))
	if w.Code != http.StatusOK || got.profileID != "acc-1" {
		t.Errorf("status = %d profile = %q", w.Code, got.profileID)
	}
}

func TestOptionalAuthMiddleware_DBErrorAborts(t *testing.T) {
	f := newAuthFixture(t)
	f.mock.ExpectQuery("SELECT .* FROM accounts").WillReturnError(errors.New("boom"))

	var got captured
	if w := serve(f.router(OptionalAuthMiddleware, &got), bearer(token(t, "acc-1"))); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RequireProfile / SessionCookieName
// ---------------------------------------------------------------------------

func TestRequireProfile(t *testing.T) {
	r := gin.New()
	r.GET("/with", func(c *gin.Context) { c.Set(ContextProfileID, "p-1") }, RequireProfile(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/without", RequireProfile(), func(c *gin.Context) { c.Status(http.StatusOK) })

	for path, want := range map[string]int{"/with": http.StatusOK, "/without": http.StatusForbidden} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Errorf("%s status = %d, want %d", path, w.Code, want)
		}
	}
}

func TestSessionCookieName(t *testing.T) {
	if got := SessionCookieName(nil); got != DefaultSessionCookie {
		t.Errorf("nil config = %q", got)
	}
	cfg := &config.Config{}
	cfg.Auth.SessionCookieName = "bandyab_session"
	if got := SessionCookieName(cfg); got != "bandyab_session" {
		t.Errorf("configured = %q", got)
	}
}
