// Package apitest holds helpers for handler tests: a sqlmock-backed database, row
// builders for the common tables and a middleware that signs a caller in.
package apitest

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/middleware"
)

// AccountCols is the column list returned by account lookups
var AccountCols = []string{
	"id", "email", "phone_encrypted", "phone_hash", "password_hash", "oidc_subject",
	"created_at", "updated_at", "last_sign_in_at",
}

// ProfileCols is the column list returned by profile lookups
var ProfileCols = []string{
	"id", "display_name", "category", "roles", "bio", "city", "avatar_path",
	"is_complete", "is_admin", "created_at", "updated_at",
}

// NewDB returns a sqlx handle over sqlmock. Unmet expectations fail the test.
func NewDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		conn.Close()
	})
	return sqlx.NewDb(conn, "sqlmock"), mock
}

// ProfileRow builds a single profile row
func ProfileRow(id, category, roles string, admin bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(ProfileCols).
		AddRow(id, "Profile "+id, category, roles, "", "Tehran", nil, true, admin, now, now)
}

// Caller describes the signed-in identity injected by SignedIn
type Caller struct {
	AccountID string
	// HasProfile is false for an account that has not saved a profile yet
	HasProfile bool
	Category   string
	Admin      bool
}

// Person is a signed-in musician
func Person(id string) Caller {
	return Caller{AccountID: id, HasProfile: true, Category: "person"}
}

// Admin is a signed-in admin
func Admin(id string) Caller {
	return Caller{AccountID: id, HasProfile: true, Category: "person", Admin: true}
}

// SignedIn injects caller the way the auth middleware would
func SignedIn(caller Caller) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc := &models.Account{ID: caller.AccountID}
		var p *models.Profile
		if caller.HasProfile {
			p = &models.Profile{
				ID:          caller.AccountID,
				DisplayName: "Caller",
				Category:    caller.Category,
				IsAdmin:     caller.Admin,
			}
		}
		middleware.SetIdentity(c, acc, p)
		c.Next()
	}
}

// JSON performs a request with an optional JSON body
func JSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// Multipart performs a multipart upload with data in the "file" field
func Multipart(r http.Handler, path string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if data != nil {
		fw, _ := mw.CreateFormFile("file", "upload.bin")
		_, _ = fw.Write(data)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// Decode unmarshals a response body into a map
func Decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return out
}

// PNG is the smallest valid PNG image
var PNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// Refresh is one recorded realtime notification
type Refresh struct {
	Table  string
	ID     string
	Topics []string
}

// Notifier records realtime notifications
type Notifier struct {
	mu    sync.Mutex
	calls []Refresh
}

func (n *Notifier) Refresh(table, id string, topics ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Refresh{Table: table, ID: id, Topics: topics})
}

// Calls returns the recorded notifications
func (n *Notifier) Calls() []Refresh {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Refresh(nil), n.calls...)
}
