package messages

import (
	"context"
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandyab/bandyab/internal/api/apitest"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/realtime"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var messageCols = []string{"id", "profile_id", "name", "email", "phone", "subject", "body", "status", "created_at", "updated_at"}

func messageRow(id string, owner interface{}, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(messageCols).AddRow(id, owner, "Sara", "sara@example.com", nil, "Hi", "Hello", status, now, now)
}

type fakeCaptcha struct {
	enabled bool
	err     error
	token   string
}

func (f *fakeCaptcha) Enabled() bool { return f.enabled }

func (f *fakeCaptcha) Verify(_ context.Context, token, _ string) error {
	f.token = token
	return f.err
}

type fixture struct {
	mock     sqlmock.Sqlmock
	captcha  *fakeCaptcha
	notifier *apitest.Notifier
	h        *Handlers
}

func newFixture(t *testing.T) *fixture {
	db, mock := apitest.NewDB(t)
	f := &fixture{mock: mock, captcha: &fakeCaptcha{}, notifier: &apitest.Notifier{}}
	f.h = NewHandlers(repositories.NewMessageRepository(db), f.captcha, f.notifier)
	return f
}

func (f *fixture) router(caller *apitest.Caller) *gin.Engine {
	r := gin.New()
	if caller != nil {
		r.Use(apitest.SignedIn(*caller))
	}
	r.POST("/messages", f.h.Submit)
	r.GET("/messages/mine", f.h.Mine)
	r.GET("/messages/:id", f.h.Thread)
	r.POST("/messages/:id/replies", f.h.Reply)
	return r
}

func person(id string) *apitest.Caller {
	c := apitest.Person(id)
	return &c
}

func submitBody() gin.H {
	return gin.H{
		"name":          "Sara",
		"email":         "Sara@Example.com",
		"phone":         "0912 123 4567",
		"subject":       "Hi",
		"body":          "Hello",
		"captcha_token": "tok",
	}
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

func TestSubmit_Anonymous(t *testing.T) {
	f := newFixture(t)
	f.captcha.enabled = true
	now := time.Now()
	f.mock.ExpectQuery("INSERT INTO contact_messages").
		WithArgs(nil, "Sara", "sara@example.com", "+989121234567", "Hi", "Hello").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at"}).AddRow("m-1", "new", now, now))

	w := apitest.JSON(f.router(nil), http.MethodPost, "/messages", submitBody())

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "tok", f.captcha.token)
	assert.Equal(t, "new", apitest.Decode(t, w)["status"])
	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{realtime.TopicAdmin}, calls[0].Topics)
}

func TestSubmit_SignedInLinksProfile(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.mock.ExpectQuery("INSERT INTO contact_messages").
		WithArgs("p-1", "Sara", "sara@example.com", "+989121234567", "Hi", "Hello").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at"}).AddRow("m-1", "new", now, now))

	w := apitest.JSON(f.router(person("p-1")), http.MethodPost, "/messages", submitBody())

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Empty(t, f.captcha.token, "disabled captcha is not called")
	assert.Contains(t, f.notifier.Calls()[0].Topics, realtime.MessagesTopic("p-1"))
}

func TestSubmit_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(gin.H, *fakeCaptcha)
	}{
		{"captcha failed", func(_ gin.H, c *fakeCaptcha) { c.enabled, c.err = true, domain.ErrCaptchaFailed }},
		{"bad phone", func(b gin.H, _ *fakeCaptcha) { b["phone"] = "12345" }},
		{"bad email", func(b gin.H, _ *fakeCaptcha) { b["email"] = "nope" }},
		{"blank subject", func(b gin.H, _ *fakeCaptcha) { b["subject"] = "  " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			body := submitBody()
			tt.mutate(body, f.captcha)

			w := apitest.JSON(f.router(nil), http.MethodPost, "/messages", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, f.notifier.Calls())
		})
	}
}

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

func TestMine(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("FROM contact_messages WHERE profile_id").WithArgs("p-1").
		WillReturnRows(messageRow("m-1", "p-1", "answered"))

	w := apitest.JSON(f.router(person("p-1")), http.MethodGet, "/messages/mine", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, apitest.Decode(t, w)["messages"], 1)
}

func TestThread(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.mock.ExpectQuery("FROM contact_messages WHERE id").WithArgs("m-1").
		WillReturnRows(messageRow("m-1", "p-1", "answered"))
	f.mock.ExpectQuery("UNION ALL").WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id", "author_id", "body", "from_admin", "created_at"}).
			AddRow("r-1", "m-1", "admin-1", "Thanks", true, now))

	w := apitest.JSON(f.router(person("p-1")), http.MethodGet, "/messages/m-1", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	replies := apitest.Decode(t, w)["replies"].([]interface{})
	require.Len(t, replies, 1)
	assert.Equal(t, true, replies[0].(map[string]interface{})["from_admin"])
}

func TestThread_OtherSenderIsHidden(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("FROM contact_messages WHERE id").WithArgs("m-1").
		WillReturnRows(messageRow("m-1", "p-9", "new"))
	f.mock.ExpectQuery("UNION ALL").WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id", "author_id", "body", "from_admin", "created_at"}))

	w := apitest.JSON(f.router(person("p-1")), http.MethodGet, "/messages/m-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReply(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("FROM contact_messages WHERE id").WithArgs("m-1").
		WillReturnRows(messageRow("m-1", "p-1", "answered"))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE contact_messages SET status = 'new'").WithArgs("m-1", "p-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery("INSERT INTO user_replies").WithArgs("m-1", "p-1", "More details").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("r-2", time.Now()))
	f.mock.ExpectCommit()

	w := apitest.JSON(f.router(person("p-1")), http.MethodPost, "/messages/m-1/replies", gin.H{"body": " More details "})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "r-2", apitest.Decode(t, w)["id"])
	assert.Contains(t, f.notifier.Calls()[0].Topics, realtime.MessagesTopic("p-1"))
}

func TestReply_Closed(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("FROM contact_messages WHERE id").WithArgs("m-1").
		WillReturnRows(messageRow("m-1", "p-1", "closed"))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE contact_messages SET status = 'new'").WithArgs("m-1", "p-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectRollback()

	w := apitest.JSON(f.router(person("p-1")), http.MethodPost, "/messages/m-1/replies", gin.H{"body": "again"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReply_NotOwner(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("FROM contact_messages WHERE id").WithArgs("m-1").
		WillReturnRows(messageRow("m-1", nil, "new"))

	w := apitest.JSON(f.router(person("p-1")), http.MethodPost, "/messages/m-1/replies", gin.H{"body": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
