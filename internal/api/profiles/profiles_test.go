package profiles

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
	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/middleware"
	"github.com/bandyab/bandyab/internal/services"
	"github.com/bandyab/bandyab/internal/storage/storagetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDeleter struct {
	actor services.Actor
	id    string
	err   error
}

func (f *fakeDeleter) Delete(_ context.Context, actor services.Actor, id string) (*services.DeletionReport, error) {
	f.actor, f.id = actor, id
	if f.err != nil {
		return nil, f.err
	}
	return &services.DeletionReport{ProfileID: id, Rows: map[string]int64{"accounts": 1}, StorageRemoved: 3}, nil
}

type fixture struct {
	mock     sqlmock.Sqlmock
	h        *Handlers
	store    *storagetest.Memory
	notifier *apitest.Notifier
	deleter  *fakeDeleter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock := apitest.NewDB(t)
	f := &fixture{
		mock:     mock,
		store:    storagetest.NewMemory(),
		notifier: &apitest.Notifier{},
		deleter:  &fakeDeleter{},
	}
	f.h = NewHandlers(&config.Config{}, repositories.NewProfileRepository(db), f.deleter, f.store, f.notifier)
	return f
}

func (f *fixture) router(caller *apitest.Caller) *gin.Engine {
	r := gin.New()
	if caller != nil {
		r.Use(apitest.SignedIn(*caller))
	}
	r.GET("/profiles", f.h.Search)
	r.GET("/profiles/me", f.h.GetMine)
	r.PUT("/profiles/me", f.h.Upsert)
	r.DELETE("/profiles/me", f.h.DeleteMine)
	r.PUT("/profiles/me/instruments", f.h.ReplaceInstruments)
	r.DELETE("/profiles/me/gallery/:itemId", f.h.DeleteGalleryItem)
	r.GET("/profiles/:id", f.h.Get)
	return r
}

func person(id string) *apitest.Caller {
	c := apitest.Person(id)
	return &c
}

var instrumentCols = []string{"id", "profile_id", "instrument", "skill_level"}
var galleryCols = []string{"id", "profile_id", "storage_key", "caption", "created_at"}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestGet_PublicProfileWithGallery(t *testing.T) {
	f := newFixture(t)
	f.store.Put("gallery/p-1/a.png", apitest.PNG)

	f.mock.ExpectQuery("SELECT .* FROM profiles WHERE id = \\$1").WithArgs("p-1").
		WillReturnRows(apitest.ProfileRow("p-1", "person", "{guitarist}", false))
	f.mock.ExpectQuery("SELECT .* FROM profile_instruments").WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows(instrumentCols).AddRow("i-1", "p-1", "Tar", "advanced"))
	f.mock.ExpectQuery("SELECT .* FROM profile_gallery").WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows(galleryCols).AddRow("g-1", "p-1", "gallery/p-1/a.png", "live", time.Now()))

	w := apitest.JSON(f.router(nil), http.MethodGet, "/profiles/p-1", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := apitest.Decode(t, w)
	assert.Equal(t, "p-1", body["id"])
	assert.Len(t, body["instruments"], 1)
	gallery := body["gallery"].([]interface{})
	require.Len(t, gallery, 1)
	assert.Equal(t, "memory://gallery/p-1/a.png", gallery[0].(map[string]interface{})["url"])
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT .* FROM profiles WHERE id = \\$1").
		WillReturnRows(sqlmock.NewRows(apitest.ProfileCols))

	w := apitest.JSON(f.router(nil), http.MethodGet, "/profiles/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "پروفایل یافت نشد.", apitest.Decode(t, w)["error"])
}

func TestGetMine_UsesCallerID(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT .* FROM profiles WHERE id = \\$1").WithArgs("me-1").
		WillReturnRows(apitest.ProfileRow("me-1", "band", "{}", false))
	f.mock.ExpectQuery("SELECT .* FROM profile_instruments").WillReturnRows(sqlmock.NewRows(instrumentCols))
	f.mock.ExpectQuery("SELECT .* FROM profile_gallery").WillReturnRows(sqlmock.NewRows(galleryCols))

	w := apitest.JSON(f.router(person("me-1")), http.MethodGet, "/profiles/me", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearch_PassesFiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM profiles WHERE is_complete = true AND category = \\$1 AND city = \\$2").
		WithArgs("band", "Shiraz").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(41))
	f.mock.ExpectQuery("SELECT .* FROM profiles WHERE .* LIMIT \\$3 OFFSET \\$4").
		WithArgs("band", "Shiraz", 20, 20).
		WillReturnRows(apitest.ProfileRow("b-1", "band", "{}", false))

	w := apitest.JSON(f.router(nil), http.MethodGet, "/profiles?category=band&city=Shiraz&page=2", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := apitest.Decode(t, w)
	assert.Len(t, body["profiles"], 1)
	pagination := body["pagination"].(map[string]interface{})
	assert.EqualValues(t, 2, pagination["page"])
	assert.EqualValues(t, 41, pagination["total"])
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

func TestUpsert_CreatesOnFirstSave(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("INSERT INTO profiles").
		WithArgs("acc-1", "Sara", "person", sqlmock.AnyArg(), "", "Tehran", true).
		WillReturnRows(sqlmock.NewRows([]string{"avatar_path", "is_admin", "created_at", "updated_at"}).
			AddRow(nil, false, time.Now(), time.Now()))

	caller := apitest.Caller{AccountID: "acc-1"}
	w := apitest.JSON(f.router(&caller), http.MethodPut, "/profiles/me", gin.H{
		"display_name": "  Sara ",
		"category":     "person",
		"roles":        []string{"Singer", "singer", " "},
		"city":         "Tehran",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := apitest.Decode(t, w)
	assert.Equal(t, []interface{}{"singer"}, body["roles"])
	assert.Equal(t, true, body["is_complete"])

	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"profile:acc-1"}, calls[0].Topics)
}

func TestUpsert_UpdatesExisting(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("INSERT INTO profiles").
		WillReturnRows(sqlmock.NewRows([]string{"avatar_path", "is_admin", "created_at", "updated_at"}).
			AddRow("avatars/acc-1/a.png", false, time.Now(), time.Now()))

	w := apitest.JSON(f.router(person("acc-1")), http.MethodPut, "/profiles/me", gin.H{
		"display_name": "Sara",
		"category":     "person",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpsert_Validation(t *testing.T) {
	tests := map[string]gin.H{
		"bad category": {"display_name": "X", "category": "alien"},
		"blank name":   {"display_name": "   ", "category": "band"},
		"no name":      {"category": "band"},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			w := apitest.JSON(f.router(person("acc-1")), http.MethodPut, "/profiles/me", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestReplaceInstruments_DedupesAndDefaults(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectExec("DELETE FROM profile_instruments").WithArgs("acc-1").WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec("INSERT INTO profile_instruments").WithArgs("acc-1", "Tar", "intermediate").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO profile_instruments").WithArgs("acc-1", "Daf", "professional").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	f.mock.ExpectQuery("SELECT .* FROM profile_instruments").WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(instrumentCols).
			AddRow("i-2", "acc-1", "Daf", "professional").
			AddRow("i-1", "acc-1", "Tar", "intermediate"))

	w := apitest.JSON(f.router(person("acc-1")), http.MethodPut, "/profiles/me/instruments", gin.H{
		"instruments": []gin.H{
			{"instrument": "Tar"},
			{"instrument": "tar", "skill_level": "advanced"},
			{"instrument": "Daf", "skill_level": "professional"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, apitest.Decode(t, w)["instruments"], 2)
}

func TestReplaceInstruments_BadSkill(t *testing.T) {
	f := newFixture(t)
	w := apitest.JSON(f.router(person("acc-1")), http.MethodPut, "/profiles/me/instruments", gin.H{
		"instruments": []gin.H{{"instrument": "Tar", "skill_level": "godlike"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteGalleryItem(t *testing.T) {
	f := newFixture(t)
	f.store.Put("gallery/acc-1/a.png", apitest.PNG)
	f.mock.ExpectQuery("DELETE FROM profile_gallery WHERE id = \\$1 AND profile_id = \\$2").
		WithArgs("g-1", "acc-1").
		WillReturnRows(sqlmock.NewRows(galleryCols).AddRow("g-1", "acc-1", "gallery/acc-1/a.png", "", time.Now()))

	w := apitest.JSON(f.router(person("acc-1")), http.MethodDelete, "/profiles/me/gallery/g-1", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.store.Keys())
}

func TestDeleteGalleryItem_NotOwned(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("DELETE FROM profile_gallery").WillReturnRows(sqlmock.NewRows(galleryCols))

	w := apitest.JSON(f.router(person("acc-1")), http.MethodDelete, "/profiles/me/gallery/g-9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteMine_ClearsCookie(t *testing.T) {
	f := newFixture(t)

	w := apitest.JSON(f.router(person("acc-1")), http.MethodDelete, "/profiles/me", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acc-1", f.deleter.id)
	assert.Equal(t, services.Actor{ProfileID: "acc-1"}, f.deleter.actor)
	assert.Contains(t, w.Header().Get("Set-Cookie"), middleware.DefaultSessionCookie+"=;")
	assert.EqualValues(t, 3, apitest.Decode(t, w)["storage_removed"])
}

func TestDeleteMine_Failure(t *testing.T) {
	f := newFixture(t)
	f.deleter.err = domain.ErrProfileNotFound

	w := apitest.JSON(f.router(person("acc-1")), http.MethodDelete, "/profiles/me", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get("Set-Cookie"))
}
