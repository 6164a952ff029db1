package blog

import (
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandyab/bandyab/internal/api/apitest"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/storage/storagetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var postCols = []string{
	"id", "author_id", "category_id", "title", "slug", "excerpt", "body", "cover_image_path",
	"status", "published_at", "created_at", "updated_at",
}

func newRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	db, mock := apitest.NewDB(t)
	h := NewHandlers(repositories.NewBlogRepository(db), storagetest.NewMemory())
	r := gin.New()
	r.GET("/blog/posts", h.List)
	r.GET("/blog/posts/:slug", h.Get)
	r.GET("/blog/categories", h.Categories)
	return r, mock
}

func TestList_HidesBody(t *testing.T) {
	r, mock := newRouter(t)
	now := time.Now()
	mock.ExpectQuery("WHERE p.status = 'published'").
		WithArgs("news", 20, 0).
		WillReturnRows(sqlmock.NewRows(postCols).
			AddRow("b-1", nil, "c-1", "Hello", "hello", "short", "long body", "blog/admin/c.png", "published", now, now, now))

	w := apitest.JSON(r, http.MethodGet, "/blog/posts?category=news", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	posts := apitest.Decode(t, w)["posts"].([]interface{})
	require.Len(t, posts, 1)
	post := posts[0].(map[string]interface{})
	assert.Equal(t, "", post["body"])
	assert.Equal(t, "short", post["excerpt"])
	assert.Equal(t, "memory://blog/admin/c.png", post["cover_url"])
}

func TestGet(t *testing.T) {
	r, mock := newRouter(t)
	now := time.Now()
	mock.ExpectQuery("WHERE slug = \\$1 AND status = 'published'").WithArgs("hello").
		WillReturnRows(sqlmock.NewRows(postCols).
			AddRow("b-1", nil, nil, "Hello", "hello", "short", "long body", nil, "published", now, now, now))

	w := apitest.JSON(r, http.MethodGet, "/blog/posts/hello", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := apitest.Decode(t, w)
	assert.Equal(t, "long body", body["body"])
	assert.Nil(t, body["cover_url"])
}

func TestGet_Unpublished(t *testing.T) {
	r, mock := newRouter(t)
	mock.ExpectQuery("WHERE slug").WithArgs("draft").WillReturnRows(sqlmock.NewRows(postCols))

	w := apitest.JSON(r, http.MethodGet, "/blog/posts/draft", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "نوشته یافت نشد.", apitest.Decode(t, w)["error"])
}

func TestCategories(t *testing.T) {
	r, mock := newRouter(t)
	mock.ExpectQuery("FROM blog_categories").
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "created_at"}).
			AddRow("c-1", "news", "News", time.Now()))

	w := apitest.JSON(r, http.MethodGet, "/blog/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, apitest.Decode(t, w)["categories"], 1)
}
