package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ihnore-Ihor/PI-CMS/internal/roster"
)

func newDirectoryRouter(rosterURL string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewDirectoryHandler(roster.NewClient(rosterURL), zerolog.Nop())
	router.GET("/directory/students", handler.ListStudents)
	return router
}

func TestListStudentsForwardsBearer(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"students":[{"id":1,"first_name":"Ada"}]}`))
	}))
	defer upstream.Close()

	router := newDirectoryRouter(upstream.URL)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/directory/students", nil)
	req.Header.Set("Authorization", "Bearer tok")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Ada"`)
}

func TestListStudentsRequiresBearer(t *testing.T) {
	router := newDirectoryRouter("http://127.0.0.1:1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/directory/students", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListStudentsUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	router := newDirectoryRouter(upstream.URL)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/directory/students", nil)
	req.Header.Set("Authorization", "Bearer tok")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
