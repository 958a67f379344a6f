package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodlabel-analyzer/internal/pkg/jwtutil"
)

func newRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), AuthJWT(secret))
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextClientIDKey))
	})
	return r
}

func TestAuthJWT(t *testing.T) {
	r := newRouter("s3cret")
	token, err := jwtutil.GenerateToken("s3cret", "label-app", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "label-app", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestAuthJWTRejects(t *testing.T) {
	r := newRouter("s3cret")

	for _, header := range []string{"", "Basic abc", "Bearer not-a-token"} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
}

func TestAuthJWTDisabled(t *testing.T) {
	r := newRouter("")
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
}
