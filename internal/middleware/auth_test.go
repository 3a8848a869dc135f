package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func authRouter(apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(InternalAuthMiddleware(apiKey))
	router.GET("/internal/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func pingWithKey(router *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/internal/ping", nil)
	if key != "" {
		req.Header.Set(internalKeyHeader, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInternalAuthAcceptsConfiguredKey(t *testing.T) {
	router := authRouter("svc-secret")
	w := pingWithKey(router, "svc-secret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInternalAuthRejectsWrongKey(t *testing.T) {
	router := authRouter("svc-secret")

	assert.Equal(t, http.StatusUnauthorized, pingWithKey(router, "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, pingWithKey(router, "").Code)
}

func TestInternalAuthFailsClosedWithoutKey(t *testing.T) {
	router := authRouter("")
	w := pingWithKey(router, "anything")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
