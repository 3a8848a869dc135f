package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const internalKeyHeader = "X-Internal-API-Key"

// InternalAuthMiddleware guards the /internal route group with the
// shared service key from server.internal_api_key. An empty key means
// the deployment is misconfigured; every request is rejected rather
// than letting the group run open.
func InternalAuthMiddleware(apiKey string) gin.HandlerFunc {
	if apiKey == "" {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal API key not configured",
			})
		}
	}
	want := []byte(apiKey)

	return func(c *gin.Context) {
		got := []byte(c.GetHeader(internalKeyHeader))
		// Constant-time compare so the key cannot be probed byte by byte.
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		c.Next()
	}
}
