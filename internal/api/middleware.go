package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// RequestLogger logs every request with method, path, status and latency
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request", map[string]interface{}{
			"method":  c.Request.Method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
	}
}

// AuthMiddleware rejects requests without a valid bearer token. Claims are
// stored on the context under "claims" for downstream handlers.
func AuthMiddleware(validator *JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validator.ValidateHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":     false,
				"error":  "unauthorized",
				"detail": err.Error(),
			})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}
