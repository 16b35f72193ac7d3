package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
)

// SecurityHeadersMiddleware marks responses as non-sniffable and uncacheable.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}

// MaxBodySize caps request bodies. Admin requests carry one command name.
const MaxBodySize = 4 << 10

// BodySizeLimitMiddleware rejects bodies over maxSize and caps the reader
// in case Content-Length lies.
func BodySizeLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body too large. Maximum size is %d bytes.", maxSize))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// RequestLogMiddleware logs each request at debug level.
func RequestLogMiddleware(logger log.Logger) gin.HandlerFunc {
	logger = log.OrNoop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(map[string]any{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}, "Admin API request")
	}
}
