package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Status values carried in the "status" field of mutation and error bodies.
const (
	StatusAdded        = "added"
	StatusRemoved      = "removed"
	StatusRegistered   = "registered"
	StatusUnregistered = "unregistered"
	StatusRefreshed    = "refreshed"
	StatusError        = "error"
)

// Success sends data as a 200 JSON body.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Outcome sends a 200 body reporting what a mutation did. fields may be nil
// and must not set "status".
func Outcome(c *gin.Context, status string, fields gin.H) {
	body := gin.H{"status": status}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Error sends {"status": "error", "error": message} with code and stops the
// handler chain.
func Error(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"status": StatusError, "error": message})
}
