// Package handlers implements the REST endpoints: projects, files, document
// content, chat, unread state, and code execution.
//
// Every failure goes through fail(), so each error response is the same
// envelope: a stable machine-readable code, a human-readable message, and
// the request id for log correlation.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/collabpad/collab-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope every endpoint returns on failure.
type ErrorResponse struct {
	// RequestID correlates server logs with client-side errors.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Code is a stable machine-readable string (see errors.go).
	Code string `json:"code" example:"not_found"`
	// Message is safe to show to users.
	Message string `json:"message" example:"file not found"`
}

// fail aborts the request with the standard envelope. Server-side failures
// (5xx) are also logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail exposes fail() to the router for NoRoute/NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
