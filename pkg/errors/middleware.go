package errors

import (
	"net/http"

	"user-management-api/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Envelope builds the JSON error body {"error": "<message>"} plus details when present
func Envelope(appErr *AppError) gin.H {
	body := gin.H{"error": appErr.Message}
	if appErr.Details != nil {
		body["details"] = appErr.Details
	}
	return body
}

// Abort writes the error envelope and stops the handler chain.
// Server-side failures are logged with their cause; client errors are not.
func Abort(c *gin.Context, appErr *AppError) {
	if appErr.StatusCode >= http.StatusInternalServerError {
		args := []any{
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"error_code", appErr.Code,
		}
		if appErr.Err != nil {
			args = append(args, "error", appErr.Err.Error())
		}
		logger.FromContext(c).Error("Request failed", args...)
	}

	c.AbortWithStatusJSON(appErr.StatusCode, Envelope(appErr))
}

// AbortWithError converts err with FromError and aborts
func AbortWithError(c *gin.Context, err error) {
	Abort(c, FromError(err))
}
