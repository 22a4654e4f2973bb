package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"user-management-api/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CorrelationIDKey is the gin context key under which the audit stage stores
// the request correlation ID.
const CorrelationIDKey = "correlationID"

// Barrier returns the failure barrier: it runs the rest of the chain and turns
// any panic into a single 500 response without exposing the fault to the
// client. onFault, when set, is invoked once per recovered panic.
func Barrier(onFault func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			log := logger.FromContext(c)
			log.Error("Unhandled fault while processing request",
				"error", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"correlation_id", c.GetString(CorrelationIDKey),
			)

			if onFault != nil {
				onFault()
			}

			if c.Writer.Written() {
				// status and part of the body are already on the wire
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": MsgInternalError})
		}()

		c.Next()
	}
}
