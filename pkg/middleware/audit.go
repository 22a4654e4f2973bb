package middleware

import (
	"bytes"
	"io"
	"net/http"
	"unicode/utf8"

	apperrors "user-management-api/backend/pkg/errors"
	"user-management-api/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditOptions configures the audit stage
type AuditOptions struct {
	// MaxBodyBytes caps the body text written to a record; 0 logs bodies in full.
	// Downstream stages always see the complete request body.
	MaxBodyBytes int
}

// AuditLogger writes one "Request" and one "Response" record per request,
// linked by a fresh correlation ID.
type AuditLogger struct {
	logger  *logger.Logger
	options AuditOptions
}

// NewAuditLogger creates the audit stage writing to log
func NewAuditLogger(log *logger.Logger, opts AuditOptions) *AuditLogger {
	if log == nil {
		log = logger.GetGlobal()
	}
	if opts.MaxBodyBytes < 0 {
		opts.MaxBodyBytes = 0
	}
	return &AuditLogger{logger: log.WithComponent("audit"), options: opts}
}

// bodyCaptureWriter tees the response body into a buffer
type bodyCaptureWriter struct {
	gin.ResponseWriter
	body  *bytes.Buffer
	limit int
	full  bool
}

func (w *bodyCaptureWriter) capture(p []byte) {
	if w.full {
		return
	}
	if w.limit > 0 {
		room := w.limit - w.body.Len()
		if len(p) > room {
			p = p[:runeBoundary(p, room)]
			w.full = true
		}
	}
	w.body.Write(p)
}

// runeBoundary returns the largest cut <= n that does not split a UTF-8 sequence
func runeBoundary(p []byte, n int) int {
	if n >= len(p) {
		return len(p)
	}
	if n <= 0 {
		return 0
	}
	for n > 0 && !utf8.RuneStart(p[n]) {
		n--
	}
	return n
}

func (w *bodyCaptureWriter) Write(p []byte) (int, error) {
	w.capture(p)
	return w.ResponseWriter.Write(p)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.capture([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

// Middleware returns the audit stage
func (a *AuditLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := uuid.NewString()
		c.Set(apperrors.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(WithCorrelationID(c.Request.Context(), correlationID))
		c.Header(CorrelationIDHeader, correlationID)
		c.Set(logger.ContextKey, logger.FromContext(c).WithCorrelationID(correlationID))

		log := a.logger.WithCorrelationID(correlationID)

		body := a.readBody(c, log)
		a.logRequest(c, log, body)

		original := c.Writer
		capture := &bodyCaptureWriter{
			ResponseWriter: original,
			body:           &bytes.Buffer{},
			limit:          a.options.MaxBodyBytes,
		}
		c.Writer = capture

		defer func() {
			c.Writer = original
			if r := recover(); r != nil {
				status := http.StatusInternalServerError
				if capture.Written() {
					status = capture.Status()
				}
				log.Info("Response",
					"status", status,
					"body", capture.body.String(),
					"fault", true,
				)
				panic(r)
			}
		}()

		c.Next()

		log.Info("Response",
			"status", c.Writer.Status(),
			"body", capture.body.String(),
		)
	}
}

// readBody drains and restores the request body so downstream can read it again
func (a *AuditLogger) readBody(c *gin.Context, log *logger.Logger) []byte {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil
	}

	body, err := io.ReadAll(c.Request.Body)
	_ = c.Request.Body.Close()
	if err != nil {
		log.Warn("Failed to read request body", "error", err.Error())
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body
}

func (a *AuditLogger) logRequest(c *gin.Context, log *logger.Logger, body []byte) {
	logged, masked := MaskBodyOrRaw(body)
	if !masked && len(body) > 0 {
		log.Debug("Request body is not a JSON object, logging raw")
	}
	if a.options.MaxBodyBytes > 0 && len(logged) > a.options.MaxBodyBytes {
		logged = logged[:runeBoundary([]byte(logged), a.options.MaxBodyBytes)]
	}

	log.Info("Request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"query", c.Request.URL.RawQuery,
		"headers", MaskHeaders(c.Request.Header),
		"body", logged,
	)
}
