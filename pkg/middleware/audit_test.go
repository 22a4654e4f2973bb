package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "user-management-api/backend/pkg/errors"
	"user-management-api/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		if rec["component"] == "audit" {
			out = append(out, rec)
		}
	}
	return out
}

func newAuditRouter(buf *bytes.Buffer, opts AuditOptions, handler gin.HandlerFunc) *gin.Engine {
	log := logger.New(logger.Config{Level: "info", JSON: true, Output: buf})
	r := gin.New()
	r.Use(NewAuditLogger(log, opts).Middleware())
	r.POST("/api/users", handler)
	return r
}

func TestAuditLogger_RequestAndResponse(t *testing.T) {
	var buf bytes.Buffer
	var seenBody string
	var seenCorrelation string
	r := newAuditRouter(&buf, AuditOptions{}, func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		seenBody = string(b)
		seenCorrelation = GetCorrelationID(c.Request.Context())
		c.JSON(http.StatusCreated, gin.H{"id": 1})
	})

	body := `{"name":"Ken","email":"ken@example.com","password":"secret"}`
	req := httptest.NewRequest(http.MethodPost, "/api/users?id=123", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("Test-Header", "HeaderValue")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":1}`, w.Body.String())
	assert.Equal(t, body, seenBody, "downstream must see the original body")

	records := auditRecords(t, &buf)
	require.Len(t, records, 2)

	reqRec, respRec := records[0], records[1]
	assert.Equal(t, "Request", reqRec["msg"])
	assert.Equal(t, "INFO", reqRec["level"])
	assert.Equal(t, "POST", reqRec["method"])
	assert.Equal(t, "/api/users", reqRec["path"])
	assert.Equal(t, "id=123", reqRec["query"])
	assert.Equal(t, `{"name":"Ken","email":"ken@example.com","password":"***MASKED***"}`, reqRec["body"])
	assert.NotContains(t, reqRec["body"], "secret")

	headers := reqRec["headers"].(map[string]any)
	assert.Equal(t, []any{"[REDACTED]"}, headers["Authorization"])
	assert.Equal(t, []any{"HeaderValue"}, headers["Test-Header"])

	assert.Equal(t, "Response", respRec["msg"])
	assert.Equal(t, float64(http.StatusCreated), respRec["status"])
	assert.JSONEq(t, `{"id":1}`, respRec["body"].(string))

	id := w.Header().Get(CorrelationIDHeader)
	require.NotEmpty(t, id)
	assert.Equal(t, id, reqRec["correlation_id"])
	assert.Equal(t, id, respRec["correlation_id"])
	assert.Equal(t, id, seenCorrelation)
}

func TestAuditLogger_FreshCorrelationIDPerRequest(t *testing.T) {
	var buf bytes.Buffer
	r := newAuditRouter(&buf, AuditOptions{}, func(c *gin.Context) { c.Status(http.StatusNoContent) })

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
		req.Header.Set(CorrelationIDHeader, "client-chosen")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		id := w.Header().Get(CorrelationIDHeader)
		assert.NotEqual(t, "client-chosen", id)
		ids[id] = true
	}
	assert.Len(t, ids, 3)
}

func TestAuditLogger_NonJSONBodyLoggedRaw(t *testing.T) {
	var buf bytes.Buffer
	r := newAuditRouter(&buf, AuditOptions{}, func(c *gin.Context) { c.String(http.StatusOK, "Test response") })

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader("plain password=x"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	records := auditRecords(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, "plain password=x", records[0]["body"])
	assert.Equal(t, "Test response", records[1]["body"])
	assert.Equal(t, "Test response", w.Body.String())
}

func TestAuditLogger_BodyCap(t *testing.T) {
	var buf bytes.Buffer
	var seen int
	r := newAuditRouter(&buf, AuditOptions{MaxBodyBytes: 4}, func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		seen = len(b)
		c.String(http.StatusOK, "abcdefgh")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader("0123456789"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	records := auditRecords(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, "0123", records[0]["body"])
	assert.Equal(t, "abcd", records[1]["body"])
	assert.Equal(t, 10, seen)
	assert.Equal(t, "abcdefgh", w.Body.String())
}

func TestAuditLogger_BodyCapKeepsRunesWhole(t *testing.T) {
	var buf bytes.Buffer
	r := newAuditRouter(&buf, AuditOptions{MaxBodyBytes: 3}, func(c *gin.Context) {
		c.Status(http.StatusOK)
		_, _ = c.Writer.WriteString("ab")
		_, _ = c.Writer.WriteString("éé")
		_, _ = c.Writer.WriteString("z")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader("hé€"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	records := auditRecords(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, "hé", records[0]["body"])
	assert.Equal(t, "ab", records[1]["body"])
	assert.Equal(t, "abééz", w.Body.String())
}

func TestAuditLogger_NoCapLogsFullBody(t *testing.T) {
	var buf bytes.Buffer
	large := strings.Repeat("x", 200<<10)
	r := newAuditRouter(&buf, AuditOptions{}, func(c *gin.Context) {
		c.String(http.StatusOK, large)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/users", nil))

	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, large, records[1]["body"])
}

func TestRuneBoundary(t *testing.T) {
	p := []byte("aé€")
	assert.Equal(t, 0, runeBoundary(p, 0))
	assert.Equal(t, 1, runeBoundary(p, 1))
	assert.Equal(t, 1, runeBoundary(p, 2))
	assert.Equal(t, 3, runeBoundary(p, 3))
	assert.Equal(t, 3, runeBoundary(p, 5))
	assert.Equal(t, 6, runeBoundary(p, 6))
	assert.Equal(t, 6, runeBoundary(p, 10))
}

func TestAuditLogger_ShortCircuitedDownstream(t *testing.T) {
	var buf bytes.Buffer
	r := newAuditRouter(&buf, AuditOptions{}, func(c *gin.Context) {
		apperrors.Abort(c, apperrors.NewNotFoundError(apperrors.CodeNotFound, apperrors.MsgNotFound))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/users", nil))

	records := auditRecords(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, float64(http.StatusNotFound), records[1]["status"])
	assert.JSONEq(t, `{"error":"Not found."}`, records[1]["body"].(string))
}

func TestAuditLogger_FaultStillLogsResponse(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "info", JSON: true, Output: &buf})

	r := gin.New()
	r.Use(apperrors.Barrier(nil), NewAuditLogger(log, AuditOptions{}).Middleware())
	r.GET("/api/users/throw", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/throw", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error."}`, w.Body.String())

	records := auditRecords(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, "Response", records[1]["msg"])
	assert.Equal(t, float64(http.StatusInternalServerError), records[1]["status"])
	assert.Equal(t, true, records[1]["fault"])
}
