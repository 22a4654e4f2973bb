package errors

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"user-management-api/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newBarrierRouter(buf *bytes.Buffer, onFault func(), handler gin.HandlerFunc) *gin.Engine {
	log := logger.New(logger.Config{Level: "debug", JSON: true, Output: buf})
	r := gin.New()
	r.Use(logger.Middleware(log), Barrier(onFault))
	r.GET("/test", handler)
	return r
}

func TestBarrier_ConvertsPanicTo500(t *testing.T) {
	tests := []struct {
		name  string
		fault any
	}{
		{"string", "database password is hunter2"},
		{"error", assert.AnError},
		{"runtime error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			faults := 0
			r := newBarrierRouter(&buf, func() { faults++ }, func(c *gin.Context) {
				if tt.fault == nil {
					var m map[string]int
					m["x"] = 1
				}
				panic(tt.fault)
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.JSONEq(t, `{"error":"Internal server error."}`, w.Body.String())
			assert.NotContains(t, w.Body.String(), "hunter2")
			assert.Equal(t, 1, faults)
			assert.Contains(t, buf.String(), `"level":"ERROR"`)
			assert.Contains(t, buf.String(), "Unhandled fault while processing request")
		})
	}
}

func TestBarrier_PassThrough(t *testing.T) {
	var buf bytes.Buffer
	faults := 0
	r := newBarrierRouter(&buf, func() { faults++ }, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, faults)
	assert.NotContains(t, buf.String(), "Unhandled fault")
}

func TestBarrier_PartiallyWrittenResponse(t *testing.T) {
	var buf bytes.Buffer
	r := newBarrierRouter(&buf, nil, func(c *gin.Context) {
		c.String(http.StatusAccepted, "partial")
		panic("late failure")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "partial", w.Body.String())
	assert.Contains(t, buf.String(), "late failure")
}

func TestBarrier_RepanicsAbortHandler(t *testing.T) {
	var buf bytes.Buffer
	r := newBarrierRouter(&buf, nil, func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	})
}

func TestBarrier_LogsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	r := newBarrierRouter(&buf, nil, func(c *gin.Context) {
		c.Set(CorrelationIDKey, "corr-1")
		panic("boom")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["msg"] == "Unhandled fault while processing request" {
			assert.Equal(t, "corr-1", rec["correlation_id"])
			assert.Equal(t, "boom", rec["error"])
			return
		}
	}
	t.Fatal("fault record not found")
}

func TestBarrier_ContainsFaultInInnerStage(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "debug", JSON: true, Output: &buf})
	faults := 0
	reached := false

	r := gin.New()
	r.Use(logger.Middleware(log), Barrier(func() { faults++ }))
	r.Use(func(c *gin.Context) {
		panic("stage failed: key store at 10.1.2.3 unavailable")
	})
	r.GET("/test", func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error."}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "10.1.2.3")
	assert.False(t, reached)
	assert.Equal(t, 1, faults)
	assert.Contains(t, buf.String(), "stage failed")
}
