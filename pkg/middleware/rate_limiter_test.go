package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	apperrors "user-management-api/backend/pkg/errors"
	"user-management-api/backend/pkg/logger"
	"user-management-api/backend/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractKey(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"10.0.0.1:5555", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"},
		{"", UnknownClientKey},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			assert.Equal(t, tt.want, ExtractKey(req))
		})
	}
}

func TestExtractKey_IgnoresForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "10.0.0.1", ExtractKey(req))
}

func newRateLimitedRouter(t *testing.T, limit int, now *time.Time, stats ratelimit.StatsRecorder) (*gin.Engine, *int) {
	t.Helper()
	limiter, err := ratelimit.NewLimiter(ratelimit.Config{Limit: limit, Window: time.Minute}, nil, logger.Discard())
	require.NoError(t, err)

	opts := DefaultRateLimiterOptions()
	opts.Now = func() time.Time { return *now }
	opts.Stats = stats
	rl := NewRateLimiter(limiter, logger.Discard(), opts)

	calls := 0
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/api/users", func(c *gin.Context) {
		calls++
		c.Status(http.StatusOK)
	})
	return r, &calls
}

func doFrom(r http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_Middleware(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	stats := ratelimit.NewMemoryStats()
	r, calls := newRateLimitedRouter(t, 2, &now, stats)

	w := doFrom(r, "1.1.1.1:1000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(now.Add(time.Minute).Unix(), 10), w.Header().Get("X-RateLimit-Reset"))

	// same IP from another port shares the bucket
	assert.Equal(t, http.StatusOK, doFrom(r, "1.1.1.1:2000").Code)

	now = now.Add(15 * time.Second)
	w = doFrom(r, "1.1.1.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"Rate limit exceeded. Try again later."}`, w.Body.String())
	assert.Equal(t, "45", w.Header().Get("Retry-After"))
	assert.Equal(t, 2, *calls)

	// other clients are unaffected
	assert.Equal(t, http.StatusOK, doFrom(r, "2.2.2.2:1000").Code)
	assert.Equal(t, 3, *calls)

	assert.Equal(t, ratelimit.Counters{Allowed: 3, Denied: 1}, stats.Total())
	assert.Equal(t, ratelimit.Counters{Allowed: 3, Denied: 1}, stats.ByRoute()["GET /api/users"])
}

func TestRateLimiter_WindowReset(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r, _ := newRateLimitedRouter(t, 1, &now, nil)

	assert.Equal(t, http.StatusOK, doFrom(r, "1.1.1.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doFrom(r, "1.1.1.1:1").Code)

	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusOK, doFrom(r, "1.1.1.1:1").Code)
}

func TestRateLimiter_HeadersDisabled(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.Config{Limit: 1, Window: time.Minute}, nil, logger.Discard())
	require.NoError(t, err)
	rl := NewRateLimiter(limiter, logger.Discard(), RateLimiterOptions{})

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/api/users", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doFrom(r, "1.1.1.1:1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))

	w = doFrom(r, "1.1.1.1:1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 60, retryAfterSeconds(time.Minute))
}

// keyGatedStats blocks recording for one client key until released
type keyGatedStats struct {
	key     string
	entered chan struct{}
	release chan struct{}
	mem     *ratelimit.MemoryStats
}

func (s *keyGatedStats) Record(ctx context.Context, ev ratelimit.StatsEvent) error {
	if ev.Key == s.key {
		close(s.entered)
		<-s.release
	}
	return s.mem.Record(ctx, ev)
}

func TestRateLimiter_DistinctKeysDoNotWaitOnEachOther(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	stats := &keyGatedStats{
		key:     "10.0.0.1",
		entered: make(chan struct{}),
		release: make(chan struct{}),
		mem:     ratelimit.NewMemoryStats(),
	}
	limiter, err := ratelimit.NewLimiter(ratelimit.Config{Limit: 5, Window: time.Minute}, nil, logger.Discard())
	require.NoError(t, err)
	opts := DefaultRateLimiterOptions()
	opts.Now = func() time.Time { return now }
	opts.Stats = stats
	opts.StatsTimeout = time.Minute

	r := gin.New()
	r.Use(NewRateLimiter(limiter, logger.Discard(), opts).Middleware())
	r.GET("/api/users", func(c *gin.Context) { c.Status(http.StatusOK) })

	slowDone := make(chan int)
	go func() { slowDone <- doFrom(r, "10.0.0.1:1").Code }()
	<-stats.entered

	// 10.0.0.1 is parked inside the stage; other clients still get through
	var wg sync.WaitGroup
	codes := make([]int, 20)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = doFrom(r, fmt.Sprintf("10.1.0.%d:1", i)).Code
		}(i)
	}

	finished := make(chan struct{})
	go func() { wg.Wait(); close(finished) }()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("requests for other keys waited on a parked key")
	}
	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	close(stats.release)
	assert.Equal(t, http.StatusOK, <-slowDone)
	assert.Equal(t, ratelimit.Counters{Allowed: 21}, stats.mem.Total())
}

func TestRateLimiter_KeyFuncFaultContainedByBarrier(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.Config{Limit: 5, Window: time.Minute}, nil, logger.Discard())
	require.NoError(t, err)
	opts := DefaultRateLimiterOptions()
	opts.KeyFunc = func(*http.Request) string { panic("resolver exploded: secret-detail") }

	auth, err := NewTokenAuthenticator("tok", logger.Discard(), nil)
	require.NoError(t, err)

	reached := false
	r := gin.New()
	r.Use(
		apperrors.Barrier(nil),
		NewRateLimiter(limiter, logger.Discard(), opts).Middleware(),
		auth.Middleware(),
	)
	r.GET("/api/users", func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error."}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret-detail")
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	assert.False(t, reached)
}
