package middleware

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	apperrors "user-management-api/backend/pkg/errors"
	"user-management-api/backend/pkg/logger"
	"user-management-api/backend/pkg/metrics"
	"user-management-api/backend/pkg/ratelimit"
	"user-management-api/backend/pkg/resilience"

	"github.com/gin-gonic/gin"
)

// RateLimiterOptions configures the rate limiter
type RateLimiterOptions struct {
	// KeyFunc extracts the limiting key from a request
	KeyFunc KeyFunc
	// Stats receives every decision, best-effort
	Stats ratelimit.StatsRecorder
	// StatsTimeout bounds a single stats write
	StatsTimeout time.Duration
	// Metrics counts decisions
	Metrics *metrics.Metrics
	// Headers enables the X-RateLimit-* response headers
	Headers bool
	// Now is the clock; tests replace it
	Now func() time.Time
}

// DefaultRateLimiterOptions returns sensible defaults
func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		KeyFunc:      ExtractKey,
		StatsTimeout: 50 * time.Millisecond,
		Headers:      true,
		Now:          time.Now,
	}
}

// RateLimiter is the gin stage in front of a ratelimit.Limiter
type RateLimiter struct {
	limiter *ratelimit.Limiter
	options RateLimiterOptions
	logger  *logger.Logger
}

// NewRateLimiter creates a new rate limiter stage
func NewRateLimiter(limiter *ratelimit.Limiter, log *logger.Logger, options ...RateLimiterOptions) *RateLimiter {
	opts := DefaultRateLimiterOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = ExtractKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StatsTimeout <= 0 {
		opts.StatsTimeout = 50 * time.Millisecond
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	return &RateLimiter{
		limiter: limiter,
		options: opts,
		logger:  log,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := r.options.Now()
		key := r.options.KeyFunc(c.Request)

		decision := r.limiter.Admit(key, now)
		r.options.Metrics.ObserveDecision(decision.Allowed)
		r.recordStats(c, decision, now)

		if r.options.Headers {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}

		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter(now))))
			apperrors.Abort(c, apperrors.NewTooManyRequestsError(apperrors.CodeRateLimited, apperrors.MsgRateLimited))
			return
		}

		c.Next()
	}
}

func (r *RateLimiter) recordStats(c *gin.Context, d ratelimit.Decision, now time.Time) {
	if r.options.Stats == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), r.options.StatsTimeout)
	defer cancel()

	err := r.options.Stats.Record(ctx, ratelimit.StatsEvent{
		Key:     d.Key,
		Allowed: d.Allowed,
		Method:  c.Request.Method,
		Path:    routeOf(c),
		At:      now,
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		r.logger.Debug("Failed to record rate limit stats", "error", err.Error())
	}
}

// routeOf returns the matched route pattern, keeping stats cardinality bounded
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
