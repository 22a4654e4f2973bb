package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"user-management-api/backend/pkg/resilience"

	"github.com/redis/go-redis/v9"
)

// StatsEvent describes one admission decision
type StatsEvent struct {
	Key     string
	Allowed bool
	Method  string
	Path    string
	At      time.Time
}

// StatsRecorder persists decision statistics. Recording is best-effort: the
// caller never fails a request because of a recorder error.
type StatsRecorder interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Counters holds allowed and denied totals
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// atomicCounters is the lock-free form of Counters
type atomicCounters struct {
	allowed atomic.Int64
	denied  atomic.Int64
}

func (c *atomicCounters) add(allowed bool) {
	if allowed {
		c.allowed.Add(1)
	} else {
		c.denied.Add(1)
	}
}

func (c *atomicCounters) load() Counters {
	return Counters{Allowed: c.allowed.Load(), Denied: c.denied.Load()}
}

// MemoryStats keeps decision totals in process. It never expires entries.
// Recording takes no lock, so requests for different keys never wait on it.
type MemoryStats struct {
	total   atomicCounters
	byRoute sync.Map // route -> *atomicCounters
}

// NewMemoryStats creates an empty in-memory recorder
func NewMemoryStats() *MemoryStats {
	return &MemoryStats{}
}

// Record implements StatsRecorder
func (s *MemoryStats) Record(_ context.Context, ev StatsEvent) error {
	s.total.add(ev.Allowed)

	route := strings.TrimSpace(ev.Method + " " + ev.Path)
	c, ok := s.byRoute.Load(route)
	if !ok {
		c, _ = s.byRoute.LoadOrStore(route, &atomicCounters{})
	}
	c.(*atomicCounters).add(ev.Allowed)
	return nil
}

// Total returns the overall counters
func (s *MemoryStats) Total() Counters {
	return s.total.load()
}

// ByRoute returns a snapshot of the per-route counters
func (s *MemoryStats) ByRoute() map[string]Counters {
	out := make(map[string]Counters)
	s.byRoute.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomicCounters).load()
		return true
	})
	return out
}

// RedisStats writes decision counters to Redis hashes:
//
//	<prefix>:total                 allowed|denied
//	<prefix>:minute:<YYYYMMDDhhmm> allowed|denied, expires after ttl
//	<prefix>:route                 "<METHOD> <path>:allowed|denied"
//
// Client keys are not stored to keep cardinality bounded.
type RedisStats struct {
	rdb     redis.UniversalClient
	prefix  string
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
}

// RedisStatsOption configures a RedisStats
type RedisStatsOption func(*RedisStats)

// WithStatsPrefix sets the key prefix
func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStats) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithStatsTTL sets the expiry of per-minute buckets
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStats) { s.ttl = d }
}

// WithStatsBreaker guards writes with a circuit breaker so an unreachable
// Redis costs nothing once the breaker is open.
func WithStatsBreaker(cb *resilience.CircuitBreaker) RedisStatsOption {
	return func(s *RedisStats) { s.breaker = cb }
}

// NewRedisStats creates a recorder on rdb
func NewRedisStats(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStats {
	s := &RedisStats{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements StatsRecorder
func (s *RedisStats) Record(ctx context.Context, ev StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	if s.breaker == nil {
		return s.write(ctx, ev)
	}
	return s.breaker.Execute(func() error { return s.write(ctx, ev) })
}

func (s *RedisStats) write(ctx context.Context, ev StatsEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rate limit stats: %w", err)
	}
	return nil
}

// Multi fans an event out to several recorders and returns the first error
type Multi []StatsRecorder

// Record implements StatsRecorder
func (m Multi) Record(ctx context.Context, ev StatsEvent) error {
	var first error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
