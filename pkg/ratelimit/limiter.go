package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"user-management-api/backend/pkg/logger"
)

// ErrInvalidConfig is returned for a non-positive limit or window
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Config is the immutable limiter configuration
type Config struct {
	// Limit is the number of requests admitted per key and window
	Limit int
	// Window is the fixed window length
	Window time.Duration
}

// Validate checks that limit and window are positive
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0, got %d", ErrInvalidConfig, c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got %s", ErrInvalidConfig, c.Window)
	}
	return nil
}

// Decision is the outcome of one admission check
type Decision struct {
	Allowed   bool
	Key       string
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the key's window resets
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.After(now) {
		return d.ResetAt.Sub(now)
	}
	return 0
}

// Limiter admits or denies requests per key with a fixed-window counter.
// Windows start at the first request of a key and are reset by wall-clock
// time, so a burst straddling a boundary is clipped rather than smoothed.
type Limiter struct {
	cfg   Config
	store *CounterStore
	log   *logger.Logger
}

// NewLimiter creates a limiter over store
func NewLimiter(cfg Config, store *CounterStore, log *logger.Logger) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = NewCounterStore()
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Limiter{cfg: cfg, store: store, log: log.WithComponent("ratelimit")}, nil
}

// Config returns the limiter configuration
func (l *Limiter) Config() Config {
	return l.cfg
}

// Store returns the counter store backing the limiter
func (l *Limiter) Store() *CounterStore {
	return l.store
}

// Admit counts one request for key at now. The first Limit requests of a
// window are allowed, every later one is denied until the window resets.
func (l *Limiter) Admit(key string, now time.Time) Decision {
	state := l.store.Hit(key, now, l.cfg.Window)

	d := Decision{
		Allowed: state.Count <= l.cfg.Limit,
		Key:     key,
		Count:   state.Count,
		Limit:   l.cfg.Limit,
		ResetAt: state.WindowStart.Add(l.cfg.Window),
	}
	if d.Allowed {
		d.Remaining = l.cfg.Limit - state.Count
	} else {
		l.log.Warn("Rate limit exceeded", "key", key, "count", state.Count, "limit", l.cfg.Limit)
	}
	return d
}

// StartJanitor periodically sweeps counters idle for a full window until ctx
// is done. A non-positive interval disables sweeping.
func (l *Limiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := l.store.Sweep(now, l.cfg.Window, l.cfg.Window); n > 0 {
					l.log.Debug("Swept idle rate limit counters", "removed", n, "tracked", l.store.Len())
				}
			}
		}
	}()
}
