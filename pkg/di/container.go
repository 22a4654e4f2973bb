package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"user-management-api/backend/internal/repository"
	"user-management-api/backend/internal/service"
	"user-management-api/backend/pkg/config"
	apperrors "user-management-api/backend/pkg/errors"
	"user-management-api/backend/pkg/health"
	"user-management-api/backend/pkg/logger"
	"user-management-api/backend/pkg/metrics"
	"user-management-api/backend/pkg/middleware"
	"user-management-api/backend/pkg/observability"
	"user-management-api/backend/pkg/pipeline"
	"user-management-api/backend/pkg/ratelimit"
	"user-management-api/backend/pkg/resilience"
	"user-management-api/backend/pkg/secrets"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config      *config.Config
	Logger      *logger.Logger
	AuditLogger *logger.Logger
	Metrics     *metrics.Metrics
	Telemetry   *observability.Telemetry

	DB          *gorm.DB
	Redis       redis.UniversalClient
	Repository  repository.UserRepository
	UserService *service.UserService

	Limiter      *ratelimit.Limiter
	Stats        *ratelimit.MemoryStats
	StatsBreaker *resilience.CircuitBreaker
	Pipeline     *pipeline.Pipeline
	Health       *health.Checker

	closers []func(context.Context) error
	cancel  context.CancelFunc
}

// Options overrides the outputs and external resources the container would
// otherwise create from the configuration
type Options struct {
	// LogOutput receives application logs (defaults to os.Stderr)
	LogOutput io.Writer
	// AuditOutput receives audit records (defaults to os.Stdout)
	AuditOutput io.Writer
	// TraceOutput receives exported spans when tracing is enabled (defaults to os.Stdout)
	TraceOutput io.Writer
	// Secrets replaces the environment/Vault secret lookup
	Secrets secrets.Manager
	// DB is used instead of opening a connection for the postgres store
	DB *gorm.DB
	// Now is the rate limiter clock
	Now func() time.Time
}

// New creates a new dependency injection container
func New(ctx context.Context, cfg *config.Config, options ...Options) (*Container, error) {
	var opts Options
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.AuditOutput == nil {
		opts.AuditOutput = os.Stdout
	}
	if opts.TraceOutput == nil {
		opts.TraceOutput = os.Stdout
	}

	c := &Container{Config: cfg}
	bgCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if err := c.build(ctx, bgCtx, opts); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx, bgCtx context.Context, opts Options) error {
	cfg := c.Config

	// Initialize the logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	logConfig.Output = opts.LogOutput
	c.Logger = logger.New(logConfig)
	logger.SetGlobal(c.Logger)

	auditConfig := logConfig
	auditConfig.Output = opts.AuditOutput
	if cfg.Logging.AuditAsync {
		sink := logger.NewAsyncWriter(opts.AuditOutput, cfg.Logging.AuditBufferSize, logConfig.JSON)
		auditConfig.Output = sink
		c.addCloser(func(context.Context) error { return sink.Close() })
	}
	c.AuditLogger = logger.New(auditConfig)

	// Metrics and telemetry share one registry
	c.Metrics = metrics.New(nil)
	mp, err := observability.SetupMetrics(cfg.Telemetry.ServiceName, c.Metrics.Registry())
	if err != nil {
		return err
	}
	c.addCloser(mp.Shutdown)
	if cfg.Telemetry.TracingEnabled {
		shutdown, err := observability.SetupTracing(cfg.Telemetry.ServiceName, opts.TraceOutput)
		if err != nil {
			return err
		}
		c.addCloser(shutdown)
	}
	c.Telemetry, err = observability.NewTelemetry(nil, mp)
	if err != nil {
		return err
	}

	token, err := c.resolveToken(ctx, opts.Secrets)
	if err != nil {
		return err
	}

	if err := c.buildStore(ctx, opts.DB); err != nil {
		return err
	}
	c.UserService = service.NewUserService(c.Repository, c.Logger)

	// Rate limiting
	c.Limiter, err = ratelimit.NewLimiter(ratelimit.Config{
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateLimit.Window(),
	}, nil, c.Logger)
	if err != nil {
		return err
	}
	c.Metrics.TrackKeys(c.Limiter.Store().Len)
	if cfg.RateLimit.SweepInterval > 0 {
		c.Limiter.StartJanitor(bgCtx, cfg.RateLimit.SweepInterval)
	}

	c.Stats = ratelimit.NewMemoryStats()
	var recorder ratelimit.StatsRecorder = c.Stats
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		c.Redis = redis.NewClient(redisOpts)
		c.addCloser(func(context.Context) error { return c.Redis.Close() })

		c.StatsBreaker = resilience.NewCircuitBreaker(resilience.DefaultConfig("redis-stats"), c.Logger)
		redisStats := ratelimit.NewRedisStats(c.Redis,
			ratelimit.WithStatsPrefix(cfg.RateLimit.StatsPrefix),
			ratelimit.WithStatsTTL(cfg.RateLimit.StatsTTL),
			ratelimit.WithStatsBreaker(c.StatsBreaker),
		)
		// Redis writes leave the request path; the in-memory counters stay inline
		async := ratelimit.NewAsyncRecorder(redisStats, 0, 100*time.Millisecond, c.Logger)
		c.addCloser(func(context.Context) error { return async.Close() })
		recorder = ratelimit.Multi{c.Stats, async}
	}

	rlOptions := middleware.DefaultRateLimiterOptions()
	rlOptions.Stats = recorder
	rlOptions.Metrics = c.Metrics
	rlOptions.Headers = cfg.RateLimit.Headers
	if opts.Now != nil {
		rlOptions.Now = opts.Now
	}
	rateLimiter := middleware.NewRateLimiter(c.Limiter, c.Logger, rlOptions)

	authenticator, err := middleware.NewTokenAuthenticator(token, c.Logger, c.Metrics)
	if err != nil {
		return err
	}

	audit := middleware.NewAuditLogger(c.AuditLogger, middleware.AuditOptions{
		MaxBodyBytes: cfg.Logging.AuditMaxBodyBytes,
	})

	order, err := pipeline.ParseOrder(cfg.Pipeline.Order)
	if err != nil {
		return err
	}
	c.Pipeline, err = pipeline.New(order, map[pipeline.Stage]gin.HandlerFunc{
		pipeline.StageFailureBarrier: apperrors.Barrier(c.Metrics.Fault),
		pipeline.StageRateLimit:      rateLimiter.Middleware(),
		pipeline.StageAuth:           authenticator.Middleware(),
		pipeline.StageAudit:          audit.Middleware(),
	})
	if err != nil {
		return err
	}
	c.Logger.Info("Request pipeline configured", "order", c.Pipeline.String())

	c.buildHealth()
	return nil
}

// resolveToken looks the bearer secret up in Vault when enabled, falling back
// to the environment and finally to the configured value
func (c *Container) resolveToken(ctx context.Context, manager secrets.Manager) (string, error) {
	cfg := c.Config
	key := cfg.Auth.Vault.TokenKey
	if key == "" {
		key = "auth_token"
	}

	if manager == nil && cfg.Auth.Vault.Enabled {
		vm, err := secrets.NewVaultManager(secrets.VaultConfig{
			Address:   cfg.Auth.Vault.Address,
			Token:     cfg.Auth.Vault.Token,
			Namespace: cfg.Auth.Vault.Namespace,
			Mount:     cfg.Auth.Vault.Mount,
			Path:      cfg.Auth.Vault.Path,
		}, secrets.NewEnvManager(), c.Logger)
		if err != nil {
			return "", fmt.Errorf("init vault: %w", err)
		}
		manager = vm
	}

	token := cfg.Auth.Token
	if manager != nil {
		token = secrets.GetSecretWithDefault(ctx, manager, key, token)
	}
	if token == "" {
		return "", middleware.ErrEmptyToken
	}
	return token, nil
}

func (c *Container) buildStore(ctx context.Context, db *gorm.DB) error {
	switch c.Config.Store.Driver {
	case config.StorePostgres:
		if db == nil {
			var err error
			db, err = config.NewDB(ctx, c.Config, c.Logger)
			if err != nil {
				return err
			}
			c.addCloser(func(context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			})
		}
		repo := repository.NewGormUserRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate users: %w", err)
		}
		c.DB = db
		c.Repository = repo
	default:
		c.Repository = repository.NewMemoryUserRepository()
	}
	return nil
}

func (c *Container) buildHealth() {
	c.Health = health.NewChecker(c.Logger, 2*time.Second)

	driver := c.Config.Store.Driver
	c.Health.RegisterCheck("store", true, func(ctx context.Context) (string, error) {
		return driver, c.Repository.Ping(ctx)
	})

	store := c.Limiter.Store()
	stats := c.Stats
	c.Health.RegisterCheck("rate_limiter", false, func(context.Context) (string, error) {
		total := stats.Total()
		return fmt.Sprintf("%d tracked keys, %d allowed, %d denied", store.Len(), total.Allowed, total.Denied), nil
	})

	if c.Redis != nil {
		c.Health.RegisterCheck("redis", false, func(ctx context.Context) (string, error) {
			if c.StatsBreaker.State() == resilience.StateOpen {
				return "", resilience.ErrCircuitOpen
			}
			return "stats", c.Redis.Ping(ctx).Err()
		})
	}
}

func (c *Container) addCloser(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

// Close stops background work and releases resources in reverse order
func (c *Container) Close(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
