package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"user-management-api/backend/pkg/pipeline"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            string        `yaml:"port"`
	Env             string        `yaml:"env"`
	Version         string        `yaml:"version"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// EnableFaultRoute defaults to true outside production
	EnableFaultRoute *bool `yaml:"enable_fault_route"`
}

// FaultRouteEnabled reports whether GET /api/users/throw is mounted
func (s ServerConfig) FaultRouteEnabled() bool {
	if s.EnableFaultRoute != nil {
		return *s.EnableFaultRoute
	}
	return s.Env != "production"
}

// AuthConfig holds the bearer secret and where to resolve it from
type AuthConfig struct {
	Token string      `yaml:"token"`
	Vault VaultConfig `yaml:"vault"`
}

// VaultConfig configures the optional Vault lookup of the bearer secret
type VaultConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Token     string `yaml:"token"`
	Namespace string `yaml:"namespace"`
	Mount     string `yaml:"mount"`
	Path      string `yaml:"path"`
	TokenKey  string `yaml:"token_key"`
}

// RateLimitConfig configures the fixed-window limiter
type RateLimitConfig struct {
	Limit         int           `yaml:"limit"`
	WindowMinutes int           `yaml:"window_minutes"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Headers       bool          `yaml:"headers"`
	StatsPrefix   string        `yaml:"stats_prefix"`
	StatsTTL      time.Duration `yaml:"stats_ttl"`
}

// Window returns the window length
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// PipelineConfig orders the request stages
type PipelineConfig struct {
	Order []string `yaml:"order"`
}

// LoggingConfig configures the application and audit logs
type LoggingConfig struct {
	Level             string `yaml:"level"`
	Format            string `yaml:"format"`
	AuditAsync        bool   `yaml:"audit_async"`
	AuditBufferSize   int    `yaml:"audit_buffer_size"`
	AuditMaxBodyBytes int    `yaml:"audit_max_body_bytes"`
}

// RedisConfig enables Redis-backed rate limit statistics when URL is set
type RedisConfig struct {
	URL string `yaml:"url"`
}

// StoreConfig selects the user store
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// TelemetryConfig configures tracing
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
}

// Load builds the configuration: defaults, then the .env file, then the YAML
// file at path (or $CONFIG_FILE), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// a missing .env file is fine
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	cfg := &Config{}

	cfg.Server.Port = "8080"
	cfg.Server.Env = "development"
	cfg.Server.Version = "1.0.0"
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Auth.Vault.Mount = "secret"
	cfg.Auth.Vault.Path = "user-management-api"
	cfg.Auth.Vault.TokenKey = "auth_token"

	cfg.RateLimit.Limit = 100
	cfg.RateLimit.WindowMinutes = 1
	cfg.RateLimit.Headers = true
	cfg.RateLimit.StatsPrefix = "ratelimit:stats"
	cfg.RateLimit.StatsTTL = 24 * time.Hour

	for _, s := range pipeline.DefaultOrder {
		cfg.Pipeline.Order = append(cfg.Pipeline.Order, string(s))
	}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AuditBufferSize = 1024

	cfg.Store.Driver = StoreMemory
	cfg.Store.MaxConns = 20

	cfg.Telemetry.ServiceName = "user-management-api"
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) error {
	e := &envReader{}

	cfg.Server.Port = e.str("PORT", cfg.Server.Port)
	cfg.Server.Env = e.str("APP_ENV", cfg.Server.Env)
	cfg.Server.Version = e.str("APP_VERSION", cfg.Server.Version)
	cfg.Server.ShutdownTimeout = e.duration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	if v, ok := os.LookupEnv("ENABLE_FAULT_ROUTE"); ok && v != "" {
		enabled := e.boolean("ENABLE_FAULT_ROUTE", false)
		cfg.Server.EnableFaultRoute = &enabled
	}

	cfg.Auth.Token = e.str("AUTH_TOKEN", cfg.Auth.Token)
	cfg.Auth.Vault.Enabled = e.boolean("VAULT_ENABLED", cfg.Auth.Vault.Enabled)
	cfg.Auth.Vault.Address = e.str("VAULT_ADDR", cfg.Auth.Vault.Address)
	cfg.Auth.Vault.Token = e.str("VAULT_TOKEN", cfg.Auth.Vault.Token)
	cfg.Auth.Vault.Namespace = e.str("VAULT_NAMESPACE", cfg.Auth.Vault.Namespace)
	cfg.Auth.Vault.Mount = e.str("VAULT_MOUNT", cfg.Auth.Vault.Mount)
	cfg.Auth.Vault.Path = e.str("VAULT_SECRETS_PATH", cfg.Auth.Vault.Path)
	cfg.Auth.Vault.TokenKey = e.str("VAULT_AUTH_TOKEN_KEY", cfg.Auth.Vault.TokenKey)

	cfg.RateLimit.Limit = e.integer("RATE_LIMIT", cfg.RateLimit.Limit)
	cfg.RateLimit.WindowMinutes = e.integer("RATE_LIMIT_WINDOW_MINUTES", cfg.RateLimit.WindowMinutes)
	cfg.RateLimit.SweepInterval = e.duration("RATE_LIMIT_SWEEP_INTERVAL", cfg.RateLimit.SweepInterval)
	cfg.RateLimit.Headers = e.boolean("RATE_LIMIT_HEADERS", cfg.RateLimit.Headers)
	cfg.RateLimit.StatsPrefix = e.str("RATE_LIMIT_STATS_PREFIX", cfg.RateLimit.StatsPrefix)
	cfg.RateLimit.StatsTTL = e.duration("RATE_LIMIT_STATS_TTL", cfg.RateLimit.StatsTTL)

	cfg.Pipeline.Order = e.list("PIPELINE_ORDER", cfg.Pipeline.Order)

	cfg.Logging.Level = e.str("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = e.str("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.AuditAsync = e.boolean("AUDIT_ASYNC", cfg.Logging.AuditAsync)
	cfg.Logging.AuditBufferSize = e.integer("AUDIT_BUFFER_SIZE", cfg.Logging.AuditBufferSize)
	cfg.Logging.AuditMaxBodyBytes = e.integer("AUDIT_MAX_BODY_BYTES", cfg.Logging.AuditMaxBodyBytes)

	cfg.Redis.URL = e.str("REDIS_URL", cfg.Redis.URL)

	cfg.Store.Driver = e.str("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = e.str("DATABASE_DSN", cfg.Store.DSN)
	cfg.Store.MaxConns = e.integer("DB_MAX_CONNS", cfg.Store.MaxConns)

	cfg.Telemetry.ServiceName = e.str("SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.TracingEnabled = e.boolean("TRACING_ENABLED", cfg.Telemetry.TracingEnabled)

	return errors.Join(e.errs...)
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.Token == "" && !c.Auth.Vault.Enabled {
		errs = append(errs, errors.New("AUTH_TOKEN is required"))
	}
	if c.Auth.Vault.Enabled && (c.Auth.Vault.Address == "" || c.Auth.Vault.Token == "") {
		errs = append(errs, errors.New("VAULT_ADDR and VAULT_TOKEN are required when Vault is enabled"))
	}
	if c.RateLimit.Limit <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT must be > 0, got %d", c.RateLimit.Limit))
	}
	if c.RateLimit.WindowMinutes <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW_MINUTES must be > 0, got %d", c.RateLimit.WindowMinutes))
	}
	if c.RateLimit.SweepInterval < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_SWEEP_INTERVAL must not be negative"))
	}
	if _, err := pipeline.ParseOrder(c.Pipeline.Order); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logging.Format))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be memory or postgres, got %q", c.Store.Driver))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SERVER_SHUTDOWN_TIMEOUT must be > 0"))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// envReader reads typed environment variables, collecting parse errors
type envReader struct {
	errs []error
}

func (e *envReader) str(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func (e *envReader) integer(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return intVal
}

func (e *envReader) boolean(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return boolVal
}

func (e *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return duration
}

func (e *envReader) list(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
