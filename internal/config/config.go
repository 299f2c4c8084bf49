// Package config loads application configuration from the environment.
//
// An optional .env file in the working directory is read first; variables
// already present in the environment win over it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/opentrusty/tenantscope/internal/tenant"
)

// Session store kinds
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Session       SessionConfig
	Tenancy       TenancyConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	Bootstrap     BootstrapConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64       `env:"RATELIMIT_RPS" envDefault:"10"`
	Burst             int           `env:"RATELIMIT_BURST" envDefault:"20"`
	EvictAfter        time.Duration `env:"RATELIMIT_EVICT_AFTER" envDefault:"15m"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds database configuration. URL, when set, replaces the
// discrete connection fields.
type DatabaseConfig struct {
	URL          string `env:"DATABASE_URL"`
	Host         string `env:"DB_HOST" envDefault:"localhost"`
	Port         string `env:"DB_PORT" envDefault:"5432"`
	User         string `env:"DB_USER" envDefault:"tenantscope"`
	Password     string `env:"DB_PASSWORD"`
	Database     string `env:"DB_NAME" envDefault:"tenantscope"`
	SSLMode      string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
}

// RedisConfig holds Redis connection settings, used when sessions live in Redis
type RedisConfig struct {
	URL            string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"10s"`
}

// SessionConfig holds session management configuration
type SessionConfig struct {
	Store           string        `env:"SESSION_STORE" envDefault:"postgres"`
	CookieName      string        `env:"SESSION_COOKIE_NAME" envDefault:"tenantscope_session"`
	Lifetime        time.Duration `env:"SESSION_LIFETIME" envDefault:"24h"`
	IdleTimeout     time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	CleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`
}

// TenancyConfig selects the tenant resolution strategy
type TenancyConfig struct {
	Strategy   string `env:"TENANT_STRATEGY" envDefault:"by_user"`
	HostSuffix string `env:"TENANT_HOST_SUFFIX"`
}

// AuthConfig holds token verification settings. An empty secret disables
// the simplejwt scheme.
type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"tenantscope"`
	JWTLeeway time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
	AccessTTL time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"json"`
	OTELEnabled    bool   `env:"OTEL_ENABLED" envDefault:"false"`
	ServiceName    string `env:"OTEL_SERVICE_NAME" envDefault:"tenantscope"`
	ServiceVersion string `env:"OTEL_SERVICE_VERSION" envDefault:"0.1.0"`
}

// BootstrapConfig seeds the first tenant, user and membership
type BootstrapConfig struct {
	TenantSlug string `env:"BOOTSTRAP_TENANT_SLUG"`
	TenantName string `env:"BOOTSTRAP_TENANT_NAME"`
	UserEmail  string `env:"BOOTSTRAP_USER_EMAIL"`
	UserName   string `env:"BOOTSTRAP_USER_NAME"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom loads configuration from the given variables only
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" && c.Database.Password == "" {
		errs = append(errs, errors.New("DATABASE_URL or DB_PASSWORD is required"))
	}

	if _, err := tenant.ParseStrategy(c.Tenancy.Strategy); err != nil {
		errs = append(errs, err)
	}

	switch c.Session.Store {
	case SessionStorePostgres, SessionStoreRedis:
	default:
		errs = append(errs, fmt.Errorf("invalid SESSION_STORE %q", c.Session.Store))
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 bytes"))
	}

	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATELIMIT_RPS and RATELIMIT_BURST must be positive"))
	}

	for name, d := range map[string]time.Duration{
		"SERVER_REQUEST_TIMEOUT":   c.Server.RequestTimeout,
		"SESSION_LIFETIME":         c.Session.Lifetime,
		"SESSION_IDLE_TIMEOUT":     c.Session.IdleTimeout,
		"SESSION_CLEANUP_INTERVAL": c.Session.CleanupInterval,
		"RATELIMIT_EVICT_AFTER":    c.RateLimit.EvictAfter,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	return errors.Join(errs...)
}

// Strategy returns the parsed tenant strategy. Validate must have passed.
func (c *Config) Strategy() tenant.Strategy {
	return tenant.Strategy(c.Tenancy.Strategy)
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// BootstrapReady reports whether the bootstrap variables are all set
func (c *Config) BootstrapReady() bool {
	b := c.Bootstrap
	return b.TenantSlug != "" && b.TenantName != "" && strings.Contains(b.UserEmail, "@")
}
