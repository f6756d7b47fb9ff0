// Package config provides configuration management for the session service.
// It supports environment variable-based configuration with validation and
// default values for all service components including server, Redis,
// PostgreSQL, session lifecycle, background updater, reaper, and
// circuit-breaker settings.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// MinCookieSecretLength is the minimum required length for the session
	// cookie signing secret.
	MinCookieSecretLength = 32
	// MinPortNumber is the minimum valid port number.
	MinPortNumber = 1
	// MaxPortNumber is the maximum valid port number.
	MaxPortNumber = 65535
)

// Config represents the complete configuration for the session service,
// aggregating all component-specific configurations.
type Config struct {
	// Environment holds environment-specific settings.
	Environment EnvironmentConfig `envconfig:"ENVIRONMENT"`
	// Server contains HTTP server configuration including ports, timeouts, and TLS settings.
	Server ServerConfig `envconfig:"SERVER"`
	// Redis contains Redis connection and pool configuration for the session cache.
	Redis RedisConfig `envconfig:"REDIS"`
	// Postgres contains PostgreSQL database configuration for the token store.
	Postgres DatabaseConfig `envconfig:"POSTGRES"`
	// Session contains session lifecycle settings (limits, TTLs, timeouts).
	Session SessionConfig `envconfig:"SESSION"`
	// Updater contains background session-updater settings.
	Updater UpdaterConfig `envconfig:"UPDATER"`
	// Reaper contains session-reaper sweep intervals.
	Reaper ReaperConfig `envconfig:"REAPER"`
	// Breaker contains pool-health circuit-breaker thresholds.
	Breaker BreakerConfig `envconfig:"BREAKER"`
	// Identity contains the identity-provider exchange endpoint settings.
	Identity IdentityConfig `envconfig:"IDENTITY"`
	// Cookie contains signed session-cookie settings.
	Cookie CookieConfig `envconfig:"COOKIE"`
	// Security contains security-related settings like CORS and rate limiting.
	Security SecurityConfig `envconfig:"SECURITY"`
	// Logging contains logging configuration.
	Logging LoggingConfig `envconfig:"LOGGING"`
}

type Environment string

const (
	Local   Environment = "LOCAL"
	NonProd Environment = "NONPROD"
	Prod    Environment = "PROD"
)

// EnvironmentConfig holds environment-specific settings.
type EnvironmentConfig struct {
	// Environment indicates the current running environment (LOCAL, NONPROD, PROD).
	Environment Environment `envconfig:"ENV" default:"LOCAL"`
}

// ServerConfig holds HTTP server configuration including network settings,
// timeouts, and TLS certificate paths.
type ServerConfig struct {
	// Port is the HTTP server listening port.
	Port int `envconfig:"PORT"             default:"8080"`
	// Host is the network interface to bind to.
	Host string `envconfig:"HOST"             default:"0.0.0.0"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"     default:"15s"`
	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT"    default:"15s"`
	// IdleTimeout is the maximum amount of time to wait for keep-alive connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"     default:"60s"`
	// ShutdownTimeout is the maximum time to wait for graceful server shutdown.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	// TLSCert is the path to the TLS certificate file for HTTPS.
	TLSCert string `envconfig:"TLS_CERT"`
	// TLSKey is the path to the TLS private key file for HTTPS.
	TLSKey string `envconfig:"TLS_KEY"`
}

// RedisConfig contains Redis connection configuration including
// connection pool settings and timeouts.
type RedisConfig struct {
	// URL is the Redis connection URL.
	URL string `envconfig:"URL"           default:"redis://localhost:6379"`
	// Password is the Redis authentication password.
	Password string `envconfig:"PASSWORD"`
	// DB is the Redis database number to use.
	DB int `envconfig:"DB"            default:"0"`
	// MaxRetries is the maximum number of retry attempts for failed operations.
	MaxRetries int `envconfig:"MAX_RETRIES"   default:"3"`
	// PoolSize is the maximum number of socket connections.
	PoolSize int `envconfig:"POOL_SIZE"     default:"10"`
	// MinIdleConn is the minimum number of idle connections.
	MinIdleConn int `envconfig:"MIN_IDLE_CONN" default:"5"`
	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT"  default:"5s"`
	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"  default:"3s"`
	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	// PoolTimeout is the amount of time client waits for connection.
	PoolTimeout time.Duration `envconfig:"POOL_TIMEOUT"  default:"4s"`
	// IdleTimeout is the amount of time after which client closes idle connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"  default:"300s"`
}

// DatabaseConfig contains PostgreSQL database connection configuration
// including connection pool settings and health check parameters.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `envconfig:"HOST"                default:"localhost"`
	// Port is the PostgreSQL server port.
	Port int `envconfig:"PORT"                default:"5432"`
	// Database is the PostgreSQL database name.
	Database string `envconfig:"DB"                  default:"storesight"`
	// Schema is the PostgreSQL schema name.
	Schema string `envconfig:"SCHEMA"              default:"storesight"`
	// User is the database username (SESSION_DB_USER from env vars).
	User string `envconfig:"SESSION_DB_USER"`
	// Password is the database password (SESSION_DB_PASSWORD from env vars).
	Password string `envconfig:"SESSION_DB_PASSWORD"`
	// SSLMode is the SSL connection mode (disable, require, verify-ca, verify-full).
	SSLMode string `envconfig:"SSL_MODE"            default:"require"`
	// MaxConn is the maximum number of connections in the pool.
	MaxConn int32 `envconfig:"MAX_CONN"            default:"25"`
	// MinConn is the minimum number of connections in the pool.
	MinConn int32 `envconfig:"MIN_CONN"            default:"5"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME"   default:"1h"`
	// MaxConnIdleTime is the maximum idle time for a connection.
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME"  default:"30m"`
	// HealthCheckPeriod is how often to check database connectivity.
	HealthCheckPeriod time.Duration `envconfig:"HEALTH_CHECK_PERIOD" default:"30s"`
	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"     default:"10s"`
}

// SessionConfig contains session lifecycle settings: the per-shop concurrent
// session limit, session and cache TTLs, and the store-operation timeout used
// on the authentication critical path.
type SessionConfig struct {
	// MaxPerShop is the maximum number of concurrent active sessions per shop.
	MaxPerShop int `envconfig:"MAX_PER_SHOP"       default:"5"`
	// SessionTTL is the lifetime of a session from creation or refresh.
	SessionTTL time.Duration `envconfig:"TTL"                default:"168h"`
	// InactivityTimeout marks sessions stale when last access is older than this.
	InactivityTimeout time.Duration `envconfig:"INACTIVITY_TIMEOUT" default:"24h"`
	// CacheTTL is the lifetime of cached session entries. Must not exceed SessionTTL.
	CacheTTL time.Duration `envconfig:"CACHE_TTL"          default:"15m"`
	// HeartbeatInterval is the suggested client heartbeat period.
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"60s"`
	// StoreTimeout bounds every relational-store call on the request path.
	// Deliberately shorter than analytics query timeouts elsewhere: session
	// operations sit on the authentication critical path and must fail fast.
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT"      default:"3s"`
}

// UpdaterConfig contains settings for the asynchronous session updater's
// bounded work queue and worker pool.
type UpdaterConfig struct {
	// QueueSize is the capacity of the bounded task queue.
	QueueSize int `envconfig:"QUEUE_SIZE"       default:"256"`
	// Workers is the number of background workers consuming the queue.
	Workers int `envconfig:"WORKERS"          default:"3"`
	// EnqueueTimeout is how long a token-refresh enqueue may block on a full queue.
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT"  default:"2s"`
	// TaskTimeout bounds each background store operation.
	TaskTimeout time.Duration `envconfig:"TASK_TIMEOUT"     default:"5s"`
	// RefreshAttempts is the maximum number of attempts for a token refresh.
	RefreshAttempts int `envconfig:"REFRESH_ATTEMPTS" default:"3"`
	// RetryBackoff is the delay between token-refresh retry attempts.
	RetryBackoff time.Duration `envconfig:"RETRY_BACKOFF"    default:"500ms"`
}

// ReaperConfig contains sweep intervals for the three reaper tiers.
type ReaperConfig struct {
	// ExpiredInterval is how often expired sessions are hard-deleted.
	ExpiredInterval time.Duration `envconfig:"EXPIRED_INTERVAL" default:"15m"`
	// StaleInterval is how often stale sessions are marked inactive.
	StaleInterval time.Duration `envconfig:"STALE_INTERVAL"   default:"30m"`
	// DeepInterval is how often the cross-shop orphan sweep runs.
	DeepInterval time.Duration `envconfig:"DEEP_INTERVAL"    default:"12h"`
}

// BreakerConfig contains pool-health monitoring thresholds and the
// circuit-breaker cooldown window.
type BreakerConfig struct {
	// Interval is the monitoring tick period.
	Interval time.Duration `envconfig:"INTERVAL"           default:"30s"`
	// WarnThreshold is the pool utilization ratio above which warnings are logged.
	WarnThreshold float64 `envconfig:"WARN_THRESHOLD"     default:"0.85"`
	// CriticalThreshold is the utilization ratio above which the breaker may open.
	CriticalThreshold float64 `envconfig:"CRITICAL_THRESHOLD" default:"0.98"`
	// Cooldown is how long the breaker stays open before probing resumes.
	Cooldown time.Duration `envconfig:"COOLDOWN"           default:"5m"`
}

// IdentityConfig contains the identity-provider exchange endpoint
// configuration used to trade authorization codes for access tokens.
type IdentityConfig struct {
	// TokenURL is the provider endpoint that exchanges authorization codes.
	TokenURL string `envconfig:"TOKEN_URL"     default:"https://identity.storesight.io/oauth/token"`
	// ClientID is the application identifier registered with the provider.
	ClientID string `envconfig:"CLIENT_ID"`
	// ClientSecret is the application secret registered with the provider.
	ClientSecret string `envconfig:"CLIENT_SECRET"`
	// Timeout bounds the exchange HTTP call.
	Timeout time.Duration `envconfig:"TIMEOUT"       default:"10s"`
}

// CookieConfig contains signed session-cookie settings.
type CookieConfig struct {
	// Secret is the HMAC signing secret for session cookies (required, minimum 32 characters).
	Secret string `envconfig:"SECRET" required:"true"`
	// Issuer is the issuer claim embedded in signed cookies.
	Issuer string `envconfig:"ISSUER" default:"session-service"`
}

// SecurityConfig contains security-related settings including
// rate limiting, CORS configuration, and cookie security.
type SecurityConfig struct {
	// RateLimitRPS is the maximum requests per second per client.
	RateLimitRPS int `envconfig:"RATE_LIMIT_RPS"    default:"100"`
	// RateLimitBurst is the maximum burst size for rate limiting.
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST"  default:"200"`
	// AllowedOrigins are the CORS allowed origins.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"   default:"*"`
	// AllowedMethods are the CORS allowed HTTP methods.
	AllowedMethods []string `envconfig:"ALLOWED_METHODS"   default:"GET,POST,PUT,DELETE,OPTIONS"`
	// AllowedHeaders are the CORS allowed headers.
	AllowedHeaders []string `envconfig:"ALLOWED_HEADERS"   default:"*"`
	// AllowCredentials determines if CORS allows credentials.
	AllowCredentials bool `envconfig:"ALLOW_CREDENTIALS" default:"true"`
	// SecureCookies determines if cookies should be marked as secure.
	SecureCookies bool `envconfig:"SECURE_COOKIES"    default:"true"`
	// SameSiteCookies sets the SameSite attribute for cookies.
	SameSiteCookies string `envconfig:"SAME_SITE_COOKIES" default:"strict"`
}

// LoggingConfig contains logging configuration including
// log level, format, and output destination.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `envconfig:"LEVEL"  default:"info"`
	// Format is the log output format (json, text).
	Format string `envconfig:"FORMAT" default:"json"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `envconfig:"OUTPUT" default:"stdout"`
}

// Load reads configuration from environment variables, overlays optional
// YAML tuning files, and returns a validated Config instance. It returns an
// error if configuration is invalid or required values are missing.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := applyYAMLOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply YAML overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs comprehensive validation of all configuration values,
// ensuring they meet security and operational requirements.
func (c *Config) Validate() error {
	if c.Cookie.Secret == "" {
		return errors.New("cookie signing secret is required")
	}

	if len(c.Cookie.Secret) < MinCookieSecretLength {
		return fmt.Errorf("cookie signing secret must be at least %d characters long", MinCookieSecretLength)
	}

	if c.Server.Port < MinPortNumber || c.Server.Port > MaxPortNumber {
		return errors.New("server port must be between 1 and 65535")
	}

	if c.Session.MaxPerShop < 1 {
		return errors.New("max sessions per shop must be at least 1")
	}

	if c.Session.SessionTTL < time.Minute {
		return errors.New("session TTL must be at least 1 minute")
	}

	// A cache hit must always be upper-bounded by a still-valid session.
	if c.Session.CacheTTL > c.Session.SessionTTL {
		return errors.New("cache TTL must not exceed session TTL")
	}

	if c.Session.InactivityTimeout <= 0 {
		return errors.New("session inactivity timeout must be positive")
	}

	if c.Breaker.WarnThreshold <= 0 || c.Breaker.WarnThreshold > 1 {
		return errors.New("breaker warn threshold must be in (0, 1]")
	}

	if c.Breaker.CriticalThreshold <= 0 || c.Breaker.CriticalThreshold > 1 {
		return errors.New("breaker critical threshold must be in (0, 1]")
	}

	if c.Breaker.WarnThreshold >= c.Breaker.CriticalThreshold {
		return errors.New("breaker warn threshold must be below critical threshold")
	}

	if c.Breaker.Cooldown <= 0 {
		return errors.New("breaker cooldown must be positive")
	}

	if c.Updater.QueueSize < 1 {
		return errors.New("updater queue size must be at least 1")
	}

	if c.Updater.Workers < 1 {
		return errors.New("updater worker count must be at least 1")
	}

	return nil
}

// ServerAddr returns the formatted server address string in host:port format.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsTLSEnabled returns true if both TLS certificate and key paths are configured.
func (c *Config) IsTLSEnabled() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}

// PostgresDSN returns the PostgreSQL connection string (Data Source Name).
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s search_path=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.Database,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.SSLMode,
		c.Postgres.Schema,
	)
}

// IsPostgresConfigured returns true if database user and password are configured.
func (c *Config) IsPostgresConfigured() bool {
	return c.Postgres.User != "" && c.Postgres.Password != ""
}
