package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the link rotation service.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Tracking   TrackingConfig
	LinkCheck  LinkCheckConfig
	Redirect   RedirectConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// ClickHouseConfig configures the event warehouse connection.
type ClickHouseConfig struct {
	Enabled       bool
	Addr          string
	Database      string
	User          string
	Password      string
	BatchSize     int
	FlushInterval time.Duration
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled       bool
	RedirectRPS   float64
	RedirectBurst int
	AdminRPS      float64
	AdminBurst    int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of click events.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// TrackingConfig controls the background tracking queue and conversion
// attribution.
type TrackingConfig struct {
	QueueSize       int
	Workers         int
	MaxRetries      int
	RetryBackoff    time.Duration
	LookbackWindow  time.Duration
	SessionCookie   string
}

// LinkCheckConfig controls bulk link health probing.
type LinkCheckConfig struct {
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
}

// RedirectConfig holds the fallback destinations for the fail-open
// redirect path.
type RedirectConfig struct {
	NotFoundURL string
	ErrorURL    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("LINKROTATOR_HTTP_ADDR", ":8080"),
			Env:             getEnv("LINKROTATOR_ENV", "development"),
			ShutdownTimeout: getDurationEnv("LINKROTATOR_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("LINKROTATOR_DB_HOST", "localhost"),
			Port:     getIntEnv("LINKROTATOR_DB_PORT", 5432),
			User:     getEnv("LINKROTATOR_DB_USER", "linkrotator"),
			Password: getEnv("LINKROTATOR_DB_PASSWORD", "linkrotator_secret"),
			DBName:   getEnv("LINKROTATOR_DB_NAME", "linkrotator"),
			SSLMode:  getEnv("LINKROTATOR_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("LINKROTATOR_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("LINKROTATOR_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("LINKROTATOR_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("LINKROTATOR_REDIS_PASSWORD", ""),
			DB:       getIntEnv("LINKROTATOR_REDIS_DB", 0),
			CacheTTL: getDurationEnv("LINKROTATOR_REDIS_CACHE_TTL", time.Hour),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:       getBoolEnv("LINKROTATOR_CLICKHOUSE_ENABLED", false),
			Addr:          getEnv("LINKROTATOR_CLICKHOUSE_ADDR", "localhost:9000"),
			Database:      getEnv("LINKROTATOR_CLICKHOUSE_DB", "linkrotator"),
			User:          getEnv("LINKROTATOR_CLICKHOUSE_USER", "default"),
			Password:      getEnv("LINKROTATOR_CLICKHOUSE_PASSWORD", ""),
			BatchSize:     getIntEnv("LINKROTATOR_CLICKHOUSE_BATCH_SIZE", 500),
			FlushInterval: getDurationEnv("LINKROTATOR_CLICKHOUSE_FLUSH_INTERVAL", 5*time.Second),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("LINKROTATOR_AUTH_ENABLED", true),
			MasterKey: getEnv("LINKROTATOR_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("LINKROTATOR_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/l/", "/events/conversion", "/events/view"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getBoolEnv("LINKROTATOR_RATE_LIMIT_ENABLED", true),
			RedirectRPS:   getFloatEnv("LINKROTATOR_RATE_LIMIT_REDIRECT_RPS", 2000),
			RedirectBurst: getIntEnv("LINKROTATOR_RATE_LIMIT_REDIRECT_BURST", 200),
			AdminRPS:      getFloatEnv("LINKROTATOR_RATE_LIMIT_ADMIN_RPS", 100),
			AdminBurst:    getIntEnv("LINKROTATOR_RATE_LIMIT_ADMIN_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("LINKROTATOR_LOG_LEVEL", "info"),
			Format: getEnv("LINKROTATOR_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("LINKROTATOR_METRICS_ENABLED", true),
			Path:    getEnv("LINKROTATOR_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("LINKROTATOR_GEO_ENABLED", false),
			DatabasePath: getEnv("LINKROTATOR_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
		},
		Tracking: TrackingConfig{
			QueueSize:      getIntEnv("LINKROTATOR_TRACKING_QUEUE_SIZE", 4096),
			Workers:        getIntEnv("LINKROTATOR_TRACKING_WORKERS", 4),
			MaxRetries:     getIntEnv("LINKROTATOR_TRACKING_MAX_RETRIES", 3),
			RetryBackoff:   getDurationEnv("LINKROTATOR_TRACKING_RETRY_BACKOFF", 250*time.Millisecond),
			LookbackWindow: getDurationEnv("LINKROTATOR_ATTRIBUTION_LOOKBACK", 30*24*time.Hour),
			SessionCookie:  getEnv("LINKROTATOR_SESSION_COOKIE", "ahub_sid"),
		},
		LinkCheck: LinkCheckConfig{
			BatchSize:   getIntEnv("LINKROTATOR_LINKCHECK_BATCH_SIZE", 10),
			Concurrency: getIntEnv("LINKROTATOR_LINKCHECK_CONCURRENCY", 5),
			Timeout:     getDurationEnv("LINKROTATOR_LINKCHECK_TIMEOUT", 10*time.Second),
		},
		Redirect: RedirectConfig{
			NotFoundURL: getEnv("LINKROTATOR_REDIRECT_NOT_FOUND_URL", "/link-not-found"),
			ErrorURL:    getEnv("LINKROTATOR_REDIRECT_ERROR_URL", "/link-error"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("LINKROTATOR_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Tracking.QueueSize <= 0 {
		return fmt.Errorf("LINKROTATOR_TRACKING_QUEUE_SIZE must be positive")
	}
	if c.Tracking.Workers <= 0 {
		return fmt.Errorf("LINKROTATOR_TRACKING_WORKERS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
