package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Helium paywall service.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Fetch      FetchConfig
	Paywall    PaywallConfig
	Geo        GeoConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
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
}

// ClickHouseConfig configures the analytics event sink.
type ClickHouseConfig struct {
	Enabled       bool
	Addr          string
	Database      string
	User          string
	Password      string
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// FetchConfig configures the remote paywall-config fetcher.
type FetchConfig struct {
	URL             string
	APIKey          string
	Timeout         time.Duration
	RefreshInterval time.Duration
	RetryBackoff    time.Duration
}

// PaywallConfig holds presentation defaults.
type PaywallConfig struct {
	// DefaultLoadingBudgetSeconds is the process-wide loading budget used
	// when a presentation does not override it.
	DefaultLoadingBudgetSeconds float64

	// DefaultFallbackBundle names the bundled fallback paywall reported
	// to render layers when no explicit fallback is configured.
	DefaultFallbackBundle string

	// EntitlementTTL bounds how long a cached entitlement grant is
	// trusted without revalidation.
	EntitlementTTL time.Duration
}

// GeoConfig configures GeoIP lookup for context enrichment.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
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

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("HELIUM_HTTP_ADDR", ":8080"),
			Env:             getEnv("HELIUM_ENV", "development"),
			ShutdownTimeout: getDurationEnv("HELIUM_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("HELIUM_DB_HOST", "localhost"),
			Port:     getIntEnv("HELIUM_DB_PORT", 5432),
			User:     getEnv("HELIUM_DB_USER", "helium"),
			Password: getEnv("HELIUM_DB_PASSWORD", "helium_secret"),
			DBName:   getEnv("HELIUM_DB_NAME", "helium"),
			SSLMode:  getEnv("HELIUM_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("HELIUM_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("HELIUM_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("HELIUM_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("HELIUM_REDIS_PASSWORD", ""),
			DB:       getIntEnv("HELIUM_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:       getBoolEnv("HELIUM_CLICKHOUSE_ENABLED", false),
			Addr:          getEnv("HELIUM_CLICKHOUSE_ADDR", "localhost:9000"),
			Database:      getEnv("HELIUM_CLICKHOUSE_DB", "helium"),
			User:          getEnv("HELIUM_CLICKHOUSE_USER", "default"),
			Password:      getEnv("HELIUM_CLICKHOUSE_PASSWORD", ""),
			Table:         getEnv("HELIUM_CLICKHOUSE_TABLE", "helium_events"),
			BatchSize:     getIntEnv("HELIUM_CLICKHOUSE_BATCH_SIZE", 500),
			FlushInterval: getDurationEnv("HELIUM_CLICKHOUSE_FLUSH_INTERVAL", 5*time.Second),
			BufferSize:    getIntEnv("HELIUM_CLICKHOUSE_BUFFER_SIZE", 10000),
		},
		Fetch: FetchConfig{
			URL:             getEnv("HELIUM_FETCH_URL", ""),
			APIKey:          getEnv("HELIUM_FETCH_API_KEY", ""),
			Timeout:         getDurationEnv("HELIUM_FETCH_TIMEOUT", 10*time.Second),
			RefreshInterval: getDurationEnv("HELIUM_FETCH_REFRESH_INTERVAL", 5*time.Minute),
			RetryBackoff:    getDurationEnv("HELIUM_FETCH_RETRY_BACKOFF", 15*time.Second),
		},
		Paywall: PaywallConfig{
			DefaultLoadingBudgetSeconds: getFloatEnv("HELIUM_LOADING_BUDGET_SECONDS", 2),
			DefaultFallbackBundle:       getEnv("HELIUM_FALLBACK_BUNDLE", "default-fallback"),
			EntitlementTTL:              getDurationEnv("HELIUM_ENTITLEMENT_TTL", 24*time.Hour),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("HELIUM_GEO_ENABLED", false),
			DatabasePath: getEnv("HELIUM_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
			CacheSize:    getIntEnv("HELIUM_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("HELIUM_GEO_CACHE_TTL", 1*time.Hour),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("HELIUM_AUTH_ENABLED", true),
			MasterKey: getEnv("HELIUM_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("HELIUM_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled: getBoolEnv("HELIUM_RATE_LIMIT_ENABLED", true),
			RPS:     getFloatEnv("HELIUM_RATE_LIMIT_RPS", 1000),
			Burst:   getIntEnv("HELIUM_RATE_LIMIT_BURST", 100),
		},
		Log: LogConfig{
			Level:  getEnv("HELIUM_LOG_LEVEL", "info"),
			Format: getEnv("HELIUM_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("HELIUM_METRICS_ENABLED", true),
			Path:    getEnv("HELIUM_METRICS_PATH", "/metrics"),
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
		return fmt.Errorf("HELIUM_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Fetch.URL == "" {
		return fmt.Errorf("HELIUM_FETCH_URL is required")
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
