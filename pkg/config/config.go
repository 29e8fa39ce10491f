package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the environment variable holding the optional YAML config path
const ConfigPathEnv = "PAWPRINT_CONFIG"

// Catalog adapter types
const (
	CatalogSQLite = "sqlite"
	CatalogFile   = "file"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Redis         RedisConfig         `yaml:"redis"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Search        SearchConfig        `yaml:"search"`
	Alerter       AlerterConfig       `yaml:"alerter"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	// RateLimitPerMinute caps requests per client IP; 0 disables the limiter
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// PostgresConfig holds the relational backend settings
type PostgresConfig struct {
	URL            string        `yaml:"url"`
	ReplicaURLs    []string      `yaml:"replica_urls"`
	MaxConns       int           `yaml:"max_conns"`
	MinConns       int           `yaml:"min_conns"`
	Timeout        time.Duration `yaml:"timeout"`
	MigrateOnStart bool          `yaml:"migrate_on_start"`
}

// RedisConfig holds the optional Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"pool_size"`
	MaxRetries int           `yaml:"max_retries"`
	LockTTL    time.Duration `yaml:"lock_ttl"`
}

// CatalogConfig selects the pets/groups catalog adapter
type CatalogConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// SearchConfig tunes the aggregation engine
type SearchConfig struct {
	StrategyTimeout  time.Duration `yaml:"strategy_timeout"`
	FacetTimeout     time.Duration `yaml:"facet_timeout"`
	FullFetch        bool          `yaml:"full_fetch"`
	SynonymCacheSize int           `yaml:"synonym_cache_size"`
	SynonymCacheTTL  time.Duration `yaml:"synonym_cache_ttl"`
	TelemetryEnabled bool          `yaml:"telemetry_enabled"`
	TelemetryTimeout time.Duration `yaml:"telemetry_timeout"`
}

// AlerterConfig holds the saved search sweep settings
type AlerterConfig struct {
	Schedule     string        `yaml:"schedule"`
	Workers      int           `yaml:"workers"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
	// OTelSampleRatio keeps this fraction of root traces (0 keeps all)
	OTelSampleRatio float64 `yaml:"otel_sample_ratio"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,

			RateLimitPerMinute: 600,
		},
		Postgres: PostgresConfig{
			URL:      "postgres://localhost:5432/pawprint?sslmode=disable",
			MaxConns: 20,
			MinConns: 2,
			Timeout:  5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			LockTTL:    2 * time.Minute,
		},
		Catalog: CatalogConfig{
			Type: CatalogSQLite,
			Path: "catalog.db",
		},
		Search: SearchConfig{
			StrategyTimeout:  3 * time.Second,
			FacetTimeout:     3 * time.Second,
			SynonymCacheSize: 1024,
			SynonymCacheTTL:  5 * time.Minute,
			TelemetryEnabled: true,
			TelemetryTimeout: 5 * time.Second,
		},
		Alerter: AlerterConfig{
			Schedule:     "*/15 * * * *",
			Workers:      4,
			CheckTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "pawprint-search",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig loads configuration from the file named by PAWPRINT_CONFIG (if
// any) and the environment
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(ConfigPathEnv))
}

// Load applies defaults, then the YAML file at path (optional), then
// PAWPRINT_* environment overrides, and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Host = getEnv("PAWPRINT_HOST", s.Host)
	s.Port = getEnv("PAWPRINT_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("PAWPRINT_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("PAWPRINT_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("PAWPRINT_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("PAWPRINT_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("PAWPRINT_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.CORSOrigins = getEnvList("PAWPRINT_CORS_ORIGINS", s.CORSOrigins)
	s.RateLimitPerMinute = getEnvInt("PAWPRINT_RATE_LIMIT_PER_MINUTE", s.RateLimitPerMinute)

	pg := &cfg.Postgres
	pg.URL = getEnv("PAWPRINT_POSTGRES_URL", pg.URL)
	pg.ReplicaURLs = getEnvList("PAWPRINT_POSTGRES_REPLICA_URLS", pg.ReplicaURLs)
	pg.MaxConns = getEnvInt("PAWPRINT_POSTGRES_MAX_CONNS", pg.MaxConns)
	pg.MinConns = getEnvInt("PAWPRINT_POSTGRES_MIN_CONNS", pg.MinConns)
	pg.Timeout = getEnvDuration("PAWPRINT_POSTGRES_TIMEOUT", pg.Timeout)
	pg.MigrateOnStart = getEnvBool("PAWPRINT_POSTGRES_MIGRATE", pg.MigrateOnStart)

	r := &cfg.Redis
	r.URL = getEnv("PAWPRINT_REDIS_URL", r.URL)
	r.Password = getEnv("PAWPRINT_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("PAWPRINT_REDIS_DB", r.DB)
	r.PoolSize = getEnvInt("PAWPRINT_REDIS_POOL_SIZE", r.PoolSize)
	r.MaxRetries = getEnvInt("PAWPRINT_REDIS_MAX_RETRIES", r.MaxRetries)
	r.LockTTL = getEnvDuration("PAWPRINT_REDIS_LOCK_TTL", r.LockTTL)

	cfg.Catalog.Type = getEnv("PAWPRINT_CATALOG_TYPE", cfg.Catalog.Type)
	cfg.Catalog.Path = getEnv("PAWPRINT_CATALOG_PATH", cfg.Catalog.Path)

	sc := &cfg.Search
	sc.StrategyTimeout = getEnvDuration("PAWPRINT_STRATEGY_TIMEOUT", sc.StrategyTimeout)
	sc.FacetTimeout = getEnvDuration("PAWPRINT_FACET_TIMEOUT", sc.FacetTimeout)
	sc.FullFetch = getEnvBool("PAWPRINT_FULL_FETCH", sc.FullFetch)
	sc.SynonymCacheSize = getEnvInt("PAWPRINT_SYNONYM_CACHE_SIZE", sc.SynonymCacheSize)
	sc.SynonymCacheTTL = getEnvDuration("PAWPRINT_SYNONYM_CACHE_TTL", sc.SynonymCacheTTL)
	sc.TelemetryEnabled = getEnvBool("PAWPRINT_TELEMETRY_ENABLED", sc.TelemetryEnabled)
	sc.TelemetryTimeout = getEnvDuration("PAWPRINT_TELEMETRY_TIMEOUT", sc.TelemetryTimeout)

	a := &cfg.Alerter
	a.Schedule = getEnv("PAWPRINT_ALERTER_SCHEDULE", a.Schedule)
	a.Workers = getEnvInt("PAWPRINT_ALERTER_WORKERS", a.Workers)
	a.CheckTimeout = getEnvDuration("PAWPRINT_ALERTER_CHECK_TIMEOUT", a.CheckTimeout)

	o := &cfg.Observability
	o.LogLevel = getEnv("PAWPRINT_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("PAWPRINT_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("PAWPRINT_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("PAWPRINT_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("PAWPRINT_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("PAWPRINT_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("PAWPRINT_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("PAWPRINT_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Postgres.MaxConns > 0 && c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}

	switch c.Catalog.Type {
	case CatalogSQLite, CatalogFile:
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog path is required for %s catalog", c.Catalog.Type)
		}
	default:
		return fmt.Errorf("invalid catalog type: %s (must be sqlite or file)", c.Catalog.Type)
	}

	if c.Search.StrategyTimeout <= 0 {
		return fmt.Errorf("search strategy timeout must be positive")
	}
	if c.Search.SynonymCacheSize < 0 {
		return fmt.Errorf("synonym cache size must not be negative")
	}

	if c.Alerter.Workers < 1 {
		return fmt.Errorf("alerter workers must be at least 1")
	}
	if _, err := cron.ParseStandard(c.Alerter.Schedule); err != nil {
		return fmt.Errorf("invalid alerter schedule %q: %w", c.Alerter.Schedule, err)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
