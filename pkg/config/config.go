package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/marrygold/usher/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (optional; caching and rate limiting degrade
	// gracefully without it)
	Redis RedisConfig

	// Identity provider configuration
	Provider ProviderConfig

	// Redirect rules configuration
	Redirect RedirectConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int

	// L1 size and TTL for the identity cache in front of Redis
	L1CacheSize int
	CacheTTL    time.Duration
}

// ProviderConfig holds identity provider settings
type ProviderConfig struct {
	// WebhookSecret is the shared signing secret for webhook deliveries
	WebhookSecret string

	// IssuerURL is the OIDC issuer used to verify session tokens. Empty
	// disables session verification; all API callers are then anonymous.
	IssuerURL string

	// Webhook rate limiting per source address
	RateLimit       int
	RateLimitWindow time.Duration
}

// RedirectConfig holds redirect rule settings
type RedirectConfig struct {
	// RulesPath points at a YAML rules file, hot-reloaded on change.
	// Empty means built-in defaults.
	RulesPath string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("USHER_HOST", "0.0.0.0"),
			Port:            getEnv("USHER_PORT", "8080"),
			ReadTimeout:     getEnvDuration("USHER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("USHER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("USHER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("USHER_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("USHER_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("USHER_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("USHER_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("USHER_POSTGRES_IDLE_CONNS", 5),
			QueryTimeout: getEnvDuration("USHER_POSTGRES_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:         getEnv("USHER_REDIS_URL", ""),
			Password:    getEnv("USHER_REDIS_PASSWORD", ""),
			DB:          getEnvInt("USHER_REDIS_DB", 0),
			PoolSize:    getEnvInt("USHER_REDIS_POOL_SIZE", 10),
			L1CacheSize: getEnvInt("USHER_L1_CACHE_SIZE", 1024),
			CacheTTL:    getEnvDuration("USHER_CACHE_TTL", 5*time.Minute),
		},
		Provider: ProviderConfig{
			WebhookSecret:   getEnv("USHER_WEBHOOK_SECRET", ""),
			IssuerURL:       getEnv("USHER_PROVIDER_ISSUER_URL", ""),
			RateLimit:       getEnvInt("USHER_WEBHOOK_RATE_LIMIT", 300),
			RateLimitWindow: getEnvDuration("USHER_WEBHOOK_RATE_WINDOW", time.Minute),
		},
		Redirect: RedirectConfig{
			RulesPath: getEnv("USHER_REDIRECT_RULES_PATH", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("USHER_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("USHER_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Provider.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	if c.Provider.RateLimit <= 0 {
		return fmt.Errorf("webhook rate limit must be positive")
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
