// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Redis connection string (optional, uses in-process rate limiting if not set)

	// Gateway
	BaseDomain     string // Root domain for subdomain tenant resolution (e.g. "perimeterhq.com")
	ProxyTimeout   time.Duration
	CacheTTL       time.Duration
	AnalyticsQueue int // Bounded analytics buffer capacity

	// Circuit breaker
	BreakerThreshold int
	BreakerRecovery  time.Duration

	// Quota enforcer
	EnforcerInterval time.Duration // 0 disables the background monitor loop

	// Security
	AdminSecret    string // Admin API secret
	AllowedOrigins []string

	// Observability
	OTLPEndpoint string // OTLP gRPC collector address (optional, tracing disabled if not set)
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultProxyTimeout     = 30 * time.Second
	DefaultCacheTTL         = 300 * time.Second
	DefaultAnalyticsQueue   = 4096
	DefaultBreakerThreshold = 5
	DefaultBreakerRecovery  = 60 * time.Second
	DefaultEnforcerInterval = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:         os.Getenv("REDIS_URL"),    // Optional, uses in-process limiter if not set
		BaseDomain:       os.Getenv("BASE_DOMAIN"),
		ProxyTimeout:     getEnvDuration("PROXY_TIMEOUT", DefaultProxyTimeout),
		CacheTTL:         getEnvDuration("CACHE_TTL", DefaultCacheTTL),
		AnalyticsQueue:   int(getEnvInt64("ANALYTICS_QUEUE", DefaultAnalyticsQueue)),
		BreakerThreshold: int(getEnvInt64("BREAKER_THRESHOLD", DefaultBreakerThreshold)),
		BreakerRecovery:  getEnvDuration("BREAKER_RECOVERY", DefaultBreakerRecovery),
		EnforcerInterval: getEnvDuration("ENFORCER_INTERVAL", DefaultEnforcerInterval),
		AdminSecret:      os.Getenv("ADMIN_SECRET"),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "*")),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ProxyTimeout <= 0 {
		return fmt.Errorf("PROXY_TIMEOUT must be positive")
	}
	if c.AnalyticsQueue <= 0 {
		return fmt.Errorf("ANALYTICS_QUEUE must be positive")
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("BREAKER_THRESHOLD must be positive")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
