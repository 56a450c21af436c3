// Package config provides configuration management for the token broker.
// It loads configuration from environment variables with sensible defaults
// and validates it so the application starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Append logs to this file instead of stdout
//   - LOG_FORMAT: "console" or "json" (default: console)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite", "postgres" or "memory" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./token_broker.db)
//   - POSTGRES_HOST, POSTGRES_PORT (5432), POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE (disable)
//   - PENDING_STORE: where pending authorizations live, "database" or "redis" (default: database)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Identity Provider:
//   - PROVIDER_CLIENT_ID, PROVIDER_CLIENT_SECRET: OAuth2 client credentials (required)
//   - PROVIDER_AUTH_URL, PROVIDER_TOKEN_URL: OAuth2 endpoints (required)
//   - PROVIDER_VERIFY_URL: identity verification endpoint (required)
//   - PROVIDER_NAME_FIELD: JSON field holding the display name (default: CharacterName)
//   - PROVIDER_TIMEOUT: bound on each provider round trip (default: 30s)
//   - CALLBACK_URL: redirect URI registered with the provider (required)
//
// Token Lifecycle:
//   - PENDING_AUTH_LIFETIME: how long an authorization attempt stays valid (default: 10m)
//   - DEFAULT_EXPIRY_WINDOW: renewal window used when callers do not pass one (default: 2m)
//   - REAPER_SCHEDULE: cron spec for the pending authorization reaper (default: @every 5m)
//   - REAPER_LOCK: take a Redis lock around each sweep (default: false)
//
// Rate Limiting:
//   - RATE_LIMIT: requests per client per window, 0 disables; needs Redis (default: 0)
//   - RATE_LIMIT_WINDOW: length of each counting window (default: 1m)
//   - RATE_LIMIT_TRUST_PROXY: key clients by X-Forwarded-For/X-Real-IP; set only behind a proxy that rewrites them (default: false)
//
// Security Configuration:
//   - JWT_SECRET: API bearer token signing secret (required, minimum 32 characters)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting the broker reads from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFile   string
	LogFormat string

	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
	PendingStore     string

	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	JWTSecret string

	ProviderClientID     string
	ProviderClientSecret string
	ProviderAuthURL      string
	ProviderTokenURL     string
	ProviderVerifyURL    string
	ProviderNameField    string
	ProviderTimeout      time.Duration
	CallbackURL          string

	PendingAuthLifetime time.Duration
	DefaultExpiryWindow time.Duration
	ReaperSchedule      string
	ReaperLock          bool

	RateLimit           int
	RateLimitWindow     time.Duration
	RateLimitTrustProxy bool
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFile:   getEnv("LOG_FILE", ""),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		DatabaseType:     strings.ToLower(getEnv("DATABASE_TYPE", "sqlite")),
		DatabasePath:     getEnv("DATABASE_PATH", "./token_broker.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", ""),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", ""),
		PostgresUser:     getEnv("POSTGRES_USER", ""),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
		PendingStore:     strings.ToLower(getEnv("PENDING_STORE", "database")),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		ProviderClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
		ProviderClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
		ProviderAuthURL:      getEnv("PROVIDER_AUTH_URL", ""),
		ProviderTokenURL:     getEnv("PROVIDER_TOKEN_URL", ""),
		ProviderVerifyURL:    getEnv("PROVIDER_VERIFY_URL", ""),
		ProviderNameField:    getEnv("PROVIDER_NAME_FIELD", "CharacterName"),
		ProviderTimeout:      getDurationEnv("PROVIDER_TIMEOUT", 30*time.Second),
		CallbackURL:          getEnv("CALLBACK_URL", ""),

		PendingAuthLifetime: getDurationEnv("PENDING_AUTH_LIFETIME", 10*time.Minute),
		DefaultExpiryWindow: getDurationEnv("DEFAULT_EXPIRY_WINDOW", 2*time.Minute),
		ReaperSchedule:      getEnv("REAPER_SCHEDULE", "@every 5m"),
		ReaperLock:          getBoolEnv("REAPER_LOCK", false),

		RateLimit:           getIntEnv("RATE_LIMIT", 0),
		RateLimitWindow:     getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitTrustProxy: getBoolEnv("RATE_LIMIT_TRUST_PROXY", false),
	}
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.PendingStore == "redis" || c.ReaperLock || c.RateLimit > 0
}

// RedisDBNumber returns REDIS_DB as an int; Validate guarantees it parses.
func (c *Config) RedisDBNumber() int {
	n, _ := strconv.Atoi(c.RedisDB)
	return n
}

// RedisPoolSizeNumber returns REDIS_POOL_SIZE as an int.
func (c *Config) RedisPoolSizeNumber() int {
	n, _ := strconv.Atoi(c.RedisPoolSize)
	return n
}

// getEnv retrieves an environment variable value or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool spellings and falls back to defaultValue otherwise.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv parses a Go duration ("90s", "10m"); a bare integer is read as seconds.
// Unparseable values fall back to defaultValue.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// Validate checks required fields, formats and cross-field dependencies.
// Call it after Load and before starting any component.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be 'console' or 'json'")
	}

	switch c.DatabaseType {
	case "sqlite", "memory":
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite', 'postgres' or 'memory'")
	}

	switch c.PendingStore {
	case "database", "redis":
	default:
		return fmt.Errorf("PENDING_STORE must be 'database' or 'redis'")
	}

	if c.UsesRedis() {
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when PENDING_STORE=redis, REAPER_LOCK or RATE_LIMIT is set")
		}
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.ProviderClientID == "" || c.ProviderClientSecret == "" {
		return fmt.Errorf("PROVIDER_CLIENT_ID and PROVIDER_CLIENT_SECRET are required")
	}
	for _, u := range []struct{ key, raw string }{
		{"PROVIDER_AUTH_URL", c.ProviderAuthURL},
		{"PROVIDER_TOKEN_URL", c.ProviderTokenURL},
		{"PROVIDER_VERIFY_URL", c.ProviderVerifyURL},
		{"CALLBACK_URL", c.CallbackURL},
	} {
		if err := validateURL(u.key, u.raw); err != nil {
			return err
		}
	}

	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be a positive duration")
	}
	if c.PendingAuthLifetime <= 0 {
		return fmt.Errorf("PENDING_AUTH_LIFETIME must be a positive duration")
	}
	if c.DefaultExpiryWindow < 0 {
		return fmt.Errorf("DEFAULT_EXPIRY_WINDOW must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("RATE_LIMIT must not be negative")
	}
	if c.RateLimit > 0 && c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be a positive duration")
	}
	if strings.TrimSpace(c.ReaperSchedule) == "" {
		return fmt.Errorf("REAPER_SCHEDULE must not be empty")
	}

	return nil
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", key)
	}
	return nil
}
