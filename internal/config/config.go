// Package config provides configuration management for the conversation
// routing engine. Values load from environment variables with sensible
// defaults and are validated before the service starts.
//
// Environment Variables:
//
// Application settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Routing:
//   - FALLBACK_PROVIDER_ID: Provider used when no rule matches (default: official-support)
//   - RULE_REFRESH_INTERVAL: How often the ruleset reloads from storage (default: 1m)
//
// Database:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./conversation_router.db)
//   - POSTGRES_HOST / POSTGRES_PORT / POSTGRES_DB / POSTGRES_USER /
//     POSTGRES_PASSWORD / POSTGRES_SSL_MODE: PostgreSQL settings
//
// Redis (optional availability mirror):
//   - REDIS_ADDRESS: Redis server address; empty disables the mirror
//   - REDIS_PASSWORD, REDIS_DB (0-15, default 0), REDIS_POOL_SIZE (default 10)
//   - AVAILABILITY_TTL: Heartbeat expiry in the mirror (default: 5m)
//
// Message queue (optional routing event transport):
//   - RABBITMQ_URL: AMQP connection URL; empty disables publishing
//   - ROUTING_QUEUE: Queue for routing events (default: conversation-routing)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the routing engine.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Routing settings
	FallbackProviderID  string // Provider returned when no rule matches
	RuleRefreshInterval string // Ruleset reload period (duration string)

	// Database configuration
	DatabaseType     string // "sqlite" or "postgres"
	DatabasePath     string // SQLite database file path
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis availability mirror (optional)
	RedisAddress    string
	RedisPassword   string
	RedisDB         string
	RedisPoolSize   string
	AvailabilityTTL string // heartbeat expiry (duration string)

	// Routing event transport (optional)
	RabbitMQURL  string
	RoutingQueue string
}

// Load creates a Config from environment variables. Call Validate before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		FallbackProviderID:  getEnv("FALLBACK_PROVIDER_ID", "official-support"),
		RuleRefreshInterval: getEnv("RULE_REFRESH_INTERVAL", "1m"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./conversation_router.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "conversation_router"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:    getEnv("REDIS_ADDRESS", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnv("REDIS_DB", "0"),
		RedisPoolSize:   getEnv("REDIS_POOL_SIZE", "10"),
		AvailabilityTTL: getEnv("AVAILABILITY_TTL", "5m"),

		RabbitMQURL:  getEnv("RABBITMQ_URL", ""),
		RoutingQueue: getEnv("ROUTING_QUEUE", "conversation-routing"),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks required fields, formats and cross-field dependencies.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.FallbackProviderID == "" {
		return fmt.Errorf("FALLBACK_PROVIDER_ID must not be empty")
	}

	if _, err := time.ParseDuration(c.RuleRefreshInterval); err != nil {
		return fmt.Errorf("RULE_REFRESH_INTERVAL must be a valid duration (e.g. '30s', '1m')")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
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
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
		if _, err := time.ParseDuration(c.AvailabilityTTL); err != nil {
			return fmt.Errorf("AVAILABILITY_TTL must be a valid duration (e.g. '5m')")
		}
	}

	return nil
}

// RuleRefresh returns the parsed ruleset reload period.
func (c *Config) RuleRefresh() time.Duration {
	d, _ := time.ParseDuration(c.RuleRefreshInterval)
	return d
}

// HeartbeatTTL returns the parsed availability heartbeat expiry.
func (c *Config) HeartbeatTTL() time.Duration {
	d, _ := time.ParseDuration(c.AvailabilityTTL)
	return d
}
