package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without zoneinfo
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// Cache store
	CacheBackend         string
	CacheMaxEntries      int
	CacheShards          int
	CacheCleanupInterval time.Duration

	// Redis
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// AMQP, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Aggregation
	MetricsCatalog string
	Timezone       string

	// Worker
	WarmupInterval time.Duration

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/caixa.db"),

		CacheBackend:         getEnv("CACHE_BACKEND", CacheMemory),
		CacheMaxEntries:      getEnvInt("CACHE_MAX_ENTRIES", 10000),
		CacheShards:          getEnvInt("CACHE_SHARDS", 16),
		CacheCleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", time.Minute),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "caixa:"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "caixa.ledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "caixa.invalidation"),

		MetricsCatalog: getEnv("METRICS_CATALOG", ""),
		Timezone:       getEnv("TIMEZONE", "America/Sao_Paulo"),

		WarmupInterval: getEnvDuration("WARMUP_INTERVAL", 2*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		// Check if directory exists or can be created
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	switch c.CacheBackend {
	case CacheMemory:
		if c.CacheMaxEntries < 1 {
			errors = append(errors, fmt.Sprintf("invalid cache max entries %d: must be at least 1", c.CacheMaxEntries))
		}
		if c.CacheShards < 1 || c.CacheShards > 1024 {
			errors = append(errors, fmt.Sprintf("invalid cache shards %d: must be between 1 and 1024", c.CacheShards))
		}
		if c.CacheCleanupInterval < time.Second {
			errors = append(errors, fmt.Sprintf("invalid cache cleanup interval %v: must be at least 1 second", c.CacheCleanupInterval))
		}
	case CacheRedis:
		if c.RedisAddr == "" {
			errors = append(errors, "Redis address cannot be empty when using redis cache backend")
		}
		if c.RedisDB < 0 {
			errors = append(errors, fmt.Sprintf("invalid Redis database %d: must not be negative", c.RedisDB))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid cache backend '%s': must be one of [%s %s]", c.CacheBackend, CacheMemory, CacheRedis))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.MetricsCatalog != "" {
		if _, err := os.Stat(c.MetricsCatalog); err != nil {
			errors = append(errors, fmt.Sprintf("metrics catalog is not readable: %s", c.MetricsCatalog))
		}
	}

	if c.WarmupInterval != 0 && c.WarmupInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid warm-up interval %v: must be 0 or at least 1 second", c.WarmupInterval))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
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
