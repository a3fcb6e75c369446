// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseURL    string // postgres connection string
	SQLitePath     string

	// Server
	Port int

	// Sync
	UserAgent    string
	FetchTimeout time.Duration
	BatchSize    int
	BatchDelay   time.Duration
	SyncInterval time.Duration // 0 disables the in-process poller

	// Outbound RSS feed
	FeedTitle       string
	FeedDescription string
	FeedLink        string

	LogLevel string
}

// Load reads configuration from environment variables, with optional
// .env file support.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseDriver:  getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		SQLitePath:      getEnv("SQLITE_PATH", "threatfeed.db"),
		Port:            getEnvAsInt("PORT", 8080),
		UserAgent:       getEnv("USER_AGENT", "threatfeed/1.0 (+https://github.com/threatfeed)"),
		FetchTimeout:    getEnvAsDuration("FETCH_TIMEOUT", 30*time.Second),
		BatchSize:       getEnvAsInt("SYNC_BATCH_SIZE", 3),
		BatchDelay:      getEnvAsDuration("SYNC_BATCH_DELAY", 2*time.Second),
		SyncInterval:    getEnvAsDuration("SYNC_INTERVAL", 0),
		FeedTitle:       getEnv("FEED_TITLE", "Threatfeed"),
		FeedDescription: getEnv("FEED_DESCRIPTION", "Aggregated cybersecurity news"),
		FeedLink:        getEnv("FEED_LINK", "http://localhost:8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	switch cfg.DatabaseDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	case "sqlite":
	default:
		return nil, fmt.Errorf("unknown DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
