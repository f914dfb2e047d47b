// Package config provides environment-driven configuration for the server and engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration. Values come from environment
// variables; missing values use defaults. DATABASE_URL is the only required
// setting.
type Config struct {
	// Server
	Port   int
	APIKey string // empty disables authentication (development mode)

	// Database
	DatabaseURL string

	// Engine
	WorkerCount         int
	WorkerPollInterval  time.Duration
	WorkerBatchSize     int
	SchedulerInterval   time.Duration
	ExecutorTimeout     time.Duration
	BreakerThreshold    int
	QuotaConnectsPerDay int
	QuotaMessagesPerDay int
	QuotaPostsPerDay    int

	// Browser
	BrowserHeadless bool
	BrowserStateDir string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnvInt("PORT", 8080),
		APIKey:              os.Getenv("API_KEY"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		WorkerCount:         getEnvInt("WORKER_COUNT", 4),
		WorkerPollInterval:  getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerBatchSize:     getEnvInt("WORKER_BATCH_SIZE", 10),
		SchedulerInterval:   getEnvDuration("SCHEDULER_POLL_INTERVAL", 30*time.Second),
		ExecutorTimeout:     getEnvDuration("EXECUTOR_TIMEOUT", 5*time.Minute),
		BreakerThreshold:    getEnvInt("BREAKER_THRESHOLD", 5),
		QuotaConnectsPerDay: getEnvInt("QUOTA_CONNECTS_PER_DAY", 50),
		QuotaMessagesPerDay: getEnvInt("QUOTA_MESSAGES_PER_DAY", 20),
		QuotaPostsPerDay:    getEnvInt("QUOTA_POSTS_PER_DAY", 30),
		BrowserHeadless:     getEnvBool("BROWSER_HEADLESS", true),
		BrowserStateDir:     getEnvString("BROWSER_STATE_DIR", ".browser-state"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration has usable values.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config error: DATABASE_URL is required")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("config error: WORKER_COUNT must be at least 1")
	}
	if c.WorkerBatchSize < 1 {
		return fmt.Errorf("config error: WORKER_BATCH_SIZE must be at least 1")
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("config error: BREAKER_THRESHOLD must be at least 1")
	}
	if c.ExecutorTimeout <= 0 {
		return fmt.Errorf("config error: EXECUTOR_TIMEOUT must be positive")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := time.ParseDuration(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}
