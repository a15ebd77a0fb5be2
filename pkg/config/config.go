package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the market.
type Config struct {
	Port string

	// Database
	DBPath string

	// Trading
	PriceRefreshInterval time.Duration // how long a quote stays valid; also the drift period
	DefaultBalance       int64         // starting balance of new users, in cents
	DriftPercent         int           // max drift per iteration, in percent
	Currency             string        // ISO code used to display balances

	// Seed instruments (YAML), applied on startup when set
	SeedFile string

	// HTTP
	RateLimitRPS   float64
	RateLimitBurst int

	// Logging
	LogLevel string
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DBPath:               getEnv("DB_PATH", "./data/market.db"),
		PriceRefreshInterval: getEnvDuration("PRICE_REFRESH_INTERVAL", 10*time.Second),
		DefaultBalance:       getEnvInt64("DEFAULT_BALANCE", 100000),
		DriftPercent:         getEnvInt("DRIFT_PERCENT", 10),
		Currency:             strings.ToUpper(getEnv("CURRENCY", "USD")),
		SeedFile:             os.Getenv("SEED_FILE"),
		RateLimitRPS:         getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", 50),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Language:             getEnv("LANGUAGE", "en"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH is required")
	}
	if c.PriceRefreshInterval <= 0 {
		return fmt.Errorf("PRICE_REFRESH_INTERVAL must be > 0, got %s", c.PriceRefreshInterval)
	}
	if c.DefaultBalance <= 0 {
		return fmt.Errorf("DEFAULT_BALANCE must be > 0, got %d", c.DefaultBalance)
	}
	if c.DriftPercent < 1 || c.DriftPercent > 99 {
		return fmt.Errorf("DRIFT_PERCENT must be between 1 and 99, got %d", c.DriftPercent)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS must be > 0 and RATE_LIMIT_BURST >= 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("10s", "1m") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
