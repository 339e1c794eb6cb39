// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every recognized option with its default applied.
type Config struct {
	HTTPAddr   string // listen address for the API server
	PGDSN      string // PostgreSQL connection string
	RedisURL   string // Redis connection URL for family store + cache
	AuthSecret string // HS256 signing secret
	Issuer     string // token issuer claim

	AccessTTL  time.Duration // access token lifetime
	RefreshTTL time.Duration // refresh token lifetime

	CodeLength      int           // verification code digits
	CodeExpiry      time.Duration // verification code lifetime
	MaxAttempts     int           // failed validation cap per record
	CooldownSeconds time.Duration // minimum spacing between issuances
	DailySendCap    int           // successful sends per target per day
}

// Load reads configuration from the environment. A .env file is applied
// first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:   getEnv("AUTHCORE_HTTP_ADDR", ":8080"),
		PGDSN:      getEnv("AUTHCORE_PG_DSN", ""),
		RedisURL:   getEnv("AUTHCORE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		AuthSecret: getEnv("AUTHCORE_AUTH_SECRET", ""),
		Issuer:     getEnv("AUTHCORE_ISSUER", "authcore"),

		AccessTTL:  time.Duration(getEnvAsInt("AUTHCORE_ACCESS_TTL_SECONDS", 1800)) * time.Second,
		RefreshTTL: time.Duration(getEnvAsInt("AUTHCORE_REFRESH_TTL_SECONDS", 604800)) * time.Second,

		CodeLength:      getEnvAsInt("AUTHCORE_CODE_LENGTH", 6),
		CodeExpiry:      time.Duration(getEnvAsInt("AUTHCORE_CODE_EXPIRY_MINUTES", 5)) * time.Minute,
		MaxAttempts:     getEnvAsInt("AUTHCORE_MAX_ATTEMPTS", 5),
		CooldownSeconds: time.Duration(getEnvAsInt("AUTHCORE_COOLDOWN_SECONDS", 60)) * time.Second,
		DailySendCap:    getEnvAsInt("AUTHCORE_DAILY_SEND_CAP", 3),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required options.
func (c *Config) Validate() error {
	if c.AuthSecret == "" {
		return fmt.Errorf("AUTHCORE_AUTH_SECRET is required")
	}
	if c.PGDSN == "" {
		return fmt.Errorf("AUTHCORE_PG_DSN is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.CodeLength < 4 {
		return fmt.Errorf("AUTHCORE_CODE_LENGTH must be at least 4")
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
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
