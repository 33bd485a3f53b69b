package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the tasktalk service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// JWTSecret verifies bearer tokens. When empty, DevPrincipal must be set
	// and every request runs as that fixed principal (local development only).
	JWTSecret    string
	DevPrincipal string

	AgentMode    string
	AgentHTTPURL string
	AgentModel   string
	AgentAPIKey  string
	AgentTimeout time.Duration

	DatabaseURL string

	MaxMessageRunes int
	HistoryLimit    int

	StorageRetryAttempts int
	StorageRetryDelay    time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "tasktalk"),
		AllowAnyOrigin:       false,
		JWTSecret:            trimmedEnv("APP_JWT_SECRET"),
		DevPrincipal:         trimmedEnv("APP_DEV_PRINCIPAL"),
		AgentMode:            envOrDefault("AGENT_MODE", "auto"),
		AgentHTTPURL:         trimmedEnv("AGENT_HTTP_URL"),
		AgentModel:           envOrDefault("AGENT_MODEL", "gpt-4o-mini"),
		AgentAPIKey:          trimmedEnv("AGENT_API_KEY"),
		AgentTimeout:         45 * time.Second,
		DatabaseURL:          trimmedEnv("DATABASE_URL"),
		MaxMessageRunes:      10000,
		HistoryLimit:         200,
		StorageRetryAttempts: 2,
		StorageRetryDelay:    500 * time.Millisecond,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentTimeout, err = durationFromEnv("AGENT_TIMEOUT", cfg.AgentTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StorageRetryDelay, err = durationFromEnv("STORAGE_RETRY_DELAY", cfg.StorageRetryDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.StorageRetryAttempts, err = intFromEnv("STORAGE_RETRY_ATTEMPTS", cfg.StorageRetryAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageRunes, err = intFromEnv("APP_MAX_MESSAGE_RUNES", cfg.MaxMessageRunes)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("APP_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.AgentTimeout < time.Second {
		return Config{}, fmt.Errorf("AGENT_TIMEOUT must be at least 1s")
	}
	if cfg.MaxMessageRunes <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_MESSAGE_RUNES must be positive")
	}
	if cfg.StorageRetryAttempts < 0 {
		return Config{}, fmt.Errorf("STORAGE_RETRY_ATTEMPTS must be >= 0")
	}
	if cfg.JWTSecret == "" && cfg.DevPrincipal == "" {
		return Config{}, fmt.Errorf("either APP_JWT_SECRET or APP_DEV_PRINCIPAL must be set")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.AgentMode)) {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid AGENT_MODE: %q (expected auto|http|mock)", cfg.AgentMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
