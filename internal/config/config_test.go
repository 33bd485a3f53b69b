package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_DEV_PRINCIPAL", "dev-user")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.MaxMessageRunes != 10000 {
		t.Fatalf("MaxMessageRunes = %d, want 10000", cfg.MaxMessageRunes)
	}
	if cfg.StorageRetryAttempts != 2 || cfg.StorageRetryDelay != 500*time.Millisecond {
		t.Fatalf("retry defaults = %d/%v, want 2/500ms", cfg.StorageRetryAttempts, cfg.StorageRetryDelay)
	}
	if cfg.AgentMode != "auto" {
		t.Fatalf("AgentMode = %q, want auto", cfg.AgentMode)
	}
}

func TestLoadRejectsMissingIdentityConfig(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", "")
	t.Setenv("APP_DEV_PRINCIPAL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail without JWT secret or dev principal")
	}
}

func TestLoadRejectsInvalidAgentMode(t *testing.T) {
	t.Setenv("APP_DEV_PRINCIPAL", "dev-user")
	t.Setenv("AGENT_MODE", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject unknown agent mode")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("APP_DEV_PRINCIPAL", "dev-user")
	t.Setenv("AGENT_TIMEOUT", "10s")
	t.Setenv("APP_MAX_MESSAGE_RUNES", "500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentTimeout != 10*time.Second {
		t.Fatalf("AgentTimeout = %v, want 10s", cfg.AgentTimeout)
	}
	if cfg.MaxMessageRunes != 500 {
		t.Fatalf("MaxMessageRunes = %d, want 500", cfg.MaxMessageRunes)
	}
}
