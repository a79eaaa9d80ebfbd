package config

import (
	"os"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "DATABASE_URL", "postgres://localhost:5432/labbridge")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("expected default env development, got %q", cfg.Env)
	}
	if cfg.SyncWorkers != 8 {
		t.Errorf("expected default SYNC_WORKERS 8, got %d", cfg.SyncWorkers)
	}
	if cfg.OutboundRetries != 0 {
		t.Errorf("expected default OUTBOUND_RETRY_MAX 0, got %d", cfg.OutboundRetries)
	}
	if cfg.DeliveryDeadline() != 15*time.Second {
		t.Errorf("expected default delivery deadline 15s, got %v", cfg.DeliveryDeadline())
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	setEnv(t, "DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

func TestValidate_ProductionRequiresJWTSecret(t *testing.T) {
	cfg := &Config{Env: "production", SyncWorkers: 8}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when JWT_SECRET unset in production")
	}

	cfg.JWTSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MLLPRequiresAPIKey(t *testing.T) {
	cfg := &Config{Env: "development", SyncWorkers: 8, MLLPListen: ":2575"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when MLLP_LISTEN set without MLLP_API_KEY")
	}

	cfg.MLLPAPIKey = "mllp-key"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_SyncWorkers(t *testing.T) {
	cfg := &Config{Env: "development", SyncWorkers: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero SYNC_WORKERS")
	}
}
