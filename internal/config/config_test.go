package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.StoreDSN != "memory://" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.IdentitySyncAttempts != 3 || cfg.IdentitySyncBackoff != 1500*time.Millisecond {
		t.Fatalf("unexpected sync policy: %d %s", cfg.IdentitySyncAttempts, cfg.IdentitySyncBackoff)
	}
	if cfg.TokenPollInterval != time.Second || cfg.AnalyticsFlushDelay != 5*time.Second || cfg.AnalyticsBatchSize != 10 {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}
	if len(cfg.IdentityProviders) != 2 || cfg.IdentityProviders[0] != "supabase" {
		t.Fatalf("unexpected providers: %v", cfg.IdentityProviders)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("BACKEND_URL", " https://api.example.com/api/ ")
	t.Setenv("IDENTITY_PROVIDERS", "firebase, ,supabase")
	t.Setenv("TOKEN_POLL_INTERVAL", "250ms")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackendURL != "https://api.example.com/api" {
		t.Fatalf("expected trimmed backend url, got %q", cfg.BackendURL)
	}
	if strings.Join(cfg.IdentityProviders, ",") != "firebase,supabase" {
		t.Fatalf("unexpected providers: %v", cfg.IdentityProviders)
	}
	if cfg.TokenPollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval: %s", cfg.TokenPollInterval)
	}
}

func TestFromEnvValidation(t *testing.T) {
	t.Setenv("ANALYTICS_BATCH_SIZE", "0")
	t.Setenv("IDENTITY_PROVIDERS", " ")

	_, err := FromEnv()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "ANALYTICS_BATCH_SIZE") || !strings.Contains(err.Error(), "IDENTITY_PROVIDERS") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestFromEnvParseError(t *testing.T) {
	t.Setenv("TAB_IDLE_TTL", "soon")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
