package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration parsed from environment variables.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	BackendURL      string        `env:"BACKEND_URL" envDefault:"http://localhost:5000/api"`
	BackendTimeout  time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	StoreDSN        string        `env:"SESSION_STORE_DSN" envDefault:"memory://"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	Locale          string        `env:"LOCALE" envDefault:"en-IN"`
	SecureCookies   bool          `env:"SECURE_COOKIES" envDefault:"false"`

	// IdentityProviders is ordered highest priority first.
	IdentityProviders    []string      `env:"IDENTITY_PROVIDERS" envSeparator:"," envDefault:"supabase,firebase"`
	IdentitySyncAttempts int           `env:"IDENTITY_SYNC_ATTEMPTS" envDefault:"3"`
	IdentitySyncBackoff  time.Duration `env:"IDENTITY_SYNC_BACKOFF" envDefault:"1500ms"`

	TokenPollInterval   time.Duration `env:"TOKEN_POLL_INTERVAL" envDefault:"1s"`
	AnalyticsFlushDelay time.Duration `env:"ANALYTICS_FLUSH_DELAY" envDefault:"5s"`
	AnalyticsBatchSize  int           `env:"ANALYTICS_BATCH_SIZE" envDefault:"10"`
	TabIdleTTL          time.Duration `env:"TAB_IDLE_TTL" envDefault:"30m"`
	TaskLimit           int           `env:"TASK_LIMIT" envDefault:"64"`
}

// FromEnv builds Config with defaults, overridden by environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	cfg.IdentityProviders = compact(cfg.IdentityProviders)
	cfg.AllowedOrigins = compact(cfg.AllowedOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the storefront cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("BACKEND_URL is required"))
	}
	if len(c.IdentityProviders) == 0 {
		errs = append(errs, errors.New("IDENTITY_PROVIDERS needs at least one provider"))
	}
	if c.IdentitySyncAttempts < 1 {
		errs = append(errs, errors.New("IDENTITY_SYNC_ATTEMPTS must be at least 1"))
	}
	if c.AnalyticsBatchSize < 1 {
		errs = append(errs, errors.New("ANALYTICS_BATCH_SIZE must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"BACKEND_TIMEOUT":       c.BackendTimeout,
		"SHUTDOWN_TIMEOUT":      c.ShutdownTimeout,
		"IDENTITY_SYNC_BACKOFF": c.IdentitySyncBackoff,
		"TOKEN_POLL_INTERVAL":   c.TokenPollInterval,
		"ANALYTICS_FLUSH_DELAY": c.AnalyticsFlushDelay,
		"TAB_IDLE_TTL":          c.TabIdleTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
