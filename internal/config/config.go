// Package config loads service configuration from the environment.
// Required secrets are validated at startup so dependent components can
// fail fast instead of misbehaving at request time.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/stayontop/mailtriage/internal/token"
)

// Config is the full configuration surface of the service.
type Config struct {
	// HTTP API listener.
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`

	// Google OAuth client used for refresh exchanges. Required.
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// Symmetric secret for signing session tokens. Required.
	SessionSecret string `env:"SESSION_SECRET"`

	// Durable token snapshot location.
	TokenStorageFile string `env:"TOKEN_STORAGE_FILE,default=user_tokens.json"`

	// SQLite database holding processed emails.
	DatabasePath string `env:"DATABASE_PATH,default=mailtriage.db"`

	// OpenAI API key for the classifier. Optional: without it the
	// fetch pipeline stores emails unclassified.
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`

	// Provider call timeout.
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT,default=30s"`

	// Number of background classification workers.
	WorkerCount int `env:"WORKER_COUNT,default=4"`

	// add_user validation rate limit, requests per minute per IP.
	AuthRateLimit uint64 `env:"AUTH_RATE_LIMIT,default=10"`

	// Metrics listener; empty disables the dedicated metrics server.
	MetricsAddr    string `env:"METRICS_ADDR,default=:9090"`
	MetricsEnabled bool   `env:"METRICS_ENABLED,default=true"`

	// Logging.
	LogFormat string `env:"LOG_FORMAT,default=text"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", token.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that required secrets are present. It is separated
// from Load so tests can construct configs directly.
func (c *Config) Validate() error {
	if c.GoogleClientID == "" {
		return fmt.Errorf("%w: GOOGLE_CLIENT_ID is not set", token.ErrConfiguration)
	}
	if c.GoogleClientSecret == "" {
		return fmt.Errorf("%w: GOOGLE_CLIENT_SECRET is not set", token.ErrConfiguration)
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("%w: SESSION_SECRET is not set", token.ErrConfiguration)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: WORKER_COUNT must be at least 1", token.ErrConfiguration)
	}
	return nil
}
