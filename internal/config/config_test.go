package config

import (
	"errors"
	"testing"

	"github.com/stayontop/mailtriage/internal/token"
)

func validConfig() *Config {
	return &Config{
		GoogleClientID:     "client-id",
		GoogleClientSecret: "client-secret",
		SessionSecret:      "session-secret",
		WorkerCount:        4,
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v for complete config", err)
	}
}

func TestValidate_MissingSecrets(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no client id", func(c *Config) { c.GoogleClientID = "" }},
		{"no client secret", func(c *Config) { c.GoogleClientSecret = "" }},
		{"no session secret", func(c *Config) { c.SessionSecret = "" }},
		{"no workers", func(c *Config) { c.WorkerCount = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !errors.Is(err, token.ErrConfiguration) {
				t.Errorf("error %v should be a configuration error", err)
			}
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "env-client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "env-client-secret")
	t.Setenv("SESSION_SECRET", "env-session-secret")
	t.Setenv("TOKEN_STORAGE_FILE", "/tmp/tokens-test.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GoogleClientID != "env-client-id" {
		t.Errorf("GoogleClientID = %q", cfg.GoogleClientID)
	}
	if cfg.TokenStorageFile != "/tmp/tokens-test.json" {
		t.Errorf("TokenStorageFile = %q", cfg.TokenStorageFile)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr default = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount default = %d, want 4", cfg.WorkerCount)
	}
}
