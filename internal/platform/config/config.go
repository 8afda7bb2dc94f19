// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis, Mailer) via constructors.
  - Zero Hidden State: No global variables are used to store config.

This ensures the application is Twelve-Factor compliant by storing config in the env.
*/
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Billora account API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Cryptographic keys for session and identity signing
	JWTPrivKeyPath string `env:"JWT_PRIVATE_KEY_PATH,required"`
	JWTPubKeyPath  string `env:"JWT_PUBLIC_KEY_PATH,required"`

	// Profile provisioning. The reconciler waits InitialDelay for the
	// database trigger before the first profile fetch, then RetryDelay
	// before the single re-check.
	ReconcileInitialDelay time.Duration `env:"RECONCILE_INITIAL_DELAY" envDefault:"2s"`
	ReconcileRetryDelay   time.Duration `env:"RECONCILE_RETRY_DELAY"   envDefault:"3s"`

	// ProfileFallbackOrder controls which creation path is tried first when
	// reconciliation reports the profile missing. Both paths are idempotent,
	// so the ordering is policy, not correctness.
	ProfileFallbackOrder string `env:"PROFILE_FALLBACK_ORDER" envDefault:"procedure,insert"`

	// FeedbackMessageTTL is how long session-state error/success messages
	// stay visible before auto-clearing.
	FeedbackMessageTTL time.Duration `env:"FEEDBACK_MESSAGE_TTL" envDefault:"5s"`

	// RequireEmailConfirmation gates session issuance on sign-up until the
	// address is verified via the emailed token.
	RequireEmailConfirmation bool `env:"REQUIRE_EMAIL_CONFIRMATION" envDefault:"true"`

	// Transactional email (fire-and-forget sink)
	SMTPAddr     string `env:"SMTP_ADDR"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"no-reply@billora.app"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	// PublicBaseURL is used to build confirmation/magic-link/reset URLs.
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"https://app.billora.app"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
