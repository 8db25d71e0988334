// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

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
  - DI-Friendly: Passed to core components (DB, Redis, services) via constructors.
  - Zero Hidden State: No global variables are used to store config.

The [SecurityPolicy] sub-struct is the single source of truth for credential
thresholds and algorithm parameters. It is passed explicitly into each
identity service at construction.
*/
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Castellan core.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Store (Redis) for volatile reset tokens
	RedisURL string `env:"REDIS_URL,required"`

	// Cryptographic keys for session token signing
	JWTPrivKeyPath string `env:"JWT_PRIVATE_KEY_PATH,required"`
	JWTPubKeyPath  string `env:"JWT_PUBLIC_KEY_PATH,required"`

	// Security holds the credential policy thresholds.
	Security SecurityPolicy
}

// SecurityPolicy carries the tunable credential and lockout thresholds.
//
// # Invariants
//
// All values have production-safe defaults; operators override them per
// deployment. Services must read them from this struct, never from ambient
// globals.
type SecurityPolicy struct {

	// MaxLoginAttempts is the number of consecutive failed logins before
	// an account transitions to Locked.
	MaxLoginAttempts int `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`

	// PasswordMinLength / PasswordMaxLength bound accepted password sizes.
	PasswordMinLength int `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	PasswordMaxLength int `env:"PASSWORD_MAX_LENGTH" envDefault:"128"`

	// SaltLength is the byte length of generated salts.
	SaltLength int `env:"SALT_LENGTH" envDefault:"16"`

	// HashIterations is the PBKDF2 iteration count.
	HashIterations int `env:"HASH_ITERATIONS" envDefault:"210000"`

	// DerivedKeyLength is the PBKDF2 derived key length in bytes.
	DerivedKeyLength int `env:"DERIVED_KEY_LENGTH" envDefault:"32"`

	// ResetTokenLength is the byte length of password reset tokens.
	ResetTokenLength int `env:"RESET_TOKEN_LENGTH" envDefault:"32"`

	// ResetTokenWindow is how long a reset token stays consumable after issuance.
	ResetTokenWindow time.Duration `env:"RESET_TOKEN_WINDOW" envDefault:"30m"`

	// MaxResetVerifyFailures is the number of failed security-question
	// verifications before the online-reset capability is locked.
	MaxResetVerifyFailures int `env:"MAX_RESET_VERIFY_FAILURES" envDefault:"3"`

	// AuditEnabled toggles the audit trail entirely.
	AuditEnabled bool `env:"AUDIT_ENABLED" envDefault:"true"`
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

	if err := cfg.Security.check(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// check rejects policy combinations that would silently weaken the core.
func (p SecurityPolicy) check() error {
	if p.MaxLoginAttempts < 1 {
		return fmt.Errorf("config: MAX_LOGIN_ATTEMPTS must be >= 1")
	}
	if p.PasswordMinLength < 1 || p.PasswordMaxLength < p.PasswordMinLength {
		return fmt.Errorf("config: password length bounds are inconsistent")
	}
	if p.SaltLength < 8 {
		return fmt.Errorf("config: SALT_LENGTH must be >= 8")
	}
	if p.HashIterations < 1000 {
		return fmt.Errorf("config: HASH_ITERATIONS must be >= 1000")
	}
	if p.DerivedKeyLength < 16 {
		return fmt.Errorf("config: DERIVED_KEY_LENGTH must be >= 16")
	}
	if p.ResetTokenLength < 16 {
		return fmt.Errorf("config: RESET_TOKEN_LENGTH must be >= 16")
	}
	if p.ResetTokenWindow <= 0 {
		return fmt.Errorf("config: RESET_TOKEN_WINDOW must be positive")
	}
	return nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
