// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

/*
Package config handles process-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values. Per-tenant storage
overrides live in a separate JSON document loaded with LoadTenantConfigs;
everything here is deployment-level.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (resolver, credential service) via
    constructors.
  - Zero Hidden State: No global variables are used to store config.
*/
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/declanvu/tenauth/internal/storage"
)

// # Configuration Schema

// Config holds all runtime configuration for the tenauth core.
type Config struct {

	// Server settings
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Debug       bool   `env:"DEBUG"       envDefault:"false"`
	LogLevel    string `env:"LOG_LEVEL"   envDefault:"info"`

	// Base storage. An empty DatabaseURL selects the in-process default
	// backend; a PostgreSQL DSN selects the postgres driver when it is
	// compiled in.
	DatabaseURL      string `env:"DATABASE_URL"`
	PostgresPoolSize int    `env:"POSTGRES_POOL_SIZE" envDefault:"10"`
	SqliteDatabase   string `env:"SQLITE_DATABASE"    envDefault:"primary"`

	// TenantConfigPath points at the per-tenant storage override document.
	// Empty means a single-tenant deployment on the base configuration.
	TenantConfigPath string `env:"TENANT_CONFIG_PATH"`

	// Credential settings
	PasswordResetTokenLifetime time.Duration `env:"PASSWORD_RESET_TOKEN_LIFETIME" envDefault:"1h"`
	FirebaseSignerKey          string        `env:"FIREBASE_PASSWORD_HASHING_SIGNER_KEY"`
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

// IsDevelopment reports whether the core is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the core is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SlogLevel maps the configured log level onto slog's scale. Unknown values
// fall back to info; Debug forces debug.
func (c *Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// BaseStorageConfig renders the deployment-level storage settings as the base
// configuration object tenant overrides merge onto.
func (c *Config) BaseStorageConfig() map[string]any {
	base := map[string]any{
		"sqlite_database": c.SqliteDatabase,
	}
	if c.DatabaseURL != "" {
		base["postgres_connection_uri"] = c.DatabaseURL
		base["postgres_pool_size"] = c.PostgresPoolSize
	}
	return base
}

// # Tenant Configuration

/*
LoadTenantConfigs reads the per-tenant storage override document.

Description: The document is a JSON array of {scope, config} objects. An empty
path yields an empty set, meaning the deployment serves only the base tenant.

Parameters:
  - path: string

Returns:
  - []storage.TenantConfig: The tenant set
  - error: Read or decode failures
*/
func LoadTenantConfigs(path string) ([]storage.TenantConfig, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read tenant configs: %w", err)
	}

	var tenants []storage.TenantConfig
	if err := json.Unmarshal(raw, &tenants); err != nil {
		return nil, fmt.Errorf("config: failed to decode tenant configs: %w", err)
	}
	return tenants, nil
}
