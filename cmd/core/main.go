// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

// Command core is the entry point for the tenauth multi-tenant credential core.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Initialize base storage (driver selection is unambiguous or fatal).
//  4. Load tenant configurations and run the initial reconciliation.
//  5. Wire the credential service.
//  6. Wait: SIGHUP reloads the tenant set, SIGTERM/SIGINT shuts down.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/declanvu/tenauth/internal/emailpassword"
	"github.com/declanvu/tenauth/internal/platform/config"
	"github.com/declanvu/tenauth/internal/platform/hashing"
	"github.com/declanvu/tenauth/internal/registry"
	"github.com/declanvu/tenauth/internal/resolver"
	"github.com/declanvu/tenauth/internal/storage"

	// Compiled-in storage drivers. At most one non-default driver may be
	// linked into a deployment.
	_ "github.com/declanvu/tenauth/internal/storage/postgres"
	_ "github.com/declanvu/tenauth/internal/storage/sqlite"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "tenauth"))
	slog.SetDefault(log)

	log.Info("[tenauth] core_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug || cfg.SlogLevel() != slog.LevelInfo {
		leveled := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.SlogLevel(),
		}))
		log = leveled.With(slog.String("app", "tenauth"))
		slog.SetDefault(log)
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.Bool("debug", cfg.Debug),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. Base Storage ───────────────────────────────────────────────────
	res := resolver.New(resolver.Options{
		Logger:    log,
		LogLevels: storage.LogLevels{MinLevel: cfg.SlogLevel()},
	})
	must(log, res.InitBase(startupCtx, cfg.BaseStorageConfig()), "initialize base storage")
	defer func() {
		log.Info("closing storage backends")
		res.CloseAll()
	}()

	if res.IsInMemory() {
		log.Warn("running on in-memory storage, data will not survive a restart")
	}

	// ── 4. Tenant Reconciliation ──────────────────────────────────────────
	tenants, err := config.LoadTenantConfigs(cfg.TenantConfigPath)
	must(log, err, "load tenant configurations")
	must(log, res.LoadAllTenantStorage(startupCtx, tenants), "reconcile tenant storage")

	// ── 5. Credential Service ─────────────────────────────────────────────
	service := emailpassword.NewService(emailpassword.Options{
		Resolver:           res,
		Hasher:             hashing.NewHasher(cfg.FirebaseSignerKey),
		ResetTokenLifetime: cfg.PasswordResetTokenLifetime,
		Logger:             log,
	})

	users, err := service.UsersCount(startupCtx, registry.BaseScope())
	must(log, err, "query base user pool")

	log.Info("core_ready",
		slog.Int("tenants", len(tenants)),
		slog.Int64("base_pool_users", users),
	)

	// ── 6. Signal Loop ────────────────────────────────────────────────────
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	for {
		select {
		case <-reload:
			log.Info("reload signal received")
			tenants, err := config.LoadTenantConfigs(cfg.TenantConfigPath)
			if err != nil {
				log.Error("tenant config reload failed", slog.Any("error", err))
				continue
			}
			reloadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := res.LoadAllTenantStorage(reloadCtx, tenants); err != nil {
				log.Error("tenant reconciliation failed", slog.Any("error", err))
			}
			cancel()
		case sig := <-quit:
			log.Info("shutdown signal received", slog.String("signal", sig.String()))
			log.Info("core stopped cleanly")
			return
		}
	}
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
