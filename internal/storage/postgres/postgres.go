// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

/*
Package postgres implements the PostgreSQL storage backend on pgx.

Architecture:

  - One [pgxpool.Pool] per distinct connection pool identity; tenants whose
    configurations resolve to the same user pool and pool shaping share one
    backend instance.
  - Construction and LoadConfig are side-effect-free; the pool is built
    lazily, and InitStorage validates connectivity and applies the embedded
    schema migrations (golang-migrate over iofs).
  - Unique-constraint violations (SQLSTATE 23505) are classified by constraint
    name into the storage layer's typed collision errors.
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	// pgx5 driver registers the "pgx5" scheme for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"

	"github.com/declanvu/tenauth/internal/registry"
	"github.com/declanvu/tenauth/internal/storage"
)

// Configuration keys this driver understands.
const (
	// ConfigKeyConnectionURI is the libpq-compatible DSN. Its presence is
	// what selects this driver over the in-process default.
	ConfigKeyConnectionURI = "postgres_connection_uri"
	// ConfigKeyPoolSize caps the connection pool. Part of the connection-pool
	// identity: tenants with different pool shaping get separate pools.
	ConfigKeyPoolSize = "postgres_pool_size"
)

// Opinionated pool settings for the credential workload.
const (
	defaultPoolSize   = 10
	minConns          = 2
	maxConnLifetime   = 60 * time.Minute
	maxConnIdleTime   = 10 * time.Minute
	healthCheckPeriod = 1 * time.Minute
	connectTimeout    = 5 * time.Second
	statementTimeout  = 30 * time.Second
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	storage.RegisterDriver(driver{})
}

// driver is the compile-time registration of the PostgreSQL backend.
type driver struct{}

func (driver) Name() string { return "postgres" }

// CanServe reports whether the configuration carries a PostgreSQL DSN.
func (driver) CanServe(cfg *storage.NormalizedConfig) bool {
	return cfg.String(ConfigKeyConnectionURI, "") != ""
}

func (driver) New(logger *slog.Logger) storage.Storage { return New(logger) }

// Backend is one PostgreSQL storage instance, potentially shared by every
// tenant whose configuration reports the same pool identity.
type Backend struct {
	handler *storage.LevelHandler
	logger  *slog.Logger
	locks   registry.NamedLock

	scope            registry.ScopeKey
	poolConfig       *pgxpool.Config
	connectionURI    string
	userPoolID       string
	connectionPoolID string

	mu     sync.Mutex
	pool   *pgxpool.Pool
	closed bool
}

// New constructs an unconnected [Backend].
func New(logger *slog.Logger) *Backend {
	handler := storage.NewLevelHandler(logger.Handler(), storage.DefaultLogLevels())
	return &Backend{
		handler: handler,
		logger:  slog.New(handler).With(slog.String("storage", "postgres")),
	}
}

// # Lifecycle

/*
LoadConfig binds the normalized tenant configuration and derives the pool
identity from it.

Description: The DSN is parsed (no connection is made) so that
semantically-identical configurations always yield identical identities: the
user pool is host:port/database/user, the connection pool adds the pool
shaping.

Parameters:
  - cfg: *storage.NormalizedConfig
  - levels: storage.LogLevels
  - scope: registry.ScopeKey

Returns:
  - error: Malformed DSN
*/
func (b *Backend) LoadConfig(cfg *storage.NormalizedConfig, levels storage.LogLevels, scope registry.ScopeKey) error {
	dsn := cfg.String(ConfigKeyConnectionURI, "")
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("postgres: invalid DSN for scope %s: %w", scope, err)
	}

	poolSize := cfg.Int(ConfigKeyPoolSize, defaultPoolSize)
	poolConfig.MaxConns = int32(poolSize)
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = maxConnLifetime
	poolConfig.MaxConnIdleTime = maxConnIdleTime
	poolConfig.HealthCheckPeriod = healthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = connectTimeout

	// Per-connection statement timeout to avoid runaway queries.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = '%ds'", int(statementTimeout.Seconds())))
		return err
	}

	conn := poolConfig.ConnConfig
	b.scope = scope
	b.poolConfig = poolConfig
	b.connectionURI = dsn
	b.userPoolID = fmt.Sprintf("postgres|%s:%d/%s/%s", conn.Host, conn.Port, conn.Database, conn.User)
	b.connectionPoolID = fmt.Sprintf("pool_size=%d", poolSize)
	b.handler.SetLevels(levels)
	return nil
}

/*
InitStorage connects the pool, validates reachability, and applies the
embedded schema migrations idempotently.

Parameters:
  - ctx: context.Context
  - firstInit: bool (true for the base-tenant bootstrap)

Returns:
  - error: *storage.InitError on connect, ping, or migration failures
*/
func (b *Backend) InitStorage(ctx context.Context, firstInit bool) error {
	pool, err := b.handle(ctx)
	if err != nil {
		return &storage.InitError{Cause: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return &storage.InitError{Cause: fmt.Errorf("postgres_ping_failed: %w", err)}
	}

	if err := b.migrateUp(); err != nil {
		return &storage.InitError{Cause: err}
	}

	stats := pool.Stat()
	b.logger.Info("postgres pool ready",
		slog.String("user_pool", b.userPoolID),
		slog.Int("max_conns", int(stats.MaxConns())),
		slog.Bool("first_init", firstInit),
	)
	return nil
}

// migrateUp applies all pending UP migrations from the embedded source.
func (b *Backend) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres_migration_source_failed: %w", err)
	}

	migrator, err := migrate.NewWithSourceInstance("iofs", source, toPgx5DSN(b.connectionURI))
	if err != nil {
		return fmt.Errorf("postgres_migration_init_failed: %w", err)
	}
	defer func() {
		sourceErr, dbErr := migrator.Close()
		if sourceErr != nil {
			b.logger.Error("migration source close error", slog.Any("error", sourceErr))
		}
		if dbErr != nil {
			b.logger.Error("migration db close error", slog.Any("error", dbErr))
		}
	}()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres_migration_up_failed: %w", err)
	}
	return nil
}

// Close releases the connection pool. Called at most once, by the resolver,
// after no registry key references this backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

// SetLogLevels refreshes the backend's log-level settings.
func (b *Backend) SetLogLevels(levels storage.LogLevels) {
	b.handler.SetLevels(levels)
}

// StopLogging permanently silences the backend.
func (b *Backend) StopLogging() {
	b.handler.SetLevels(storage.SilentLogLevels())
}

// UserPoolID identifies the database this backend's configuration points at.
func (b *Backend) UserPoolID() string { return b.userPoolID }

// ConnectionPoolID identifies the pool shaping.
func (b *Backend) ConnectionPoolID() string { return b.connectionPoolID }

// LockKey acquires the backend's advisory named lock.
func (b *Backend) LockKey(key string) { b.locks.Lock(key) }

// UnlockKey releases the backend's advisory named lock.
func (b *Backend) UnlockKey(key string) { b.locks.Unlock(key) }

// handle lazily builds the connection pool from the parsed configuration.
func (b *Backend) handle(ctx context.Context) (*pgxpool.Pool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("postgres: backend for pool %q is closed", b.userPoolID)
	}
	if b.pool != nil {
		return b.pool, nil
	}
	if b.poolConfig == nil {
		return nil, errors.New("postgres: backend used before LoadConfig")
	}

	pool, err := pgxpool.NewWithConfig(ctx, b.poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres_pool_create_failed: %w", err)
	}
	b.pool = pool
	return pool, nil
}

// # Transactions

// transaction adapts pgx.Tx to the storage.Transaction contract.
type transaction struct {
	tx        pgx.Tx
	committed bool
}

/*
StartTransaction runs fn inside a PostgreSQL transaction.

Description: A domain error returned by fn rolls the transaction back (unless
fn committed explicitly) and surfaces wrapped in *storage.TransactionLogicError
with the original error preserved for unwrapping.
*/
func (b *Backend) StartTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	pool, err := b.handle(ctx)
	if err != nil {
		return err
	}

	pgxTx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres_begin_failed: %w", err)
	}

	t := &transaction{tx: pgxTx}
	if err := fn(t); err != nil {
		if !t.committed {
			_ = pgxTx.Rollback(ctx)
		}
		return &storage.TransactionLogicError{Actual: err}
	}

	if !t.committed {
		if err := pgxTx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres_commit_failed: %w", err)
		}
	}
	return nil
}

// Commit makes the transaction's writes durable immediately.
func (t *transaction) Commit(ctx context.Context) error {
	if t.committed {
		return nil
	}
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres_commit_failed: %w", err)
	}
	t.committed = true
	return nil
}

// toPgx5DSN rewrites a postgres:// DSN to the pgx5:// scheme golang-migrate
// expects.
func toPgx5DSN(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "pgx5://"):
		return dsn
	case strings.HasPrefix(dsn, "postgres://"):
		return "pgx5://" + strings.TrimPrefix(dsn, "postgres://")
	case strings.HasPrefix(dsn, "postgresql://"):
		return "pgx5://" + strings.TrimPrefix(dsn, "postgresql://")
	}
	return dsn
}
