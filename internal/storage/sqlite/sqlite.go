// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

/*
Package sqlite implements the built-in in-process storage backend on top of a
shared in-memory sqlite database.

It is the default driver: deployments without a registered database driver
fall back to it, and tests run against it directly.

Architecture:

  - One shared-cache in-memory database per user pool; tenants whose
    configuration resolves to the same pool name share one backend instance.
  - A single pooled connection keeps the in-memory database alive across
    requests and serializes writers.
  - Construction is side-effect-free; the database is opened lazily on first
    use, so reconciliation may construct and discard candidates freely.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	// Pure-Go sqlite driver; registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/declanvu/tenauth/internal/registry"
	"github.com/declanvu/tenauth/internal/storage"
)

// Configuration keys this driver understands.
const (
	// ConfigKeyDatabase names the in-memory pool. Tenants overriding it get
	// their own isolated user pool.
	ConfigKeyDatabase = "sqlite_database"

	defaultDatabase = "primary"
)

func init() {
	storage.RegisterDriver(driver{})
}

// driver is the compile-time registration of the in-process backend.
type driver struct{}

func (driver) Name() string { return storage.DefaultDriverName }

// CanServe always reports true; the in-process backend is the universal
// fallback.
func (driver) CanServe(cfg *storage.NormalizedConfig) bool { return true }

func (driver) New(logger *slog.Logger) storage.Storage { return New(logger) }

// Backend is one in-process storage instance, potentially shared by every
// tenant whose configuration names the same pool.
type Backend struct {
	handler *storage.LevelHandler
	logger  *slog.Logger
	locks   registry.NamedLock

	scope            registry.ScopeKey
	database         string
	userPoolID       string
	connectionPoolID string

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// New constructs an unconnected [Backend]. No database is opened until first
// use.
func New(logger *slog.Logger) *Backend {
	handler := storage.NewLevelHandler(logger.Handler(), storage.DefaultLogLevels())
	return &Backend{
		handler: handler,
		logger:  slog.New(handler).With(slog.String("storage", "sqlite")),
	}
}

// # Lifecycle

// LoadConfig binds the normalized tenant configuration. It derives the pool
// identity and must not open the database.
func (b *Backend) LoadConfig(cfg *storage.NormalizedConfig, levels storage.LogLevels, scope registry.ScopeKey) error {
	b.scope = scope
	b.database = cfg.String(ConfigKeyDatabase, defaultDatabase)
	b.userPoolID = "sqlite|" + b.database
	b.connectionPoolID = "in_memory"
	b.handler.SetLevels(levels)
	return nil
}

/*
InitStorage opens the shared in-memory database and creates the schema
idempotently.

Parameters:
  - ctx: context.Context
  - firstInit: bool (true for the base-tenant bootstrap)

Returns:
  - error: *storage.InitError on connect or schema failures
*/
func (b *Backend) InitStorage(ctx context.Context, firstInit bool) error {
	db, err := b.handle(ctx)
	if err != nil {
		return &storage.InitError{Cause: err}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return &storage.InitError{Cause: fmt.Errorf("sqlite_schema_create_failed: %w", err)}
	}
	if firstInit {
		b.logger.Info("using in-memory storage", slog.String("database", b.database))
	}
	return nil
}

// Close releases the database, discarding the in-memory data. Called at most
// once, by the resolver, after no registry key references this backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.db == nil {
		b.closed = true
		return nil
	}
	b.closed = true
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("sqlite_close_failed: %w", err)
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

// UserPoolID identifies the in-memory pool this backend serves.
func (b *Backend) UserPoolID() string { return b.userPoolID }

// ConnectionPoolID is constant: in-memory backends have no connection shaping.
func (b *Backend) ConnectionPoolID() string { return b.connectionPoolID }

// LockKey acquires the backend's advisory named lock.
func (b *Backend) LockKey(key string) { b.locks.Lock(key) }

// UnlockKey releases the backend's advisory named lock.
func (b *Backend) UnlockKey(key string) { b.locks.Unlock(key) }

// handle lazily opens the shared in-memory database.
//
// The pool is pinned to a single connection that is never aged out: sqlite's
// shared-cache in-memory database lives exactly as long as at least one
// connection stays open, and a single writer sidesteps SQLITE_BUSY.
func (b *Backend) handle(ctx context.Context) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("sqlite: backend for pool %q is closed", b.database)
	}
	if b.db != nil {
		return b.db, nil
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", b.database)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite_open_failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite_ping_failed: %w", err)
	}

	b.db = db
	return db, nil
}

// # Transactions

// transaction adapts *sql.Tx to the storage.Transaction contract.
type transaction struct {
	tx        *sql.Tx
	committed bool
}

/*
StartTransaction runs fn inside a sqlite transaction.

Description: A domain error returned by fn rolls the transaction back (unless
fn committed explicitly) and surfaces wrapped in *storage.TransactionLogicError
with the original error preserved for unwrapping.

Parameters:
  - ctx: context.Context
  - fn: func(tx storage.Transaction) error

Returns:
  - error: Wrapped domain errors, or storage-level begin/commit failures
*/
func (b *Backend) StartTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	db, err := b.handle(ctx)
	if err != nil {
		return err
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite_begin_failed: %w", err)
	}

	t := &transaction{tx: sqlTx}
	if err := fn(t); err != nil {
		if !t.committed {
			_ = sqlTx.Rollback()
		}
		return &storage.TransactionLogicError{Actual: err}
	}

	if !t.committed {
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("sqlite_commit_failed: %w", err)
		}
	}
	return nil
}

// Commit makes the transaction's writes durable immediately.
func (t *transaction) Commit(ctx context.Context) error {
	if t.committed {
		return nil
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite_commit_failed: %w", err)
	}
	t.committed = true
	return nil
}
