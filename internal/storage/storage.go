// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

/*
Package storage defines the capability contract every storage backend must
implement, the typed error taxonomy of the storage layer, and the compile-time
driver set backends register into.

Architecture:

  - Storage: Capability interface (lifecycle, pool identity, transactions,
    email/password recipe surface, user-id lookup surface).
  - Driver: Compile-time registered backend constructors, selected by
    configuration at base-tenant initialization.
  - NormalizedConfig: Deterministic canonical form of a tenant's configuration,
    the basis for pool-identity comparison.

Backends are shared across tenants whose configurations report the same pool
identity. The resolver owns their lifecycle; nothing in this package
constructs or closes a backend.
*/
package storage

import (
	"context"

	"github.com/declanvu/tenauth/internal/registry"
)

// # Domain Records

// UserInfo is one email/password user row.
type UserInfo struct {
	// ID is the opaque unique user identifier.
	ID string `json:"id"`
	// Email is unique per app within a user pool.
	Email string `json:"email"`
	// PasswordHash is the stored hash, tagged with its algorithm identifier
	// (e.g. "$2b$...", "$argon2id$..."). Never the plain password.
	PasswordHash string `json:"-"`
	// TimeJoined is the creation timestamp in unix milliseconds.
	TimeJoined int64 `json:"time_joined"`
}

// PasswordResetTokenInfo is one outstanding password-reset token record. Only
// the SHA-256 hash of a token is ever persisted; the raw token lives with the
// caller.
type PasswordResetTokenInfo struct {
	UserID string
	// TokenHash is the SHA-256 of the raw token.
	TokenHash string
	// TokenExpiry is the absolute expiry in unix milliseconds.
	TokenExpiry int64
}

// UserIDMapping associates an internal user id with an external one, scoped
// to an app. Ownership of mapping rows lies with a separate subsystem; this
// core only reads them during cross-storage lookup.
type UserIDMapping struct {
	InternalUserID string
	ExternalUserID string
}

// UserIDType narrows which side of a user-id mapping a lookup may match.
type UserIDType int

const (
	// UserIDTypeAny matches either side of a mapping.
	UserIDTypeAny UserIDType = iota
	// UserIDTypeInternal matches internal ids only.
	UserIDTypeInternal
	// UserIDTypeExternal matches external ids only.
	UserIDTypeExternal
)

// # Pagination

// SortOrder fixes the traversal direction of a user listing.
type SortOrder string

const (
	OrderNewestFirst SortOrder = "DESC"
	OrderOldestFirst SortOrder = "ASC"
)

// UserCursor marks the first row of the next page. Listing resumes at it
// inclusively, tie-broken by user id for determinism.
type UserCursor struct {
	UserID     string
	TimeJoined int64
}

// # Backend Contract

/*
Storage is the capability set a backend exposes to the core.

Lifecycle: construction must be side-effect-free (no connections); LoadConfig
binds the normalized tenant configuration; connections are established lazily
on first use; InitStorage is invoked by the resolver after the backend is
published into the registry; Close is called at most once, by the resolver,
after no registry key references the backend anymore.

Sharing: one backend instance may serve many tenants (equal pool identity).
Callers must treat it as read/write-shared; LockKey/UnlockKey offer advisory
serialization for operations that are not naturally transactional.
*/
type Storage interface {
	// LoadConfig binds the normalized tenant configuration and the current
	// log-level settings. It must not connect to anything.
	LoadConfig(cfg *NormalizedConfig, levels LogLevels, scope registry.ScopeKey) error

	// InitStorage prepares the backend for use (connect, create or migrate
	// schema). firstInit marks the base-tenant bootstrap. Failures are
	// InitError-class and isolated per tenant by the resolver.
	InitStorage(ctx context.Context, firstInit bool) error

	// Close releases every underlying connection. Called at most once.
	Close() error

	// SetLogLevels refreshes the backend's log-level settings to the current
	// configuration. Invoked on every reconciliation pass, including for
	// reused instances.
	SetLogLevels(levels LogLevels)

	// StopLogging permanently silences the backend's background logging.
	// Invoked when the backend is orphaned.
	StopLogging()

	// UserPoolID identifies the user pool this backend's configuration points
	// at. Deterministic for semantically-identical configurations.
	UserPoolID() string

	// ConnectionPoolID identifies the connection pool shaping. Deterministic
	// for semantically-identical configurations.
	ConnectionPoolID() string

	// StartTransaction runs fn inside a storage transaction. A domain error
	// returned by fn rolls the transaction back (unless fn committed
	// explicitly) and surfaces wrapped in a *TransactionLogicError, preserving
	// the original for errors.Is/As.
	StartTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// LockKey acquires the backend's advisory named lock, blocking until held.
	LockKey(key string)
	// UnlockKey releases the backend's advisory named lock.
	UnlockKey(key string)

	EmailPasswordStore
	UserIDLookupStore
}

// PoolIdentity returns the composite identity that decides whether two
// backends are interchangeable and must be collapsed to one shared instance.
func PoolIdentity(s Storage) string {
	return s.UserPoolID() + "~" + s.ConnectionPoolID()
}

// # Email/Password Recipe Surface

// EmailPasswordStore is the non-transactional read/write surface the
// credential service uses.
type EmailPasswordStore interface {

	/*
		SignUpUser inserts a brand-new user row.

		Returns:
		  - error: ErrDuplicateUserID on an id collision (retryable),
		    ErrDuplicateEmail if the email is already taken
	*/
	SignUpUser(ctx context.Context, user UserInfo) error

	// UserByID returns the user with the given id, or ErrUserNotFound.
	UserByID(ctx context.Context, userID string) (*UserInfo, error)

	// UserByEmail returns the user with the given email, or ErrUserNotFound.
	UserByEmail(ctx context.Context, email string) (*UserInfo, error)

	/*
		AddPasswordResetToken persists a new hashed reset token.

		Returns:
		  - error: ErrDuplicateResetToken on a token-hash collision (retryable),
		    ErrUserNotFound when the referenced user does not exist
	*/
	AddPasswordResetToken(ctx context.Context, info PasswordResetTokenInfo) error

	// PasswordResetTokenByHash returns the token record matching the hash, or
	// ErrResetTokenNotFound.
	PasswordResetTokenByHash(ctx context.Context, tokenHash string) (*PasswordResetTokenInfo, error)

	/*
		Users returns up to limit users ordered by (timeJoined, userId) in the
		given direction, resuming at the cursor row (inclusive) when cursor
		is non-nil.

		The service requests limit+1 rows to detect whether more pages exist.
	*/
	Users(ctx context.Context, cursor *UserCursor, limit int, order SortOrder) ([]UserInfo, error)

	// UsersCount returns the total number of users in this backend.
	UsersCount(ctx context.Context) (int64, error)

	// DeleteAllInformation wipes every row this backend holds. Bulk-delete
	// support for operational tooling and tests.
	DeleteAllInformation(ctx context.Context) error
}

// # Cross-Storage Lookup Surface

// UserIDLookupStore is the surface the resolver's cross-storage user-id
// lookup walks, in order: explicit mapping, native auth-recipe user,
// non-auth-recipe reference.
type UserIDLookupStore interface {

	// UserIDMapping returns the mapping row matching userID on the side(s)
	// selected by idType, or ErrUserIDMappingNotFound.
	UserIDMapping(ctx context.Context, userID string, idType UserIDType) (*UserIDMapping, error)

	// UserIDExists reports whether userID exists as a native auth-recipe user.
	UserIDExists(ctx context.Context, userID string) (bool, error)

	// UserIDUsedByNonAuthRecipe reports whether userID is referenced by a
	// non-auth-recipe subsystem. Guards against false "unknown user" results
	// for ids that are valid in another recipe's namespace.
	UserIDUsedByNonAuthRecipe(ctx context.Context, userID string) (bool, error)
}

// # Transactions

/*
Transaction is the handle passed to a StartTransaction body. Operations on a
single user row observe serializable semantics relative to other transactions
touching the same row; the credential service's re-check-inside-transaction
patterns depend on that.
*/
type Transaction interface {

	// UserByID re-reads the user row inside the transaction, or returns
	// ErrUserNotFound.
	UserByID(ctx context.Context, userID string) (*UserInfo, error)

	// AllPasswordResetTokensForUser returns every outstanding token record
	// for the user.
	AllPasswordResetTokensForUser(ctx context.Context, userID string) ([]PasswordResetTokenInfo, error)

	// DeleteAllPasswordResetTokensForUser removes every outstanding token
	// record for the user. Consuming one token invalidates the whole batch.
	DeleteAllPasswordResetTokensForUser(ctx context.Context, userID string) error

	// UpdateUserPassword replaces the user's password hash.
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error

	// UpdateUserEmail changes the user's email, failing with
	// ErrDuplicateEmail if another user already holds it.
	UpdateUserEmail(ctx context.Context, userID, email string) error

	// Commit makes the transaction's writes durable immediately. A body that
	// commits and then returns an error keeps the committed writes; the error
	// still surfaces as a *TransactionLogicError.
	Commit(ctx context.Context) error
}
