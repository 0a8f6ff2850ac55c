// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/declanvu/tenauth/internal/storage"
)

// # Schema

// schema is applied idempotently by InitStorage. The userid_mapping and
// nonauth_recipe_user_refs tables are written by external subsystems; this
// core only reads them during cross-storage lookup.
const schema = `
CREATE TABLE IF NOT EXISTS emailpassword_users (
	user_id       TEXT    PRIMARY KEY,
	email         TEXT    NOT NULL UNIQUE,
	password_hash TEXT    NOT NULL,
	time_joined   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS emailpassword_users_pagination
	ON emailpassword_users (time_joined DESC, user_id DESC);

CREATE TABLE IF NOT EXISTS emailpassword_pswd_reset_tokens (
	token_hash   TEXT    PRIMARY KEY,
	user_id      TEXT    NOT NULL,
	token_expiry INTEGER NOT NULL,
	FOREIGN KEY (user_id) REFERENCES emailpassword_users (user_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS emailpassword_pswd_reset_tokens_user
	ON emailpassword_pswd_reset_tokens (user_id);

CREATE TABLE IF NOT EXISTS userid_mapping (
	internal_user_id TEXT NOT NULL UNIQUE,
	external_user_id TEXT NOT NULL UNIQUE,
	PRIMARY KEY (internal_user_id, external_user_id)
);

CREATE TABLE IF NOT EXISTS nonauth_recipe_user_refs (
	recipe_id TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	PRIMARY KEY (recipe_id, user_id)
);`

// # User Rows

/*
SignUpUser inserts a brand-new user row.

Parameters:
  - ctx: context.Context
  - user: storage.UserInfo

Returns:
  - error: storage.ErrDuplicateUserID or storage.ErrDuplicateEmail on
    constraint violations, otherwise execution errors
*/
func (b *Backend) SignUpUser(ctx context.Context, user storage.UserInfo) error {
	db, err := b.handle(ctx)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO emailpassword_users (user_id, email, password_hash, time_joined)
		VALUES (?, ?, ?, ?)`

	if _, err := db.ExecContext(ctx, query, user.ID, user.Email, user.PasswordHash, user.TimeJoined); err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("sqlite_signup_failed: %w", err)
	}
	return nil
}

// UserByID returns the user with the given id, or storage.ErrUserNotFound.
func (b *Backend) UserByID(ctx context.Context, userID string) (*storage.UserInfo, error) {
	db, err := b.handle(ctx)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT user_id, email, password_hash, time_joined
		FROM emailpassword_users WHERE user_id = ?`
	return scanUser(db.QueryRowContext(ctx, query, userID))
}

// UserByEmail returns the user with the given email, or storage.ErrUserNotFound.
func (b *Backend) UserByEmail(ctx context.Context, email string) (*storage.UserInfo, error) {
	db, err := b.handle(ctx)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT user_id, email, password_hash, time_joined
		FROM emailpassword_users WHERE email = ?`
	return scanUser(db.QueryRowContext(ctx, query, email))
}

/*
Users returns up to limit users ordered by (timeJoined, userId), resuming at
the cursor row (inclusive) when a cursor is given.

Description: The cursor row is included because the service stores the first
row of the next page as the continuation position.

Parameters:
  - ctx: context.Context
  - cursor: *storage.UserCursor (nil for the first page)
  - limit: int
  - order: storage.SortOrder

Returns:
  - []storage.UserInfo: At most limit rows
  - error: Execution errors
*/
func (b *Backend) Users(ctx context.Context, cursor *storage.UserCursor, limit int, order storage.SortOrder) ([]storage.UserInfo, error) {
	db, err := b.handle(ctx)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	switch {
	case cursor == nil && order == storage.OrderOldestFirst:
		rows, err = db.QueryContext(ctx, `
			SELECT user_id, email, password_hash, time_joined FROM emailpassword_users
			ORDER BY time_joined ASC, user_id ASC LIMIT ?`, limit)
	case cursor == nil:
		rows, err = db.QueryContext(ctx, `
			SELECT user_id, email, password_hash, time_joined FROM emailpassword_users
			ORDER BY time_joined DESC, user_id DESC LIMIT ?`, limit)
	case order == storage.OrderOldestFirst:
		rows, err = db.QueryContext(ctx, `
			SELECT user_id, email, password_hash, time_joined FROM emailpassword_users
			WHERE time_joined > ? OR (time_joined = ? AND user_id >= ?)
			ORDER BY time_joined ASC, user_id ASC LIMIT ?`, cursor.TimeJoined, cursor.TimeJoined, cursor.UserID, limit)
	default:
		rows, err = db.QueryContext(ctx, `
			SELECT user_id, email, password_hash, time_joined FROM emailpassword_users
			WHERE time_joined < ? OR (time_joined = ? AND user_id <= ?)
			ORDER BY time_joined DESC, user_id DESC LIMIT ?`, cursor.TimeJoined, cursor.TimeJoined, cursor.UserID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite_list_users_failed: %w", err)
	}
	defer rows.Close()

	var users []storage.UserInfo
	for rows.Next() {
		var user storage.UserInfo
		if err := rows.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.TimeJoined); err != nil {
			return nil, fmt.Errorf("sqlite_list_users_scan_failed: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite_list_users_failed: %w", err)
	}
	return users, nil
}

// UsersCount returns the total number of user rows.
func (b *Backend) UsersCount(ctx context.Context) (int64, error) {
	db, err := b.handle(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emailpassword_users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite_users_count_failed: %w", err)
	}
	return count, nil
}

// # Password Reset Tokens

/*
AddPasswordResetToken persists a new hashed reset token.

Returns:
  - error: storage.ErrDuplicateResetToken on a token-hash collision
*/
func (b *Backend) AddPasswordResetToken(ctx context.Context, info storage.PasswordResetTokenInfo) error {
	db, err := b.handle(ctx)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO emailpassword_pswd_reset_tokens (token_hash, user_id, token_expiry)
		VALUES (?, ?, ?)`
	if _, err := db.ExecContext(ctx, query, info.TokenHash, info.UserID, info.TokenExpiry); err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		// The token row references the user row; a vanished user surfaces as
		// a foreign key violation.
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return storage.ErrUserNotFound
		}
		return fmt.Errorf("sqlite_add_reset_token_failed: %w", err)
	}
	return nil
}

// PasswordResetTokenByHash returns the token record matching the hash, or
// storage.ErrResetTokenNotFound.
func (b *Backend) PasswordResetTokenByHash(ctx context.Context, tokenHash string) (*storage.PasswordResetTokenInfo, error) {
	db, err := b.handle(ctx)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT user_id, token_hash, token_expiry
		FROM emailpassword_pswd_reset_tokens WHERE token_hash = ?`

	info := &storage.PasswordResetTokenInfo{}
	err = db.QueryRowContext(ctx, query, tokenHash).Scan(&info.UserID, &info.TokenHash, &info.TokenExpiry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrResetTokenNotFound
		}
		return nil, fmt.Errorf("sqlite_get_reset_token_failed: %w", err)
	}
	return info, nil
}

// # Cross-Storage Lookup Surface

// UserIDMapping returns the mapping row matching userID on the side(s)
// selected by idType, or storage.ErrUserIDMappingNotFound.
func (b *Backend) UserIDMapping(ctx context.Context, userID string, idType storage.UserIDType) (*storage.UserIDMapping, error) {
	db, err := b.handle(ctx)
	if err != nil {
		return nil, err
	}

	var row *sql.Row
	switch idType {
	case storage.UserIDTypeInternal:
		row = db.QueryRowContext(ctx, `
			SELECT internal_user_id, external_user_id FROM userid_mapping
			WHERE internal_user_id = ?`, userID)
	case storage.UserIDTypeExternal:
		row = db.QueryRowContext(ctx, `
			SELECT internal_user_id, external_user_id FROM userid_mapping
			WHERE external_user_id = ?`, userID)
	default:
		row = db.QueryRowContext(ctx, `
			SELECT internal_user_id, external_user_id FROM userid_mapping
			WHERE internal_user_id = ? OR external_user_id = ?`, userID, userID)
	}

	mapping := &storage.UserIDMapping{}
	if err := row.Scan(&mapping.InternalUserID, &mapping.ExternalUserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserIDMappingNotFound
		}
		return nil, fmt.Errorf("sqlite_userid_mapping_failed: %w", err)
	}
	return mapping, nil
}

// UserIDExists reports whether userID exists as a native auth-recipe user.
func (b *Backend) UserIDExists(ctx context.Context, userID string) (bool, error) {
	db, err := b.handle(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM emailpassword_users WHERE user_id = ?)`
	if err := db.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("sqlite_userid_exists_failed: %w", err)
	}
	return exists, nil
}

// UserIDUsedByNonAuthRecipe reports whether userID is referenced by a
// non-auth-recipe subsystem.
func (b *Backend) UserIDUsedByNonAuthRecipe(ctx context.Context, userID string) (bool, error) {
	db, err := b.handle(ctx)
	if err != nil {
		return false, err
	}
	var used bool
	const query = `SELECT EXISTS (SELECT 1 FROM nonauth_recipe_user_refs WHERE user_id = ?)`
	if err := db.QueryRowContext(ctx, query, userID).Scan(&used); err != nil {
		return false, fmt.Errorf("sqlite_nonauth_ref_failed: %w", err)
	}
	return used, nil
}

// DeleteAllInformation wipes every row this backend holds.
func (b *Backend) DeleteAllInformation(ctx context.Context) error {
	db, err := b.handle(ctx)
	if err != nil {
		return err
	}
	for _, table := range []string{
		"emailpassword_pswd_reset_tokens",
		"emailpassword_users",
		"userid_mapping",
		"nonauth_recipe_user_refs",
	} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("sqlite_delete_all_failed: %w", err)
		}
	}
	return nil
}

// # Transactional Surface

// UserByID re-reads the user row inside the transaction.
func (t *transaction) UserByID(ctx context.Context, userID string) (*storage.UserInfo, error) {
	const query = `
		SELECT user_id, email, password_hash, time_joined
		FROM emailpassword_users WHERE user_id = ?`
	return scanUser(t.tx.QueryRowContext(ctx, query, userID))
}

// AllPasswordResetTokensForUser returns every outstanding token record for
// the user.
func (t *transaction) AllPasswordResetTokensForUser(ctx context.Context, userID string) ([]storage.PasswordResetTokenInfo, error) {
	const query = `
		SELECT user_id, token_hash, token_expiry
		FROM emailpassword_pswd_reset_tokens WHERE user_id = ?`

	rows, err := t.tx.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite_all_reset_tokens_failed: %w", err)
	}
	defer rows.Close()

	var tokens []storage.PasswordResetTokenInfo
	for rows.Next() {
		var info storage.PasswordResetTokenInfo
		if err := rows.Scan(&info.UserID, &info.TokenHash, &info.TokenExpiry); err != nil {
			return nil, fmt.Errorf("sqlite_all_reset_tokens_scan_failed: %w", err)
		}
		tokens = append(tokens, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite_all_reset_tokens_failed: %w", err)
	}
	return tokens, nil
}

// DeleteAllPasswordResetTokensForUser removes every outstanding token record
// for the user.
func (t *transaction) DeleteAllPasswordResetTokensForUser(ctx context.Context, userID string) error {
	const query = `DELETE FROM emailpassword_pswd_reset_tokens WHERE user_id = ?`
	if _, err := t.tx.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("sqlite_delete_reset_tokens_failed: %w", err)
	}
	return nil
}

// UpdateUserPassword replaces the user's password hash.
func (t *transaction) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	const query = `UPDATE emailpassword_users SET password_hash = ? WHERE user_id = ?`
	if _, err := t.tx.ExecContext(ctx, query, passwordHash, userID); err != nil {
		return fmt.Errorf("sqlite_update_password_failed: %w", err)
	}
	return nil
}

// UpdateUserEmail changes the user's email, failing with
// storage.ErrDuplicateEmail when another user already holds it.
func (t *transaction) UpdateUserEmail(ctx context.Context, userID, email string) error {
	const query = `UPDATE emailpassword_users SET email = ? WHERE user_id = ?`
	if _, err := t.tx.ExecContext(ctx, query, email, userID); err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("sqlite_update_email_failed: %w", err)
	}
	return nil
}

// # Helpers

// rowScanner covers *sql.Row and transaction-scoped rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*storage.UserInfo, error) {
	user := &storage.UserInfo{}
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.TimeJoined); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("sqlite_scan_user_failed: %w", err)
	}
	return user, nil
}

// mapUniqueViolation classifies sqlite unique-constraint failures into the
// typed collision errors. The driver reports them as plain error strings, so
// the mapping goes by the violated column.
func mapUniqueViolation(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "constraint failed") {
		return nil
	}
	switch {
	case strings.Contains(msg, "emailpassword_users.user_id"):
		return storage.ErrDuplicateUserID
	case strings.Contains(msg, "emailpassword_users.email"):
		return storage.ErrDuplicateEmail
	case strings.Contains(msg, "emailpassword_pswd_reset_tokens.token_hash"):
		return storage.ErrDuplicateResetToken
	}
	return nil
}
