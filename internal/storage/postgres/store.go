// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/declanvu/tenauth/internal/storage"
)

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
	pool, err := b.handle(ctx)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO emailpassword_users (user_id, email, password_hash, time_joined)
		VALUES ($1, $2, $3, $4)`

	if _, err := pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.TimeJoined); err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("postgres_signup_failed: %w", err)
	}
	return nil
}

// UserByID returns the user with the given id, or storage.ErrUserNotFound.
func (b *Backend) UserByID(ctx context.Context, userID string) (*storage.UserInfo, error) {
	pool, err := b.handle(ctx)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT user_id, email, password_hash, time_joined
		FROM emailpassword_users WHERE user_id = $1`
	return scanUser(pool.QueryRow(ctx, query, userID))
}

// UserByEmail returns the user with the given email, or storage.ErrUserNotFound.
func (b *Backend) UserByEmail(ctx context.Context, email string) (*storage.UserInfo, error) {
	pool, err := b.handle(ctx)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT user_id, email, password_hash, time_joined
		FROM emailpassword_users WHERE email = $1`
	return scanUser(pool.QueryRow(ctx, query, email))
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
	pool, err := b.handle(ctx)
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	switch {
	case cursor == nil && order == storage.OrderOldestFirst:
		rows, err = pool.Query(ctx, `
			SELECT user_id, email, password_hash, time_joined FROM emailpassword_users
			ORDER BY time_joined ASC, user_id ASC LIMIT $1`, limit)
	case cursor == nil:
		rows, err = pool.Query(ctx, `
			SELECT user_id, email, password_hash, time_joined FROM emailpassword_users
			ORDER BY time_joined DESC, user_id DESC LIMIT $1`, limit)
	case order == storage.OrderOldestFirst:
		rows, err = pool.Query(ctx, `
			SELECT user_id, email, password_hash, time_joined FROM emailpassword_users
			WHERE time_joined > $1 OR (time_joined = $1 AND user_id >= $2)
			ORDER BY time_joined ASC, user_id ASC LIMIT $3`, cursor.TimeJoined, cursor.UserID, limit)
	default:
		rows, err = pool.Query(ctx, `
			SELECT user_id, email, password_hash, time_joined FROM emailpassword_users
			WHERE time_joined < $1 OR (time_joined = $1 AND user_id <= $2)
			ORDER BY time_joined DESC, user_id DESC LIMIT $3`, cursor.TimeJoined, cursor.UserID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres_list_users_failed: %w", err)
	}
	defer rows.Close()

	var users []storage.UserInfo
	for rows.Next() {
		var user storage.UserInfo
		if err := rows.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.TimeJoined); err != nil {
			return nil, fmt.Errorf("postgres_list_users_scan_failed: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_list_users_failed: %w", err)
	}
	return users, nil
}

// UsersCount returns the total number of user rows.
func (b *Backend) UsersCount(ctx context.Context) (int64, error) {
	pool, err := b.handle(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM emailpassword_users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres_users_count_failed: %w", err)
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
	pool, err := b.handle(ctx)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO emailpassword_pswd_reset_tokens (token_hash, user_id, token_expiry)
		VALUES ($1, $2, $3)`
	if _, err := pool.Exec(ctx, query, info.TokenHash, info.UserID, info.TokenExpiry); err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		// The token row references the user row; a vanished user surfaces as
		// a foreign key violation.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return storage.ErrUserNotFound
		}
		return fmt.Errorf("postgres_add_reset_token_failed: %w", err)
	}
	return nil
}

// PasswordResetTokenByHash returns the token record matching the hash, or
// storage.ErrResetTokenNotFound.
func (b *Backend) PasswordResetTokenByHash(ctx context.Context, tokenHash string) (*storage.PasswordResetTokenInfo, error) {
	pool, err := b.handle(ctx)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT user_id, token_hash, token_expiry
		FROM emailpassword_pswd_reset_tokens WHERE token_hash = $1`

	info := &storage.PasswordResetTokenInfo{}
	err = pool.QueryRow(ctx, query, tokenHash).Scan(&info.UserID, &info.TokenHash, &info.TokenExpiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrResetTokenNotFound
		}
		return nil, fmt.Errorf("postgres_get_reset_token_failed: %w", err)
	}
	return info, nil
}

// # Cross-Storage Lookup Surface

// UserIDMapping returns the mapping row matching userID on the side(s)
// selected by idType, or storage.ErrUserIDMappingNotFound.
func (b *Backend) UserIDMapping(ctx context.Context, userID string, idType storage.UserIDType) (*storage.UserIDMapping, error) {
	pool, err := b.handle(ctx)
	if err != nil {
		return nil, err
	}

	var row pgx.Row
	switch idType {
	case storage.UserIDTypeInternal:
		row = pool.QueryRow(ctx, `
			SELECT internal_user_id, external_user_id FROM userid_mapping
			WHERE internal_user_id = $1`, userID)
	case storage.UserIDTypeExternal:
		row = pool.QueryRow(ctx, `
			SELECT internal_user_id, external_user_id FROM userid_mapping
			WHERE external_user_id = $1`, userID)
	default:
		row = pool.QueryRow(ctx, `
			SELECT internal_user_id, external_user_id FROM userid_mapping
			WHERE internal_user_id = $1 OR external_user_id = $1`, userID)
	}

	mapping := &storage.UserIDMapping{}
	if err := row.Scan(&mapping.InternalUserID, &mapping.ExternalUserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrUserIDMappingNotFound
		}
		return nil, fmt.Errorf("postgres_userid_mapping_failed: %w", err)
	}
	return mapping, nil
}

// UserIDExists reports whether userID exists as a native auth-recipe user.
func (b *Backend) UserIDExists(ctx context.Context, userID string) (bool, error) {
	pool, err := b.handle(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM emailpassword_users WHERE user_id = $1)`
	if err := pool.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres_userid_exists_failed: %w", err)
	}
	return exists, nil
}

// UserIDUsedByNonAuthRecipe reports whether userID is referenced by a
// non-auth-recipe subsystem.
func (b *Backend) UserIDUsedByNonAuthRecipe(ctx context.Context, userID string) (bool, error) {
	pool, err := b.handle(ctx)
	if err != nil {
		return false, err
	}
	var used bool
	const query = `SELECT EXISTS (SELECT 1 FROM nonauth_recipe_user_refs WHERE user_id = $1)`
	if err := pool.QueryRow(ctx, query, userID).Scan(&used); err != nil {
		return false, fmt.Errorf("postgres_nonauth_ref_failed: %w", err)
	}
	return used, nil
}

// DeleteAllInformation wipes every row this backend holds.
func (b *Backend) DeleteAllInformation(ctx context.Context) error {
	pool, err := b.handle(ctx)
	if err != nil {
		return err
	}
	const query = `
		TRUNCATE emailpassword_pswd_reset_tokens, emailpassword_users,
			userid_mapping, nonauth_recipe_user_refs`
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres_delete_all_failed: %w", err)
	}
	return nil
}

// # Transactional Surface

// UserByID re-reads the user row inside the transaction, locking it against
// concurrent credential updates.
func (t *transaction) UserByID(ctx context.Context, userID string) (*storage.UserInfo, error) {
	const query = `
		SELECT user_id, email, password_hash, time_joined
		FROM emailpassword_users WHERE user_id = $1 FOR UPDATE`
	return scanUser(t.tx.QueryRow(ctx, query, userID))
}

// AllPasswordResetTokensForUser returns every outstanding token record for
// the user.
func (t *transaction) AllPasswordResetTokensForUser(ctx context.Context, userID string) ([]storage.PasswordResetTokenInfo, error) {
	const query = `
		SELECT user_id, token_hash, token_expiry
		FROM emailpassword_pswd_reset_tokens WHERE user_id = $1`

	rows, err := t.tx.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_all_reset_tokens_failed: %w", err)
	}
	defer rows.Close()

	var tokens []storage.PasswordResetTokenInfo
	for rows.Next() {
		var info storage.PasswordResetTokenInfo
		if err := rows.Scan(&info.UserID, &info.TokenHash, &info.TokenExpiry); err != nil {
			return nil, fmt.Errorf("postgres_all_reset_tokens_scan_failed: %w", err)
		}
		tokens = append(tokens, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_all_reset_tokens_failed: %w", err)
	}
	return tokens, nil
}

// DeleteAllPasswordResetTokensForUser removes every outstanding token record
// for the user.
func (t *transaction) DeleteAllPasswordResetTokensForUser(ctx context.Context, userID string) error {
	const query = `DELETE FROM emailpassword_pswd_reset_tokens WHERE user_id = $1`
	if _, err := t.tx.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("postgres_delete_reset_tokens_failed: %w", err)
	}
	return nil
}

// UpdateUserPassword replaces the user's password hash.
func (t *transaction) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	const query = `UPDATE emailpassword_users SET password_hash = $1 WHERE user_id = $2`
	if _, err := t.tx.Exec(ctx, query, passwordHash, userID); err != nil {
		return fmt.Errorf("postgres_update_password_failed: %w", err)
	}
	return nil
}

// UpdateUserEmail changes the user's email, failing with
// storage.ErrDuplicateEmail when another user already holds it.
func (t *transaction) UpdateUserEmail(ctx context.Context, userID, email string) error {
	const query = `UPDATE emailpassword_users SET email = $1 WHERE user_id = $2`
	if _, err := t.tx.Exec(ctx, query, email, userID); err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("postgres_update_email_failed: %w", err)
	}
	return nil
}

// # Helpers

func scanUser(row pgx.Row) (*storage.UserInfo, error) {
	user := &storage.UserInfo{}
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.TimeJoined); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres_scan_user_failed: %w", err)
	}
	return user, nil
}

// mapUniqueViolation classifies SQLSTATE 23505 failures into the typed
// collision errors by constraint name.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case "emailpassword_users_pkey":
		return storage.ErrDuplicateUserID
	case "emailpassword_users_email_key":
		return storage.ErrDuplicateEmail
	case "emailpassword_pswd_reset_tokens_pkey":
		return storage.ErrDuplicateResetToken
	}
	return nil
}
