// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

/*
Package emailpassword implements the credential service: sign-up, sign-in,
password import, the password-reset token lifecycle, atomic credential
updates, and paginated user listing.

Every operation takes the scope key the caller resolved for the request and
runs against the storage backend bound to it. The service holds no per-tenant
state of its own.
*/
package emailpassword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/declanvu/tenauth/internal/platform/hashing"
	"github.com/declanvu/tenauth/internal/registry"
	"github.com/declanvu/tenauth/internal/resolver"
	"github.com/declanvu/tenauth/internal/storage"
	"github.com/declanvu/tenauth/pkg/pagination"
)

// maxGenerationAttempts bounds the collision-retry loops for generated user
// ids and reset tokens. Collisions in a 128-bit space are vanishingly rare; a
// streak this long is a logic bug, not bad luck.
const maxGenerationAttempts = 100

// DefaultResetTokenLifetime applies when the deployment does not configure
// one.
const DefaultResetTokenLifetime = time.Hour

// Options configures a [Service].
type Options struct {
	// Resolver supplies the storage backend for each scope. Required.
	Resolver *resolver.Resolver

	// Hasher is the password-hash collaborator. Required.
	Hasher *hashing.Hasher

	// ResetTokenLifetime is the validity window of generated reset tokens.
	// Zero means DefaultResetTokenLifetime.
	ResetTokenLifetime time.Duration

	// Logger receives service logging. Required.
	Logger *slog.Logger
}

// Service is the credential service. Safe for concurrent use.
type Service struct {
	resolver           *resolver.Resolver
	hasher             *hashing.Hasher
	resetTokenLifetime time.Duration
	logger             *slog.Logger
}

// NewService constructs a [Service].
func NewService(opts Options) *Service {
	lifetime := opts.ResetTokenLifetime
	if lifetime <= 0 {
		lifetime = DefaultResetTokenLifetime
	}
	return &Service{
		resolver:           opts.Resolver,
		hasher:             opts.Hasher,
		resetTokenLifetime: lifetime,
		logger:             opts.Logger,
	}
}

func (s *Service) storageFor(scope registry.ScopeKey) (storage.Storage, error) {
	st, err := s.resolver.StorageFor(scope)
	if err != nil {
		return nil, fmt.Errorf("emailpassword_storage_lookup_failed: %w", err)
	}
	return st, nil
}

// # Sign Up / Import

/*
SignUp creates a new user with a freshly hashed password.

Description: A fresh random user id is generated per attempt; an id collision
retries with a new id. An email collision is a domain conflict and never
retried.

Parameters:
  - ctx: context.Context
  - scope: registry.ScopeKey
  - email: string
  - password: string (plain text)

Returns:
  - *storage.UserInfo: The created user
  - error: storage.ErrDuplicateEmail if the email is taken
*/
func (s *Service) SignUp(ctx context.Context, scope registry.ScopeKey, email, password string) (*storage.UserInfo, error) {
	st, err := s.storageFor(scope)
	if err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.CreateHash(password)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		user := storage.UserInfo{
			ID:           uuid.NewString(),
			Email:        email,
			PasswordHash: passwordHash,
			TimeJoined:   time.Now().UnixMilli(),
		}
		err := st.SignUpUser(ctx, user)
		if err == nil {
			return &user, nil
		}
		if errors.Is(err, storage.ErrDuplicateUserID) {
			continue
		}
		return nil, err
	}
	s.logger.Error("user id generation exhausted retries", slog.String("op", "sign_up"))
	return nil, errCollisionStreak
}

/*
ImportUserWithPasswordHash imports a user carrying an externally produced
password hash.

Description: Idempotent by email: when the email already exists, the existing
user's password hash is overwritten inside a transaction and existed reports
true. Repeated calls converge to "user exists with the given hash". The race
where the duplicate email vanishes between the insert failure and the
overwrite retries the insert.

Parameters:
  - ctx: context.Context
  - scope: registry.ScopeKey
  - email: string
  - passwordHash: string (algorithm-tagged)
  - algorithm: hashing.Algorithm (AlgorithmAny accepts any native format)

Returns:
  - bool: Whether the user already existed
  - *storage.UserInfo: The created or updated user
  - error: hashing.ErrUnsupportedHashFormat on a bad hash
*/
func (s *Service) ImportUserWithPasswordHash(ctx context.Context, scope registry.ScopeKey, email, passwordHash string, algorithm hashing.Algorithm) (bool, *storage.UserInfo, error) {
	if err := s.hasher.ValidateHashFormat(passwordHash, algorithm); err != nil {
		return false, nil, err
	}

	st, err := s.storageFor(scope)
	if err != nil {
		return false, nil, err
	}

	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		user := storage.UserInfo{
			ID:           uuid.NewString(),
			Email:        email,
			PasswordHash: passwordHash,
			TimeJoined:   time.Now().UnixMilli(),
		}
		err := st.SignUpUser(ctx, user)
		if err == nil {
			return false, &user, nil
		}
		if errors.Is(err, storage.ErrDuplicateUserID) {
			continue
		}
		if !errors.Is(err, storage.ErrDuplicateEmail) {
			return false, nil, err
		}

		existing, err := st.UserByEmail(ctx, email)
		if errors.Is(err, storage.ErrUserNotFound) {
			// The conflicting user vanished under us; try the insert again.
			continue
		}
		if err != nil {
			return false, nil, err
		}

		err = st.StartTransaction(ctx, func(tx storage.Transaction) error {
			return tx.UpdateUserPassword(ctx, existing.ID, passwordHash)
		})
		if err != nil {
			return false, nil, err
		}
		existing.PasswordHash = passwordHash
		return true, existing, nil
	}
	s.logger.Error("user id generation exhausted retries", slog.String("op", "import_user"))
	return false, nil, errCollisionStreak
}

// # Sign In

/*
SignIn verifies credentials and returns the user.

Description: Every verification failure (unknown email, mismatch, corrupt or
unsupported hash) folds into ErrWrongCredentials. The single exception is a
firebase hash presented without a configured signer key, which propagates as
hashing.ErrSignerKeyMissing.

Parameters:
  - ctx: context.Context
  - scope: registry.ScopeKey
  - email: string
  - password: string (plain text)

Returns:
  - *storage.UserInfo: The authenticated user
  - error: ErrWrongCredentials or hashing.ErrSignerKeyMissing
*/
func (s *Service) SignIn(ctx context.Context, scope registry.ScopeKey, email, password string) (*storage.UserInfo, error) {
	st, err := s.storageFor(scope)
	if err != nil {
		return nil, err
	}

	user, err := st.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrWrongCredentials
		}
		return nil, err
	}

	if err := s.hasher.Verify(password, user.PasswordHash); err != nil {
		if errors.Is(err, hashing.ErrSignerKeyMissing) {
			return nil, err
		}
		return nil, ErrWrongCredentials
	}
	return user, nil
}

// # Password Reset

/*
GeneratePasswordResetToken creates a reset token for the user.

Description: Only the SHA-256 of the token is persisted, with an absolute
expiry of now plus the configured lifetime; the raw token goes back to the
caller and is never stored. A token-hash collision retries with a fresh token.
The insert itself reports an unknown user (the token row references the user
row), so there is no window for the user to vanish between a check and the
write.

Parameters:
  - ctx: context.Context
  - scope: registry.ScopeKey
  - userID: string

Returns:
  - string: The raw token
  - error: ErrUnknownUserID if the user does not exist
*/
func (s *Service) GeneratePasswordResetToken(ctx context.Context, scope registry.ScopeKey, userID string) (string, error) {
	st, err := s.storageFor(scope)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		token, err := hashing.GenerateResetToken()
		if err != nil {
			return "", err
		}

		err = st.AddPasswordResetToken(ctx, storage.PasswordResetTokenInfo{
			UserID:      userID,
			TokenHash:   hashing.HashToken(token),
			TokenExpiry: time.Now().Add(s.resetTokenLifetime).UnixMilli(),
		})
		if err == nil {
			return token, nil
		}
		if errors.Is(err, storage.ErrDuplicateResetToken) {
			continue
		}
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", ErrUnknownUserID
		}
		return "", err
	}
	s.logger.Error("reset token generation exhausted retries", slog.String("op", "generate_password_reset_token"))
	return "", errCollisionStreak
}

/*
ResetPassword consumes a reset token and writes the new password.

Description: Inside one transaction the user's outstanding tokens are
re-fetched (a concurrent consumption may have raced the initial lookup), the
presented token matched against them, and all of them deleted: consuming any
one token invalidates the whole batch. An expired token still has the batch
deletion committed, then fails as ErrInvalidResetToken, indistinguishable from
an unknown token.

Parameters:
  - ctx: context.Context
  - scope: registry.ScopeKey
  - token: string (the raw token)
  - newPassword: string (plain text)

Returns:
  - string: The user id the password was reset for
  - error: ErrInvalidResetToken for unknown, consumed, or expired tokens
*/
func (s *Service) ResetPassword(ctx context.Context, scope registry.ScopeKey, token, newPassword string) (string, error) {
	st, err := s.storageFor(scope)
	if err != nil {
		return "", err
	}

	tokenHash := hashing.HashToken(token)
	info, err := st.PasswordResetTokenByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, storage.ErrResetTokenNotFound) {
			return "", ErrInvalidResetToken
		}
		return "", err
	}

	newHash, err := s.hasher.CreateHash(newPassword)
	if err != nil {
		return "", err
	}

	err = st.StartTransaction(ctx, func(tx storage.Transaction) error {
		tokens, err := tx.AllPasswordResetTokensForUser(ctx, info.UserID)
		if err != nil {
			return err
		}

		var matched *storage.PasswordResetTokenInfo
		for i := range tokens {
			if tokens[i].TokenHash == tokenHash {
				matched = &tokens[i]
				break
			}
		}
		if matched == nil {
			return ErrInvalidResetToken
		}

		if err := tx.DeleteAllPasswordResetTokensForUser(ctx, info.UserID); err != nil {
			return err
		}

		if matched.TokenExpiry < time.Now().UnixMilli() {
			// The batch deletion must stick even though the reset fails.
			if err := tx.Commit(ctx); err != nil {
				return err
			}
			return ErrInvalidResetToken
		}

		return tx.UpdateUserPassword(ctx, info.UserID, newHash)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			return "", ErrInvalidResetToken
		}
		return "", err
	}
	return info.UserID, nil
}

// # Credential Updates

/*
UpdateUsersEmailOrPassword updates the user's email, password, or both, as one
atomic unit.

Description: A duplicate email aborts the whole transaction; the password half
never applies on its own. Nil fields are left untouched.

Parameters:
  - ctx: context.Context
  - scope: registry.ScopeKey
  - userID: string
  - email: *string (nil to keep)
  - password: *string (nil to keep; plain text otherwise)

Returns:
  - error: ErrUnknownUserID or storage.ErrDuplicateEmail
*/
func (s *Service) UpdateUsersEmailOrPassword(ctx context.Context, scope registry.ScopeKey, userID string, email, password *string) error {
	st, err := s.storageFor(scope)
	if err != nil {
		return err
	}

	// The slow hash happens outside the transaction.
	var newHash string
	if password != nil {
		if newHash, err = s.hasher.CreateHash(*password); err != nil {
			return err
		}
	}

	err = st.StartTransaction(ctx, func(tx storage.Transaction) error {
		if _, err := tx.UserByID(ctx, userID); err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				return ErrUnknownUserID
			}
			return err
		}
		if email != nil {
			if err := tx.UpdateUserEmail(ctx, userID, *email); err != nil {
				return err
			}
		}
		if password != nil {
			if err := tx.UpdateUserPassword(ctx, userID, newHash); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownUserID):
		return ErrUnknownUserID
	case errors.Is(err, storage.ErrDuplicateEmail):
		return storage.ErrDuplicateEmail
	}
	return err
}

// # Lookup / Listing

// UserByID returns the user with the given id, or storage.ErrUserNotFound.
func (s *Service) UserByID(ctx context.Context, scope registry.ScopeKey, userID string) (*storage.UserInfo, error) {
	st, err := s.storageFor(scope)
	if err != nil {
		return nil, err
	}
	return st.UserByID(ctx, userID)
}

// UserByEmail returns the user with the given email, or storage.ErrUserNotFound.
func (s *Service) UserByEmail(ctx context.Context, scope registry.ScopeKey, email string) (*storage.UserInfo, error) {
	st, err := s.storageFor(scope)
	if err != nil {
		return nil, err
	}
	return st.UserByEmail(ctx, email)
}

/*
ListUsers returns one page of users with an opaque continuation token.

Description: Ordering is (timeJoined, userId) in the requested direction. One
more row than limit is fetched; its presence means another page exists, and
that extra row's position becomes the continuation token.

Parameters:
  - ctx: context.Context
  - scope: registry.ScopeKey
  - paginationToken: string ("" for the first page)
  - limit: int
  - order: storage.SortOrder

Returns:
  - []storage.UserInfo: At most limit users
  - string: The continuation token, "" when no more pages exist
  - error: pagination.ErrInvalidToken on a malformed token
*/
func (s *Service) ListUsers(ctx context.Context, scope registry.ScopeKey, paginationToken string, limit int, order storage.SortOrder) ([]storage.UserInfo, string, error) {
	st, err := s.storageFor(scope)
	if err != nil {
		return nil, "", err
	}

	var cursor *storage.UserCursor
	if paginationToken != "" {
		token, err := pagination.Extract(paginationToken)
		if err != nil {
			return nil, "", err
		}
		cursor = &storage.UserCursor{UserID: token.UserID, TimeJoined: token.TimeJoined}
	}

	users, err := st.Users(ctx, cursor, limit+1, order)
	if err != nil {
		return nil, "", err
	}

	var nextToken string
	if len(users) == limit+1 {
		next := users[limit]
		nextToken = pagination.Token{UserID: next.ID, TimeJoined: next.TimeJoined}.Generate()
		users = users[:limit]
	}
	return users, nextToken, nil
}

// UsersCount returns the total number of users in the scope's user pool.
func (s *Service) UsersCount(ctx context.Context, scope registry.ScopeKey) (int64, error) {
	st, err := s.storageFor(scope)
	if err != nil {
		return 0, err
	}
	return st.UsersCount(ctx)
}
