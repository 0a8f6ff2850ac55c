// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package storage

import "errors"

// # Error Taxonomy
//
// Collisions are typed so that retry-vs-propagate is visible at the call
// site: the credential service retries ErrDuplicateUserID and
// ErrDuplicateResetToken with freshly generated values, while
// ErrDuplicateEmail always propagates as a domain conflict.

var (
	// ErrDuplicateUserID reports a primary-key collision on a generated user
	// id. Retryable with a fresh id.
	ErrDuplicateUserID = errors.New("storage: duplicate user id")

	// ErrDuplicateEmail reports that the email is already taken within the
	// user pool. Never retried.
	ErrDuplicateEmail = errors.New("storage: duplicate email")

	// ErrDuplicateResetToken reports a collision on a generated reset-token
	// hash. Retryable with a fresh token.
	ErrDuplicateResetToken = errors.New("storage: duplicate password reset token")

	// ErrUserNotFound reports that no user row matches the lookup.
	ErrUserNotFound = errors.New("storage: user not found")

	// ErrResetTokenNotFound reports that no reset-token record matches the
	// presented hash.
	ErrResetTokenNotFound = errors.New("storage: password reset token not found")

	// ErrUserIDMappingNotFound reports that no user-id mapping row matches.
	ErrUserIDMappingNotFound = errors.New("storage: user id mapping not found")
)

// TransactionLogicError wraps a domain error raised inside a StartTransaction
// body. The transaction has been rolled back (unless the body committed
// explicitly); the original error is preserved for errors.Is/As so callers
// re-surface it typed by kind.
type TransactionLogicError struct {
	Actual error
}

// Error implements the error interface.
func (e *TransactionLogicError) Error() string {
	return "storage: transaction logic error: " + e.Actual.Error()
}

// Unwrap exposes the wrapped domain error to errors.Is and errors.As.
func (e *TransactionLogicError) Unwrap() error { return e.Actual }

// InitError marks a storage-initialization failure (connect, schema create,
// migrate). The resolver isolates it per tenant: other tenants' reconciliation
// is unaffected.
type InitError struct {
	Cause error
}

// Error implements the error interface.
func (e *InitError) Error() string {
	return "storage: init failed: " + e.Cause.Error()
}

// Unwrap exposes the underlying cause.
func (e *InitError) Unwrap() error { return e.Cause }
