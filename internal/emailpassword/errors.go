// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package emailpassword

import "errors"

// # Error Taxonomy
//
// Storage-level collisions and not-founds surface through the service as
// their storage sentinels (storage.ErrDuplicateEmail, storage.ErrUserNotFound)
// so callers match one error regardless of which layer raised it. The
// sentinels below are the conditions only the service can decide.

var (
	// ErrWrongCredentials reports a failed sign-in. Every verification
	// failure folds into it except a missing signer key, which propagates as
	// hashing.ErrSignerKeyMissing so callers can tell "bad password" from
	// "server misconfigured".
	ErrWrongCredentials = errors.New("emailpassword: wrong credentials")

	// ErrUnknownUserID reports an operation against a user id that does not
	// exist.
	ErrUnknownUserID = errors.New("emailpassword: unknown user id")

	// ErrInvalidResetToken reports a password-reset token that is unknown,
	// already consumed, or expired. Expiry is deliberately indistinguishable
	// from not-found.
	ErrInvalidResetToken = errors.New("emailpassword: invalid password reset token")

	// errCollisionStreak converts an impossible run of generated-value
	// collisions into a loud invariant failure instead of an unbounded loop.
	errCollisionStreak = errors.New("emailpassword: generated value collision streak exceeds sanity threshold")
)
