// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// # Reset Tokens

// Reset-token generation parameters. The pbkdf2 stretch is deliberately slow;
// callers must not invoke token generation while holding any registry lock.
const (
	tokenRandomBytes      = 64
	tokenSaltBytes        = 64
	tokenStretchIters     = 1000
	tokenStretchKeyLength = 48
)

/*
GenerateResetToken produces one high-entropy, URL-safe password-reset token.

Description: 64 cryptographically random bytes are stretched through a pbkdf2
pass with a fresh 64-byte salt, hex-encoded, base64-encoded, and stripped of
the URL-hostile characters (=, /, +). The raw token is returned to the caller
and never persisted; storage only ever sees its SHA-256 hash.

Returns:
  - string: The raw token
  - error: Randomness source failures
*/
func GenerateResetToken() (string, error) {
	random := make([]byte, tokenRandomBytes)
	salt := make([]byte, tokenSaltBytes)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("hashing: failed to read token randomness: %w", err)
	}
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("hashing: failed to read token salt: %w", err)
	}

	stretched := pbkdf2.Key(random, salt, tokenStretchIters, tokenStretchKeyLength, sha256.New)

	token := base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(stretched)))
	token = strings.ReplaceAll(token, "=", "")
	token = strings.ReplaceAll(token, "/", "")
	token = strings.ReplaceAll(token, "+", "")
	return token, nil
}

// HashToken returns the hex-encoded SHA-256 of a raw token. This is the only
// form of a token that is ever persisted or looked up.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
