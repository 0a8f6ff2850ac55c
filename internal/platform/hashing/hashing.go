// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

/*
Package hashing implements the password-hash collaborator of the credential
core.

It creates and verifies password hashes, validates imported hash formats, and
generates the high-entropy password-reset tokens.

Architecture:

  - Hasher: Stateless verifier/creator dispatching on the hash's algorithm tag.
  - Algorithms: bcrypt (native), argon2id (native verify), firebase scrypt
    (verify-only, for hashes imported from Firebase Auth).

Verifying a firebase scrypt hash requires the deployment's signer key. A
missing key is a fatal configuration error, deliberately distinct from a
credential mismatch: callers must be able to tell "bad password" from "server
misconfigured".
*/
package hashing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

// # Algorithms

// Algorithm identifies a supported password-hashing algorithm for import
// validation. The empty value accepts any natively supported format.
type Algorithm string

const (
	AlgorithmAny            Algorithm = ""
	AlgorithmBcrypt         Algorithm = "bcrypt"
	AlgorithmArgon2         Algorithm = "argon2"
	AlgorithmFirebaseScrypt Algorithm = "firebase_scrypt"
)

// # Errors

var (
	// ErrHashMismatch reports that the password does not match the hash.
	ErrHashMismatch = errors.New("hashing: password does not match hash")

	// ErrUnsupportedHashFormat reports a hash whose format or algorithm tag
	// is not supported for this deployment.
	ErrUnsupportedHashFormat = errors.New("hashing: unsupported password hash format")

	// ErrSignerKeyMissing reports that a firebase scrypt hash was presented
	// but no signer key is configured. Fatal configuration error; never to be
	// folded into a credential failure.
	ErrSignerKeyMissing = errors.New("hashing: firebase scrypt signer key is not configured")
)

// Hash format tags.
const (
	bcryptPrefix         = "$2"
	argon2idPrefix       = "$argon2id$"
	firebaseScryptPrefix = "$f_scrypt$"
)

// # Hasher

// Hasher creates and verifies password hashes. The zero value verifies every
// native format; a firebase signer key enables imported firebase hashes.
type Hasher struct {
	firebaseSignerKey string
}

// NewHasher constructs a [Hasher]. firebaseSignerKey may be empty when the
// deployment has no Firebase-imported users.
func NewHasher(firebaseSignerKey string) *Hasher {
	return &Hasher{firebaseSignerKey: firebaseSignerKey}
}

// CreateHash hashes a plain-text password with bcrypt at the default cost.
func (h *Hasher) CreateHash(plainTextPassword string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(plainTextPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing: failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

/*
Verify checks a plain-text password against a stored hash, dispatching on the
hash's algorithm tag.

Parameters:
  - plainTextPassword: string
  - existingHash: string (algorithm-tagged stored hash)

Returns:
  - error: nil on match; ErrHashMismatch on mismatch; ErrSignerKeyMissing when
    a firebase hash is presented without a configured signer key;
    ErrUnsupportedHashFormat for unknown tags
*/
func (h *Hasher) Verify(plainTextPassword, existingHash string) error {
	switch {
	case strings.HasPrefix(existingHash, argon2idPrefix):
		return verifyArgon2id(plainTextPassword, existingHash)
	case strings.HasPrefix(existingHash, firebaseScryptPrefix):
		return h.verifyFirebaseScrypt(plainTextPassword, existingHash)
	case strings.HasPrefix(existingHash, bcryptPrefix):
		return verifyBcrypt(plainTextPassword, existingHash)
	}
	return ErrUnsupportedHashFormat
}

/*
ValidateHashFormat checks that an imported hash is in a supported format for
the requested algorithm.

Description: With AlgorithmAny, only the natively verifiable formats (bcrypt,
argon2id) are accepted; firebase scrypt hashes must be imported with the
algorithm named explicitly.

Parameters:
  - hash: string
  - algorithm: Algorithm

Returns:
  - error: ErrUnsupportedHashFormat when the hash does not match
*/
func (h *Hasher) ValidateHashFormat(hash string, algorithm Algorithm) error {
	switch algorithm {
	case AlgorithmAny:
		if strings.HasPrefix(hash, bcryptPrefix) || strings.HasPrefix(hash, argon2idPrefix) {
			return nil
		}
	case AlgorithmBcrypt:
		if strings.HasPrefix(hash, bcryptPrefix) {
			return nil
		}
	case AlgorithmArgon2:
		if strings.HasPrefix(hash, argon2idPrefix) {
			return nil
		}
	case AlgorithmFirebaseScrypt:
		if _, err := parseFirebaseScryptHash(hash); err == nil {
			return nil
		}
	}
	return ErrUnsupportedHashFormat
}

// # bcrypt

func verifyBcrypt(plainTextPassword, existingHash string) error {
	// Hashes produced by PHP-era bcrypt carry the $2y$ tag; they are
	// compatible with $2a$ verification.
	if strings.HasPrefix(existingHash, "$2y$") {
		existingHash = "$2a$" + existingHash[len("$2y$"):]
	}
	if err := bcrypt.CompareHashAndPassword([]byte(existingHash), []byte(plainTextPassword)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrHashMismatch
		}
		return fmt.Errorf("hashing: bcrypt verify failed: %w", err)
	}
	return nil
}

// # argon2id

// verifyArgon2id parses a standard encoded argon2id hash
// ($argon2id$v=19$m=...,t=...,p=...$<salt>$<digest>) and recomputes it.
func verifyArgon2id(plainTextPassword, existingHash string) error {
	parts := strings.Split(existingHash, "$")
	// ["", "argon2id", "v=19", "m=..,t=..,p=..", salt, digest]
	if len(parts) != 6 {
		return ErrUnsupportedHashFormat
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return ErrUnsupportedHashFormat
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrUnsupportedHashFormat
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrUnsupportedHashFormat
	}

	computed := argon2.IDKey([]byte(plainTextPassword), salt, iterations, memory, parallelism, uint32(len(digest)))
	if subtle.ConstantTimeCompare(computed, digest) != 1 {
		return ErrHashMismatch
	}
	return nil
}

// # firebase scrypt

// firebaseScryptHash is the parsed form of an imported Firebase Auth hash:
// $f_scrypt$<digest>$<salt>$m=<mem_cost>$r=<rounds>$s=<salt_separator>.
type firebaseScryptHash struct {
	digest        []byte
	salt          []byte
	saltSeparator []byte
	memCost       int
	rounds        int
}

func parseFirebaseScryptHash(hash string) (*firebaseScryptHash, error) {
	if !strings.HasPrefix(hash, firebaseScryptPrefix) {
		return nil, ErrUnsupportedHashFormat
	}
	parts := strings.Split(hash[len(firebaseScryptPrefix):], "$")
	if len(parts) != 5 {
		return nil, ErrUnsupportedHashFormat
	}

	digest, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrUnsupportedHashFormat
	}
	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrUnsupportedHashFormat
	}
	memCost, err := parsePrefixedInt(parts[2], "m=")
	if err != nil {
		return nil, ErrUnsupportedHashFormat
	}
	rounds, err := parsePrefixedInt(parts[3], "r=")
	if err != nil {
		return nil, ErrUnsupportedHashFormat
	}
	if !strings.HasPrefix(parts[4], "s=") {
		return nil, ErrUnsupportedHashFormat
	}
	saltSeparator, err := base64.StdEncoding.DecodeString(parts[4][len("s="):])
	if err != nil {
		return nil, ErrUnsupportedHashFormat
	}

	return &firebaseScryptHash{
		digest:        digest,
		salt:          salt,
		saltSeparator: saltSeparator,
		memCost:       memCost,
		rounds:        rounds,
	}, nil
}

// verifyFirebaseScrypt implements Firebase Auth's modified scrypt: the scrypt
// derivation keys an AES-CTR encryption of the project signer key, and the
// ciphertext is the stored digest.
func (h *Hasher) verifyFirebaseScrypt(plainTextPassword, existingHash string) error {
	parsed, err := parseFirebaseScryptHash(existingHash)
	if err != nil {
		return err
	}
	if h.firebaseSignerKey == "" {
		return ErrSignerKeyMissing
	}

	signerKey, err := base64.StdEncoding.DecodeString(h.firebaseSignerKey)
	if err != nil {
		return fmt.Errorf("hashing: malformed firebase signer key: %w", err)
	}

	derived, err := scrypt.Key(
		[]byte(plainTextPassword),
		append(append([]byte{}, parsed.salt...), parsed.saltSeparator...),
		1<<parsed.memCost, parsed.rounds, 1, 32,
	)
	if err != nil {
		return fmt.Errorf("hashing: scrypt derivation failed: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return fmt.Errorf("hashing: scrypt cipher setup failed: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	computed := make([]byte, len(signerKey))
	cipher.NewCTR(block, iv).XORKeyStream(computed, signerKey)

	if len(computed) < len(parsed.digest) || subtle.ConstantTimeCompare(computed[:len(parsed.digest)], parsed.digest) != 1 {
		return ErrHashMismatch
	}
	return nil
}

func parsePrefixedInt(s, prefix string) (int, error) {
	if !strings.HasPrefix(s, prefix) {
		return 0, ErrUnsupportedHashFormat
	}
	return strconv.Atoi(s[len(prefix):])
}
