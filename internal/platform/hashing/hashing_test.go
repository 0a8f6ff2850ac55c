// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package hashing_test

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"

	"github.com/declanvu/tenauth/internal/platform/hashing"
)

/*
TestHasher_BcryptRoundTrip verifies create-then-verify and the mismatch error.
*/
func TestHasher_BcryptRoundTrip(t *testing.T) {
	h := hashing.NewHasher("")

	hash, err := h.CreateHash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))

	assert.NoError(t, h.Verify("correct horse battery staple", hash))
	assert.ErrorIs(t, h.Verify("wrong password", hash), hashing.ErrHashMismatch)
}

/*
TestHasher_BcryptLegacyPrefix verifies $2y$ hashes verify through the $2a$
normalization.
*/
func TestHasher_BcryptLegacyPrefix(t *testing.T) {
	h := hashing.NewHasher("")

	hash, err := h.CreateHash("legacy-pass")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$2a$"))

	legacy := "$2y$" + hash[len("$2a$"):]
	assert.NoError(t, h.Verify("legacy-pass", legacy))
	assert.ErrorIs(t, h.Verify("wrong", legacy), hashing.ErrHashMismatch)
}

/*
TestHasher_Argon2id verifies the encoded-argon2id parse-and-recompute path.
*/
func TestHasher_Argon2id(t *testing.T) {
	h := hashing.NewHasher("")

	salt := []byte("sixteen-b-salt!!")
	var memory, iterations uint32 = 65536, 2
	var parallelism uint8 = 1
	digest := argon2.IDKey([]byte("argon-pass"), salt, iterations, memory, parallelism, 32)

	hash := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		memory, iterations, parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	)

	assert.NoError(t, h.Verify("argon-pass", hash))
	assert.ErrorIs(t, h.Verify("wrong", hash), hashing.ErrHashMismatch)

	// Malformed parameter blocks are unsupported, not mismatched.
	assert.ErrorIs(t, h.Verify("argon-pass", "$argon2id$v=19$garbage$AAAA$BBBB"),
		hashing.ErrUnsupportedHashFormat)
}

/*
TestHasher_FirebaseScrypt_SignerKey verifies the signer-key requirement and
that an unknown tag is unsupported.
*/
func TestHasher_FirebaseScrypt_SignerKey(t *testing.T) {
	firebaseHash := "$f_scrypt$YWJjZGVmZ2g=$c2FsdHNhbHQ=$m=14$r=8$s=Bw=="

	// 1. No signer key configured: fatal configuration error.
	err := hashing.NewHasher("").Verify("pass", firebaseHash)
	assert.ErrorIs(t, err, hashing.ErrSignerKeyMissing)

	// 2. With a key, a wrong password is a plain mismatch.
	key := base64.StdEncoding.EncodeToString([]byte("some-project-signer-key-bytes"))
	err = hashing.NewHasher(key).Verify("pass", firebaseHash)
	assert.ErrorIs(t, err, hashing.ErrHashMismatch)

	// 3. Unknown tags are unsupported.
	err = hashing.NewHasher(key).Verify("pass", "$md5$whatever")
	assert.ErrorIs(t, err, hashing.ErrUnsupportedHashFormat)
}

/*
TestHasher_ValidateHashFormat verifies import validation per algorithm.
*/
func TestHasher_ValidateHashFormat(t *testing.T) {
	h := hashing.NewHasher("")
	bcryptHash, err := h.CreateHash("pass")
	require.NoError(t, err)
	argonHash := "$argon2id$v=19$m=65536,t=2,p=1$c2FsdA$ZGlnZXN0"
	firebaseHash := "$f_scrypt$YWJjZGVmZ2g=$c2FsdHNhbHQ=$m=14$r=8$s=Bw=="

	// 1. Any accepts the natively verifiable formats only.
	assert.NoError(t, h.ValidateHashFormat(bcryptHash, hashing.AlgorithmAny))
	assert.NoError(t, h.ValidateHashFormat(argonHash, hashing.AlgorithmAny))
	assert.ErrorIs(t, h.ValidateHashFormat(firebaseHash, hashing.AlgorithmAny), hashing.ErrUnsupportedHashFormat)
	assert.ErrorIs(t, h.ValidateHashFormat("plaintext", hashing.AlgorithmAny), hashing.ErrUnsupportedHashFormat)

	// 2. Explicit algorithms only accept their own format.
	assert.NoError(t, h.ValidateHashFormat(bcryptHash, hashing.AlgorithmBcrypt))
	assert.ErrorIs(t, h.ValidateHashFormat(argonHash, hashing.AlgorithmBcrypt), hashing.ErrUnsupportedHashFormat)
	assert.NoError(t, h.ValidateHashFormat(argonHash, hashing.AlgorithmArgon2))

	// 3. Firebase must be explicit and well-formed.
	assert.NoError(t, h.ValidateHashFormat(firebaseHash, hashing.AlgorithmFirebaseScrypt))
	assert.ErrorIs(t, h.ValidateHashFormat("$f_scrypt$broken", hashing.AlgorithmFirebaseScrypt), hashing.ErrUnsupportedHashFormat)
}

/*
TestGenerateResetToken verifies the tokens are URL-safe, unique, and hash to
a stable hex digest.
*/
func TestGenerateResetToken(t *testing.T) {
	token1, err := hashing.GenerateResetToken()
	require.NoError(t, err)
	token2, err := hashing.GenerateResetToken()
	require.NoError(t, err)

	// 1. Distinct per call.
	assert.NotEqual(t, token1, token2)
	assert.NotEmpty(t, token1)

	// 2. URL-hostile characters are stripped.
	for _, c := range []string{"=", "/", "+"} {
		assert.NotContains(t, token1, c)
	}

	// 3. The persisted form is the hex SHA-256, stable per token.
	assert.Equal(t, hashing.HashToken(token1), hashing.HashToken(token1))
	assert.NotEqual(t, hashing.HashToken(token1), hashing.HashToken(token2))
	assert.Len(t, hashing.HashToken(token1), 64)
}
