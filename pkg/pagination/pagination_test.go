// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package pagination_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/declanvu/tenauth/pkg/pagination"
)

/*
TestToken_RoundTrip verifies Generate/Extract preserve the position exactly.
*/
func TestToken_RoundTrip(t *testing.T) {
	token := pagination.Token{UserID: "d7f9a111-4c7b-4bd2-a6ee-0a3f6a1b2c3d", TimeJoined: 1755432100123}

	encoded := token.Generate()
	assert.NotEmpty(t, encoded)

	decoded, err := pagination.Extract(encoded)
	require.NoError(t, err)
	assert.Equal(t, token, decoded)
}

/*
TestExtract_Invalid verifies every malformed input fails with ErrInvalidToken.
*/
func TestExtract_Invalid(t *testing.T) {
	cases := map[string]string{
		"not base64":       "!!!definitely-not-base64!!!",
		"missing parts":    base64.StdEncoding.EncodeToString([]byte("just-a-user-id")),
		"too many parts":   base64.StdEncoding.EncodeToString([]byte("a;b;c")),
		"empty user id":    base64.StdEncoding.EncodeToString([]byte(";12345")),
		"non-integer time": base64.StdEncoding.EncodeToString([]byte("user;yesterday")),
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := pagination.Extract(input)
			assert.ErrorIs(t, err, pagination.ErrInvalidToken)
		})
	}
}
