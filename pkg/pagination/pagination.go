// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

// Package pagination provides the opaque continuation token used by user
// listings.
//
// # Overview
//
// A token encodes the (userId, timeJoined) pair of the first row of the next
// page. It round-trips through Generate/Extract; any tampered or malformed
// input fails with [ErrInvalidToken]. Callers treat the encoded form as opaque.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidToken reports a continuation token that does not decode to a
// well-formed (userId, timeJoined) pair.
var ErrInvalidToken = errors.New("pagination: invalid pagination token")

// Token marks the position a user listing resumes from: the first row of the
// page it continues onto.
type Token struct {
	UserID string
	// TimeJoined is that row's join timestamp in unix milliseconds.
	TimeJoined int64
}

// Generate encodes the token into its opaque external form.
func (t Token) Generate() string {
	raw := t.UserID + ";" + strconv.FormatInt(t.TimeJoined, 10)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

/*
Extract decodes an opaque continuation token.

Parameters:
  - encoded: string (the external form produced by Generate)

Returns:
  - Token: The decoded position
  - error: ErrInvalidToken on any malformed or tampered input
*/
func Extract(encoded string) (Token, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	parts := strings.Split(string(raw), ";")
	if len(parts) != 2 || parts[0] == "" {
		return Token{}, ErrInvalidToken
	}

	timeJoined, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, ErrInvalidToken
	}

	return Token{UserID: parts[0], TimeJoined: timeJoined}, nil
}
