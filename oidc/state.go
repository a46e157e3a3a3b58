// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const stateEntropy = 32

// NewState creates a fresh correlation token ("state") for one login attempt.
// The token is opaque and unguessable; it is sent in the authorization
// request and must come back unchanged in the authorization response.
func NewState() (string, error) {
	const op = "oidc.NewState"
	b, err := randomBytes(stateEntropy)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StateMatches reports whether the state received in an authorization
// response is exactly the stored state.  An empty value on either side never
// matches, and there is no normalization of any kind.
func StateMatches(stored, received string) bool {
	if stored == "" || received == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(received)) == 1
}
