// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the only supported challenge method.  The plain method is never
	// used since it offers no protection if the authorization request leaks.
	S256 ChallengeMethod = "S256"
)

const (
	// verifierLen is the length of a generated verifier: 32 random bytes
	// encoded as unpadded base64url.
	verifierLen = 43

	verifierMinLen = 43
	verifierMaxLen = 128

	verifierEntropy = 32
)

// CodeVerifier holds the proof material for one login attempt: the secret
// verifier and its derived challenge.  The verifier stays with the party that
// started the attempt until the code exchange.
type CodeVerifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// NewCodeVerifier creates fresh proof material using the platform's secure
// random source.  A failure of that source is fatal for the caller.
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "oidc.NewCodeVerifier"
	data, err := randomBytes(verifierEntropy)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate verifier: %w", op, err)
	}
	v := &CodeVerifier{
		verifier: base64.RawURLEncoding.EncodeToString(data),
		method:   S256,
	}
	if v.challenge, err = CreateCodeChallenge(v.method, v); err != nil {
		return nil, fmt.Errorf("%s: unable to create challenge: %w", op, err)
	}
	return v, nil
}

// Verifier returns the code verifier.
func (v *CodeVerifier) Verifier() string { return v.verifier }

// Challenge returns the code challenge derived from the verifier.
func (v *CodeVerifier) Challenge() string { return v.challenge }

// Method returns the challenge method.
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// CreateCodeChallenge derives the challenge for v using method.  Only S256 is
// supported: base64url(SHA-256(verifier)) without padding.
func CreateCodeChallenge(method ChallengeMethod, v *CodeVerifier) (string, error) {
	const op = "oidc.CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	if method != S256 {
		return "", fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedChallengeMethod)
	}
	return S256Challenge(v.verifier), nil
}

// S256Challenge computes the S256 challenge for a raw verifier string.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidVerifier reports whether s satisfies RFC 7636 section 4.1: 43 to 128
// characters from the unreserved set [A-Za-z0-9-._~].
func ValidVerifier(s string) bool {
	if len(s) < verifierMinLen || len(s) > verifierMaxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}
