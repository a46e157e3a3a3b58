// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// FirebaseAudience is the audience Firebase Authentication requires of
	// custom tokens.
	FirebaseAudience = "https://identitytoolkit.googleapis.com/google.identity.identitytoolkit.v1.IdentityToolkit"

	// MaxTTL is the longest lifetime of a minted credential.
	MaxTTL = time.Hour

	maxSubjectIDLength = 128
)

// reservedClaims may not be set through the additional claims of a minted
// credential.
var reservedClaims = map[string]bool{
	"acr": true, "amr": true, "at_hash": true, "aud": true, "auth_time": true,
	"azp": true, "cnf": true, "c_hash": true, "exp": true, "firebase": true,
	"iat": true, "iss": true, "jti": true, "nbf": true, "nonce": true,
	"sub": true,
}

// Minter mints a session credential for a verified subject.  Implementations
// must be safe for concurrent use.
type Minter interface {
	Mint(ctx context.Context, subjectID string, claims map[string]interface{}) (string, error)
}

// JWTMinter mints RS256 signed custom tokens.
type JWTMinter struct {
	serviceAccount string
	key            *rsa.PrivateKey
	keyID          string
	audience       string
	ttl            time.Duration
	nowFunc        func() time.Time
}

var _ Minter = (*JWTMinter)(nil)

// NewJWTMinter creates a JWTMinter which signs as serviceAccount with key.
//
// Supported options: WithKeyID, WithAudience, WithTTL, WithNow
func NewJWTMinter(serviceAccount string, key *rsa.PrivateKey, opt ...Option) (*JWTMinter, error) {
	const op = "session.NewJWTMinter"
	opts := getMinterOpts(opt...)
	switch {
	case serviceAccount == "":
		return nil, fmt.Errorf("%s: service account is empty: %w", op, ErrInvalidParameter)
	case key == nil:
		return nil, fmt.Errorf("%s: signing key is nil: %w", op, ErrInvalidKey)
	case opts.withAudience == "":
		return nil, fmt.Errorf("%s: audience is empty: %w", op, ErrInvalidParameter)
	case opts.withTTL <= 0 || opts.withTTL > MaxTTL:
		return nil, fmt.Errorf("%s: ttl must be positive and at most %s: %w", op, MaxTTL, ErrInvalidParameter)
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidKey, err)
	}
	return &JWTMinter{
		serviceAccount: serviceAccount,
		key:            key,
		keyID:          opts.withKeyID,
		audience:       opts.withAudience,
		ttl:            opts.withTTL,
		nowFunc:        opts.withNowFunc,
	}, nil
}

// NewJWTMinterFromPEM creates a JWTMinter from a PEM encoded RSA private key.
func NewJWTMinterFromPEM(serviceAccount string, keyPEM []byte, opt ...Option) (*JWTMinter, error) {
	const op = "session.NewJWTMinterFromPEM"
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidKey, err)
	}
	return NewJWTMinter(serviceAccount, key, opt...)
}

// ServiceAccount is the subset of a Google service account key file used to
// mint credentials.
type ServiceAccount struct {
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
}

// NewJWTMinterFromServiceAccount creates a JWTMinter from the JSON of a
// service account key file.  The key file's private_key_id becomes the "kid"
// header unless WithKeyID is given.
func NewJWTMinterFromServiceAccount(keyFile []byte, opt ...Option) (*JWTMinter, error) {
	const op = "session.NewJWTMinterFromServiceAccount"
	var sa ServiceAccount
	if err := json.Unmarshal(keyFile, &sa); err != nil {
		return nil, fmt.Errorf("%s: unable to parse service account: %w: %s", op, ErrInvalidParameter, err)
	}
	opts := append([]Option{WithKeyID(sa.PrivateKeyID)}, opt...)
	return NewJWTMinterFromPEM(sa.ClientEmail, []byte(sa.PrivateKey), opts...)
}

// Mint returns a signed credential for subjectID carrying claims.  Claim
// names reserved by the token format are rejected.
func (m *JWTMinter) Mint(_ context.Context, subjectID string, claims map[string]interface{}) (string, error) {
	const op = "JWTMinter.Mint"
	switch {
	case subjectID == "":
		return "", fmt.Errorf("%s: subject id is empty: %w", op, ErrInvalidParameter)
	case utf8.RuneCountInString(subjectID) > maxSubjectIDLength:
		return "", fmt.Errorf("%s: subject id is longer than %d characters: %w", op, maxSubjectIDLength, ErrInvalidParameter)
	}
	for name := range claims {
		if reservedClaims[name] {
			return "", fmt.Errorf("%s: %q: %w", op, name, ErrReservedClaim)
		}
	}

	now := m.now()
	mc := jwt.MapClaims{
		"iss": m.serviceAccount,
		"sub": m.serviceAccount,
		"aud": m.audience,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
		"uid": subjectID,
	}
	if len(claims) > 0 {
		mc["claims"] = claims
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	if m.keyID != "" {
		token.Header["kid"] = m.keyID
	}
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", op, ErrMintFailed, err)
	}
	return signed, nil
}

// PublicKey returns the key that verifies minted credentials.
func (m *JWTMinter) PublicKey() *rsa.PublicKey {
	return &m.key.PublicKey
}

func (m *JWTMinter) now() time.Time {
	if m.nowFunc != nil {
		return m.nowFunc()
	}
	return time.Now()
}
