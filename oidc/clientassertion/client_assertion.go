// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-uuid"
)

const (
	// JWTTypeParam is the value of client_assertion_type.
	// https://www.rfc-editor.org/rfc/rfc7523.html#section-2.2
	JWTTypeParam = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// DefaultLifetime is how long a serialized assertion is valid.
	DefaultLifetime = 5 * time.Minute
)

// JWT creates client assertions: short lived JWTs issued by, and about, the
// client, and addressed to the provider.  A JWT is safe for concurrent use.
type JWT struct {
	clientID string
	audience []string
	headers  map[string]string

	method jwt.SigningMethod
	// key is an *rsa.PrivateKey or the []byte of an HMAC secret
	key any

	genID func() (string, error)
	now   func() time.Time
}

// NewJWTWithRSAKey creates a JWT signed with an RSA private key
// (private_key_jwt).
//
// Supported options: WithKeyID, WithHeaders, WithNow
func NewJWTWithRSAKey(clientID string, audience []string, alg RSAlgorithm, key *rsa.PrivateKey, opt ...Option) (*JWT, error) {
	const op = "NewJWTWithRSAKey"
	j, err := newJWT(clientID, audience, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := alg.Validate(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	j.method, j.key = signingMethod(string(alg)), key
	return j.verified(op)
}

// NewJWTWithHMAC creates a JWT signed with the client secret
// (client_secret_jwt).
//
// Supported options: WithKeyID, WithHeaders, WithNow
func NewJWTWithHMAC(clientID string, audience []string, alg HSAlgorithm, secret string, opt ...Option) (*JWT, error) {
	const op = "NewJWTWithHMAC"
	j, err := newJWT(clientID, audience, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := alg.Validate(secret); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	j.method, j.key = signingMethod(string(alg)), []byte(secret)
	return j.verified(op)
}

func newJWT(clientID string, audience []string, opt ...Option) (*JWT, error) {
	var errs []error
	if clientID == "" {
		errs = append(errs, ErrMissingClientID)
	}
	if len(audience) == 0 {
		errs = append(errs, ErrMissingAudience)
	}
	j := &JWT{
		clientID: clientID,
		audience: audience,
		headers:  map[string]string{},
		genID:    uuid.GenerateUUID,
		now:      time.Now,
	}
	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(j); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return j, nil
}

// verified makes sure Serialize works before the JWT is handed out.
func (j *JWT) verified(op string) (*JWT, error) {
	if _, err := j.Serialize(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// Serialize returns a newly signed assertion with a unique "jti".
func (j *JWT) Serialize() (string, error) {
	const op = "JWT.Serialize"
	id, err := j.genID()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIdGeneratorFailed, err)
	}
	token := jwt.NewWithClaims(j.method, j.claims(id))
	for k, v := range j.headers {
		token.Header[k] = v
	}
	signed, err := token.SignedString(j.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrSigningFailed, err)
	}
	return signed, nil
}

func (j *JWT) claims(id string) jwt.RegisteredClaims {
	now := j.now().UTC()
	return jwt.RegisteredClaims{
		Issuer:    j.clientID,
		Subject:   j.clientID,
		Audience:  j.audience,
		ExpiresAt: jwt.NewNumericDate(now.Add(DefaultLifetime)),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Second)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        id,
	}
}
