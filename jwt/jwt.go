// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	josejwt "gopkg.in/square/go-jose.v2/jwt"
)

// DefaultLeeway is the tolerance applied to the exp and nbf claims when
// Expected.ClockSkewLeeway is zero.
const DefaultLeeway = 30 * time.Second

// Validator validates JSON Web Tokens (JWT) by providing signature
// verification and claim set validation.
type Validator struct {
	keySet KeySet
}

// NewValidator returns a Validator that uses the given KeySet to verify JWT signatures.
func NewValidator(keySet KeySet) (*Validator, error) {
	const op = "jwt.NewValidator"
	if keySet == nil {
		return nil, fmt.Errorf("%s: keySet must not be nil: %w", op, ErrInvalidParameter)
	}
	return &Validator{keySet: keySet}, nil
}

// Expected defines the expected claims values to assert when validating a JWT.
// Issuer, Audiences and SigningAlgorithms are required.
type Expected struct {
	// Issuer must equal the "iss" claim.
	Issuer string

	// Audiences must contain at least one value of the "aud" claim.
	Audiences []string

	// SigningAlgorithms lists the only algorithms accepted in the token header.
	SigningAlgorithms []Alg

	// ClockSkewLeeway is applied to the "exp" and "nbf" claims.  Zero means
	// DefaultLeeway and a negative value means no leeway.
	ClockSkewLeeway time.Duration

	// Now provides the current time.  Defaults to time.Now.
	Now func() time.Time
}

// Validate validates JWTs of the JWS compact serialization form.
//
// The checks are applied in order: the header algorithm must be one of
// expected.SigningAlgorithms, the signature must verify against the
// KeySet, the audience and issuer claims must match, and the token must
// be within its exp/nbf window and not issued in the future.  The "exp" and
// "aud" claims are required.
//
// The claims of a valid token are returned.
func (v *Validator) Validate(ctx context.Context, token string, expected Expected) (map[string]interface{}, error) {
	const op = "Validator.Validate"
	switch {
	case expected.Issuer == "":
		return nil, fmt.Errorf("%s: expected issuer must not be empty: %w", op, ErrInvalidParameter)
	case len(expected.Audiences) == 0:
		return nil, fmt.Errorf("%s: expected audiences must not be empty: %w", op, ErrInvalidParameter)
	case len(expected.SigningAlgorithms) == 0:
		return nil, fmt.Errorf("%s: expected signing algorithms must not be empty: %w", op, ErrInvalidParameter)
	}
	if err := SupportedSigningAlgorithm(expected.SigningAlgorithms...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validateSigningAlgorithm(token, expected.SigningAlgorithms); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := v.keySet.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now
	if expected.Now != nil {
		now = expected.Now
	}
	leeway := expected.ClockSkewLeeway
	switch {
	case leeway == 0:
		leeway = DefaultLeeway
	case leeway < 0:
		leeway = 0
	}
	if err := validateClaims(token, expected, now(), leeway); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

func validateSigningAlgorithm(token string, allowed []Alg) error {
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedToken, err)
	}
	if len(jws.Signatures) != 1 {
		return fmt.Errorf("expected exactly one signature: %w", ErrMalformedToken)
	}
	alg := Alg(jws.Signatures[0].Header.Algorithm)
	for _, a := range allowed {
		if a == alg {
			return nil
		}
	}
	return fmt.Errorf("token signed with %q: %w", alg, ErrUnsupportedAlg)
}

// validateClaims checks the registered claims of a token whose signature has
// already been verified.
func validateClaims(token string, expected Expected, now time.Time, leeway time.Duration) error {
	parsed, err := josejwt.ParseSigned(token)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedToken, err)
	}
	var claims josejwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedToken, err)
	}

	if len(claims.Audience) == 0 {
		return fmt.Errorf("aud: %w", ErrMissingClaim)
	}
	audienceOK := false
	for _, a := range expected.Audiences {
		if claims.Audience.Contains(a) {
			audienceOK = true
			break
		}
	}
	if !audienceOK {
		return fmt.Errorf("got %q: %w", []string(claims.Audience), ErrInvalidAudience)
	}
	// a zero exp is skipped by ValidateWithLeeway
	if claims.Expiry == nil {
		return fmt.Errorf("exp: %w", ErrMissingClaim)
	}

	err = claims.ValidateWithLeeway(josejwt.Expected{Issuer: expected.Issuer, Time: now}, leeway)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, josejwt.ErrInvalidIssuer):
		return fmt.Errorf("got %q, want %q: %w", claims.Issuer, expected.Issuer, ErrInvalidIssuer)
	case errors.Is(err, josejwt.ErrExpired):
		return fmt.Errorf("expired at %s: %w", claims.Expiry.Time().UTC().Format(time.RFC3339), ErrExpired)
	case errors.Is(err, josejwt.ErrNotValidYet):
		return fmt.Errorf("not valid before %s: %w", claims.NotBefore.Time().UTC().Format(time.RFC3339), ErrNotYetValid)
	case errors.Is(err, josejwt.ErrIssuedInTheFuture):
		return fmt.Errorf("issued at %s: %w", claims.IssuedAt.Time().UTC().Format(time.RFC3339), ErrIssuedInFuture)
	default:
		return fmt.Errorf("%w: %s", ErrMalformedToken, err)
	}
}
