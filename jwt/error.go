// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrMalformedToken    = errors.New("malformed token")
	ErrUnsupportedAlg    = errors.New("unsupported signing algorithm")
	ErrUnknownKeyID      = errors.New("no signing key matches the token key ID")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrKeySetUnreachable = errors.New("key set could not be fetched")
	ErrInvalidKeySet     = errors.New("invalid key set document")
	ErrInvalidAudience   = errors.New("invalid audience claim")
	ErrInvalidIssuer     = errors.New("invalid issuer claim")
	ErrExpired           = errors.New("token is expired")
	ErrNotYetValid       = errors.New("token is not valid yet")
	ErrIssuedInFuture    = errors.New("token is issued in the future")
	ErrMissingClaim      = errors.New("required claim is missing")
)
