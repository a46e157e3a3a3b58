// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import "errors"

var (
	ErrMissingClientID      = errors.New("missing client ID")
	ErrMissingAudience      = errors.New("missing audience")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidSecretLength  = errors.New("invalid secret length for algorithm")
	ErrNilPrivateKey        = errors.New("nil private key")
	ErrReservedHeader       = errors.New("reserved header")
	ErrIdGeneratorFailed    = errors.New("unable to generate token id")
	ErrSigningFailed        = errors.New("unable to sign client assertion")
)
