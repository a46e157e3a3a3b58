// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrReservedClaim    = errors.New("claim name is reserved")
	ErrInvalidKey       = errors.New("invalid signing key")
	ErrMintFailed       = errors.New("unable to mint session credential")
)
