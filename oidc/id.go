// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// randomBytes reads n bytes from the secure random source.
func randomBytes(n int) ([]byte, error) {
	const op = "oidc.randomBytes"
	b, err := uuid.GenerateRandomBytes(n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrIdGeneratorFailed, err)
	}
	return b, nil
}
