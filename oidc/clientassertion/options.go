// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"fmt"
	"time"
)

// Option configures a JWT.
type Option func(*JWT) error

// WithKeyID sets the "kid" header the provider uses to find the public key
// that verifies the assertion.
func WithKeyID(keyID string) Option {
	return func(j *JWT) error {
		j.headers["kid"] = keyID
		return nil
	}
}

// WithHeaders sets extra JWT headers.  "alg" and "typ" can't be set.
func WithHeaders(h map[string]string) Option {
	const op = "WithHeaders"
	return func(j *JWT) error {
		for k, v := range h {
			if k == "alg" || k == "typ" {
				return fmt.Errorf("%s: %w: %q", op, ErrReservedHeader, k)
			}
			j.headers[k] = v
		}
		return nil
	}
}

// WithNow provides an optional func for determining the current time.
func WithNow(now func() time.Time) Option {
	return func(j *JWT) error {
		if now != nil {
			j.now = now
		}
		return nil
	}
}
