// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

const (
	charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	idLen   = 10
)

// New generates a random base62 ID with an optional prefix.
func New(optionalPrefix string) (string, error) {
	id, err := random(idLen)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}

// random returns n base62 characters.  Bytes that would bias the
// distribution are discarded.
func random(n int) (string, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		buf, err := uuid.GenerateRandomBytes(n * 2)
		if err != nil {
			return "", err
		}
		for _, b := range buf {
			// 248 is the largest multiple of 62 that fits in a byte
			if b >= 248 {
				continue
			}
			out = append(out, charset[b%62])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
