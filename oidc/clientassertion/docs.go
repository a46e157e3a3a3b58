// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package clientassertion signs the JWTs a confidential client presents
// instead of a client secret at the token endpoint (RFC 7523):
// private_key_jwt with an RSA key, or client_secret_jwt with an HMAC secret.
//
// A JWT passed to oidc.WithClientAssertion makes oidc.Provider send a freshly
// signed assertion with every code exchange.
//
// Example usage:
//
//	j, err := clientassertion.NewJWTWithRSAKey("client-id", []string{tokenURL},
//		clientassertion.RS256, rsaPrivateKey,
//		clientassertion.WithKeyID("jwks-key-id"),
//	)
//	signed, err := j.Serialize()
package clientassertion
