// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"
)

// Claims is the verified claim set of an id_token.  A Claims is only ever
// built from a token that passed signature, audience, issuer and expiry
// validation.
type Claims struct {
	Subject       string
	Issuer        string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	PhoneNumber   string
	Picture       string
	IssuedAt      time.Time

	// Raw holds every claim of the token, including provider specific ones.
	Raw map[string]interface{}
}

func newClaims(raw map[string]interface{}) (*Claims, error) {
	const op = "oidc.newClaims"
	str := func(name string) string {
		s, _ := raw[name].(string)
		return s
	}
	c := &Claims{
		Subject:     str("sub"),
		Issuer:      str("iss"),
		Email:       str("email"),
		Name:        str("name"),
		GivenName:   str("given_name"),
		FamilyName:  str("family_name"),
		PhoneNumber: str("phone_number"),
		Picture:     str("picture"),
		Raw:         raw,
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingSubject)
	}
	if v, ok := raw["email_verified"].(bool); ok {
		c.EmailVerified = v
	}
	if iat, ok := raw["iat"].(float64); ok {
		c.IssuedAt = time.Unix(int64(iat), 0)
	}
	return c, nil
}

// Get returns the named raw claim.
func (c *Claims) Get(name string) (interface{}, bool) {
	if c == nil || c.Raw == nil {
		return nil, false
	}
	v, ok := c.Raw[name]
	return v, ok
}
