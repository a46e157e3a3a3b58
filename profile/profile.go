// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// maxIDLength is the longest subject id accepted as a record key.
const maxIDLength = 1500

// Profile is the stored record of an authenticated user.
type Profile struct {
	// Subject is the full "sub" claim of the id_token.
	Subject string `json:"sub,omitempty"`

	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Phone      string `json:"phone_number,omitempty"`

	// Custom holds configured provider specific claims.
	Custom map[string]interface{} `json:"custom,omitempty"`

	// UpdatedAt is set by the store on every upsert.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists profiles.  Implementations must be safe for concurrent use.
type Store interface {
	// Upsert merges p into the record for id, creating it when missing.
	Upsert(ctx context.Context, id string, p *Profile) error

	// Get returns the record for id, or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (*Profile, error)
}

// Merge applies the non-empty fields of update to p.  Custom claims are
// merged key by key and nil values are skipped.
func (p *Profile) Merge(update *Profile) {
	if update == nil {
		return
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.Subject, update.Subject)
	set(&p.Email, update.Email)
	set(&p.Name, update.Name)
	set(&p.GivenName, update.GivenName)
	set(&p.FamilyName, update.FamilyName)
	set(&p.Phone, update.Phone)
	for k, v := range update.Custom {
		if v == nil {
			continue
		}
		if p.Custom == nil {
			p.Custom = map[string]interface{}{}
		}
		p.Custom[k] = v
	}
	if !update.UpdatedAt.IsZero() {
		p.UpdatedAt = update.UpdatedAt
	}
}

// Clone returns a copy of p that shares no maps with it.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Custom = nil
	if p.Custom != nil {
		c.Custom = make(map[string]interface{}, len(p.Custom))
		for k, v := range p.Custom {
			c.Custom[k] = v
		}
	}
	return &c
}

func validateID(op, id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%s: id is empty: %w", op, ErrInvalidParameter)
	case len(id) > maxIDLength:
		return fmt.Errorf("%s: id is too long: %w", op, ErrInvalidParameter)
	case strings.Contains(id, "/"), id == ".", id == "..":
		return fmt.Errorf("%s: id %q is not a valid document id: %w", op, id, ErrInvalidParameter)
	}
	return nil
}
