// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"fmt"
	"net/url"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/pkcebridge/oidc"
)

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"openid"}

// Config is the browser side configuration of a login flow.  There is no
// default authorization endpoint.
type Config struct {
	// ClientID is the relying party ID.
	ClientID string

	// AuthURL is the provider's authorization endpoint.
	AuthURL string

	// RedirectURL is the callback the provider redirects back to.  It is also
	// sent to the exchange service, which must allow it.
	RedirectURL string

	// Scopes are the requested scopes.  DefaultScopes is used when empty.
	Scopes []string
}

// Validate the config.  Every problem found is reported.
func (c *Config) Validate() error {
	const op = "flow.(Config).Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client ID is empty: %w", op, oidc.ErrInvalidParameter))
	}
	for name, v := range map[string]string{"authorization URL": c.AuthURL, "redirect URL": c.RedirectURL} {
		if v == "" {
			result = multierror.Append(result, fmt.Errorf("%s: %s is empty: %w", op, name, oidc.ErrInvalidParameter))
			continue
		}
		u, err := url.Parse(v)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("%s: %s %q is not an absolute http(s) URL: %w", op, name, v, oidc.ErrInvalidParameter))
		}
	}
	return result.ErrorOrNil()
}

func (c *Config) scopes() []string {
	if len(c.Scopes) == 0 {
		return DefaultScopes
	}
	return c.Scopes
}
