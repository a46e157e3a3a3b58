// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/pkcebridge/jwt"
	"github.com/hashicorp/pkcebridge/oidc/clientassertion"
)

// Profile store kinds.
const (
	storeFirestore = "firestore"
	storeSQLite    = "sqlite"
	storeMemory    = "memory"
)

type config struct {
	Addr         string   `env:"PKCEBRIDGE_ADDR" envDefault:":8080"`
	ExchangePath string   `env:"PKCEBRIDGE_EXCHANGE_PATH" envDefault:"/exchange"`
	Origins      []string `env:"PKCEBRIDGE_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	LogLevel     string   `env:"PKCEBRIDGE_LOG_LEVEL" envDefault:"info"`
	LogJSON      bool     `env:"PKCEBRIDGE_LOG_JSON"`

	Issuer              string        `env:"PKCEBRIDGE_ISSUER,required"`
	ClientID            string        `env:"PKCEBRIDGE_CLIENT_ID,required"`
	ClientSecret        string        `env:"PKCEBRIDGE_CLIENT_SECRET,unset"`
	RedirectURL         string        `env:"PKCEBRIDGE_REDIRECT_URL,required"`
	AllowedRedirectURLs []string      `env:"PKCEBRIDGE_ALLOWED_REDIRECT_URLS" envSeparator:","`
	TokenURL            string        `env:"PKCEBRIDGE_TOKEN_URL"`
	JWKSURL             string        `env:"PKCEBRIDGE_JWKS_URL"`
	Discovery           bool          `env:"PKCEBRIDGE_DISCOVERY"`
	ProviderCAFile      string        `env:"PKCEBRIDGE_PROVIDER_CA_FILE"`
	SigningAlgs         []string      `env:"PKCEBRIDGE_SIGNING_ALGS" envSeparator:"," envDefault:"RS256"`
	ExchangeTimeout     time.Duration `env:"PKCEBRIDGE_EXCHANGE_TIMEOUT" envDefault:"10s"`
	CustomClaims        []string      `env:"PKCEBRIDGE_CUSTOM_CLAIMS" envSeparator:","`

	ClientAssertionKeyFile string `env:"PKCEBRIDGE_CLIENT_ASSERTION_KEY_FILE"`
	ClientAssertionKeyID   string `env:"PKCEBRIDGE_CLIENT_ASSERTION_KEY_ID"`
	ClientAssertionAlg     string `env:"PKCEBRIDGE_CLIENT_ASSERTION_ALG" envDefault:"RS256"`

	ProfileStore      string `env:"PKCEBRIDGE_PROFILE_STORE" envDefault:"firestore"`
	FirestoreProject  string `env:"PKCEBRIDGE_FIRESTORE_PROJECT,expand" envDefault:"${GOOGLE_CLOUD_PROJECT}"`
	FirestoreDatabase string `env:"PKCEBRIDGE_FIRESTORE_DATABASE"`
	ProfileCollection string `env:"PKCEBRIDGE_PROFILE_COLLECTION" envDefault:"users"`
	SQLitePath        string `env:"PKCEBRIDGE_SQLITE_PATH" envDefault:"profiles.db"`

	ServiceAccountFile string        `env:"PKCEBRIDGE_SERVICE_ACCOUNT_FILE,required"`
	SessionTTL         time.Duration `env:"PKCEBRIDGE_SESSION_TTL" envDefault:"1h"`
}

// loadConfig reads the config from environ, or from the process environment
// when environ is nil.
func loadConfig(environ map[string]string) (*config, error) {
	const op = "main.loadConfig"
	var c config
	if err := env.ParseWithOptions(&c, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

func (c *config) validate() error {
	var result *multierror.Error
	if _, err := hclogLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := c.algs(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.ClientAssertionKeyFile != "" {
		if c.ClientSecret != "" {
			result = multierror.Append(result, fmt.Errorf("PKCEBRIDGE_CLIENT_SECRET and PKCEBRIDGE_CLIENT_ASSERTION_KEY_FILE are mutually exclusive"))
		}
		switch clientassertion.RSAlgorithm(c.ClientAssertionAlg) {
		case clientassertion.RS256, clientassertion.RS384, clientassertion.RS512:
		default:
			result = multierror.Append(result, fmt.Errorf("unsupported client assertion algorithm %q", c.ClientAssertionAlg))
		}
	}
	switch c.ProfileStore {
	case storeFirestore:
		if c.FirestoreProject == "" {
			result = multierror.Append(result, fmt.Errorf("PKCEBRIDGE_FIRESTORE_PROJECT is required for the firestore profile store"))
		}
	case storeSQLite:
		if c.SQLitePath == "" {
			result = multierror.Append(result, fmt.Errorf("PKCEBRIDGE_SQLITE_PATH is required for the sqlite profile store"))
		}
	case storeMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown profile store %q", c.ProfileStore))
	}
	if len(c.Origins) == 0 {
		result = multierror.Append(result, fmt.Errorf("PKCEBRIDGE_ALLOWED_ORIGINS is empty"))
	}
	for _, o := range c.Origins {
		if o == "*" {
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("allowed origin %q is not a URL origin", o))
		}
	}
	return result.ErrorOrNil()
}

func (c *config) algs() ([]jwt.Alg, error) {
	algs := make([]jwt.Alg, 0, len(c.SigningAlgs))
	for _, a := range c.SigningAlgs {
		algs = append(algs, jwt.Alg(a))
	}
	if err := jwt.SupportedSigningAlgorithm(algs...); err != nil {
		return nil, err
	}
	return algs, nil
}

// assertionAudience is the token endpoint, or the issuer when the token
// endpoint is discovered.
func (c *config) assertionAudience() []string {
	if c.TokenURL != "" {
		return []string{c.TokenURL}
	}
	return []string{c.Issuer}
}

func hclogLevel(s string) (hclog.Level, error) {
	l := hclog.LevelFromString(s)
	if l == hclog.NoLevel {
		return hclog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}
