// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/pkcebridge/jwt"
	"github.com/hashicorp/pkcebridge/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/pkcebridge/sdk/http"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	// DefaultExchangeTimeout bounds a single token endpoint request.
	DefaultExchangeTimeout = 10 * time.Second

	// DefaultClockSkew is the leeway applied to time based id_token claims.
	DefaultClockSkew = 30 * time.Second

	// DefaultKeySetMaxAge is how long fetched signing keys are trusted before
	// they are fetched again.
	DefaultKeySetMaxAge = 5 * time.Minute
)

// Config represents the backend configuration for exchanging a PKCE bound
// authorization code with a provider.
type Config struct {
	// ClientID is the relying party ID.
	ClientID string

	// ClientSecret is the relying party secret.  It is optional since public
	// clients authenticate with PKCE alone; when set it is sent in the token
	// request body and never leaves the backend.
	ClientSecret ClientSecret

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.  It must equal the "iss" claim of
	// every id_token.
	Issuer string

	// SupportedSigningAlgs is a list of supported signing algorithms.  Only
	// asymmetric algorithms are accepted.
	SupportedSigningAlgs []jwt.Alg

	// RedirectURL is the redirect URL used when an exchange request doesn't
	// carry one.
	RedirectURL string

	// AllowedRedirectURLs is the list of redirect URLs an exchange request may
	// ask for.  RedirectURL is always allowed.
	AllowedRedirectURLs []string

	// TokenURL is the provider's token endpoint.  Required unless Discovery is
	// set.
	TokenURL string

	// JWKSURL is the provider's published key set.  Required unless
	// Discovery is set.
	JWKSURL string

	// Discovery resolves TokenURL and JWKSURL from the issuer's
	// /.well-known/openid-configuration document.  Explicitly configured
	// endpoints take precedence.
	Discovery bool

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// ExchangeTimeout bounds each request to the provider.
	ExchangeTimeout time.Duration

	// ClockSkew is the leeway applied to exp and nbf when verifying id_tokens.
	ClockSkew time.Duration

	// KeySetMaxAge is the freshness window of the cached signing keys.
	KeySetMaxAge time.Duration

	// ClientAssertion optionally authenticates the client to the token
	// endpoint with a signed JWT (RFC 7523) instead of a client secret.
	ClientAssertion ClientAssertion

	// NowFunc is a time func that returns the current time.
	NowFunc func() time.Time
}

// ClientAssertion creates a freshly signed client assertion for every token
// request.  *clientassertion.JWT satisfies it.
type ClientAssertion interface {
	Serialize() (string, error)
}

// NewConfig composes a new config for a provider.
//
// The issuer, clientID and redirectURL are required.  Either WithEndpoints or
// WithDiscovery must be used: there is no implicit endpoint path.
//
// Supported options:
//	WithAllowedRedirectURLs
//	WithEndpoints
//	WithDiscovery
//	WithProviderCA
//	WithExchangeTimeout
//	WithClockSkew
//	WithKeySetMaxAge
//	WithClientAssertion
//	WithNow
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, supported []jwt.Alg, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		SupportedSigningAlgs: supported,
		RedirectURL:          redirectURL,
		AllowedRedirectURLs:  opts.withAllowedRedirectURLs,
		TokenURL:             opts.withTokenURL,
		JWKSURL:              opts.withJWKSURL,
		Discovery:            opts.withDiscovery,
		ProviderCA:           opts.withProviderCA,
		ExchangeTimeout:      opts.withExchangeTimeout,
		ClockSkew:            opts.withClockSkew,
		KeySetMaxAge:         opts.withKeySetMaxAge,
		ClientAssertion:      opts.withClientAssertion,
		NowFunc:              opts.withNowFunc,
	}
	if err := c.Validate(); err != nil {
		return nil, NewError(ConfigurationError, WithOp(op), WithMsg("invalid provider config"), WithWrap(err))
	}
	return c, nil
}

// Validate the provider configuration.  Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable
// via an http request.  Every problem found is reported.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client ID is empty: %w", op, ErrInvalidParameter))
	}
	if c.RedirectURL == "" {
		result = multierror.Append(result, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter))
	}
	switch {
	case c.Issuer == "":
		result = multierror.Append(result, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidIssuer))
	default:
		if err := validateURL(c.Issuer); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: issuer %q: %w", op, c.Issuer, err))
		}
	}
	if !c.Discovery {
		if c.TokenURL == "" {
			result = multierror.Append(result, fmt.Errorf("%s: token URL is empty and discovery is disabled: %w", op, ErrInvalidParameter))
		}
		if c.JWKSURL == "" {
			result = multierror.Append(result, fmt.Errorf("%s: JWKS URL is empty and discovery is disabled: %w", op, ErrInvalidParameter))
		}
	}
	for _, u := range []string{c.TokenURL, c.JWKSURL} {
		if u == "" {
			continue
		}
		if err := validateURL(u); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: endpoint %q: %w", op, u, err))
		}
	}
	if len(c.SupportedSigningAlgs) == 0 {
		result = multierror.Append(result, fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter))
	} else if err := jwt.SupportedSigningAlgorithm(c.SupportedSigningAlgs...); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w: %s", op, ErrInvalidParameter, err))
	}
	if c.ExchangeTimeout < 0 || c.ClockSkew < 0 || c.KeySetMaxAge < 0 {
		result = multierror.Append(result, fmt.Errorf("%s: durations must not be negative: %w", op, ErrInvalidParameter))
	}
	if c.ClientSecret != "" && c.ClientAssertion != nil {
		result = multierror.Append(result, fmt.Errorf("%s: client secret and client assertion are mutually exclusive: %w", op, ErrInvalidParameter))
	}
	if c.ProviderCA != "" {
		if _, err := sdkHttp.NewClient(c.ProviderCA); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", op, ErrInvalidCACert))
		}
	}
	return result.ErrorOrNil()
}

// RedirectAllowed reports whether u may be used as the redirect_uri of a
// token request.
func (c *Config) RedirectAllowed(u string) bool {
	return u == c.RedirectURL || strutils.StrListContains(c.AllowedRedirectURLs, u)
}

// Now will return the current time which can be overridden by the NowFunc
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now() // fallback to this default
}

func (c *Config) exchangeTimeout() time.Duration {
	if c.ExchangeTimeout > 0 {
		return c.ExchangeTimeout
	}
	return DefaultExchangeTimeout
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkHttp.NewClient(c.ProviderCA)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	client.Timeout = c.exchangeTimeout()
	return client, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParameter, err)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("scheme is not http or https: %w", ErrInvalidParameter)
	}
	if u.Host == "" {
		return fmt.Errorf("host is empty: %w", ErrInvalidParameter)
	}
	return nil
}

// configOptions is the set of available options
type configOptions struct {
	withAllowedRedirectURLs []string
	withTokenURL            string
	withJWKSURL             string
	withDiscovery           bool
	withProviderCA          string
	withExchangeTimeout     time.Duration
	withClockSkew           time.Duration
	withKeySetMaxAge        time.Duration
	withClientAssertion     ClientAssertion
	withNowFunc             func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withExchangeTimeout: DefaultExchangeTimeout,
		withClockSkew:       DefaultClockSkew,
		withKeySetMaxAge:    DefaultKeySetMaxAge,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAllowedRedirectURLs provides an optional list of additional redirect
// URLs an exchange request may use.
func WithAllowedRedirectURLs(urls ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAllowedRedirectURLs = strutils.RemoveDuplicatesStable(urls, false)
		}
	}
}

// WithEndpoints provides the provider's token endpoint and key set URL.
func WithEndpoints(tokenURL, jwksURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTokenURL = tokenURL
			o.withJWKSURL = jwksURL
		}
	}
}

// WithDiscovery enables OIDC discovery of the token endpoint and key set URL.
func WithDiscovery() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withDiscovery = true
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithExchangeTimeout provides an optional timeout for provider requests.
func WithExchangeTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withExchangeTimeout = d
		}
	}
}

// WithClockSkew provides an optional leeway for id_token time claims.
func WithClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClockSkew = d
		}
	}
}

// WithKeySetMaxAge provides an optional freshness window for cached signing
// keys.
func WithKeySetMaxAge(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withKeySetMaxAge = d
		}
	}
}

// WithClientAssertion provides an optional client assertion used to
// authenticate token requests.
func WithClientAssertion(a ClientAssertion) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientAssertion = a
		}
	}
}
