// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pkcebridge/jwt"
	"github.com/hashicorp/pkcebridge/oidc/clientassertion"
	"golang.org/x/oauth2"
)

// Provider performs the backend half of a PKCE authorization code flow: it
// exchanges a code and verifier at the provider's token endpoint and verifies
// the returned id_token against the provider's published signing keys.
//
// A Provider holds no per-request state and is safe for concurrent use.  The
// signing key cache is shared by every call.
type Provider struct {
	config    *Config
	client    *http.Client
	tokenURL  string
	jwksURL   string
	keySet    *jwt.JSONWebKeySet
	validator *jwt.Validator
	nowFunc   func() time.Time
	logger    hclog.Logger
}

// NewProvider creates and initializes a Provider.  When the config enables
// discovery, initializing makes an http request to the issuer's
// /.well-known/openid-configuration and endpoints that are not explicitly
// configured are taken from the discovered document.
//
// Supported options: WithLogger, WithNow
func NewProvider(ctx context.Context, c *Config, opt ...Option) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, NewError(ConfigurationError, WithOp(op), WithMsg("provider config is nil"), WithWrap(ErrNilParameter))
	}
	if err := c.Validate(); err != nil {
		return nil, NewError(ConfigurationError, WithOp(op), WithMsg("provider config is invalid"), WithWrap(err))
	}
	opts := getProviderOpts(opt...)

	client, err := c.HTTPClient()
	if err != nil {
		return nil, NewError(ConfigurationError, WithOp(op), WithMsg("unable to create http client"), WithWrap(err))
	}

	p := &Provider{
		config:   c,
		client:   client,
		tokenURL: c.TokenURL,
		jwksURL:  c.JWKSURL,
		nowFunc:  opts.withNowFunc,
		logger:   opts.withLogger,
	}
	if p.nowFunc == nil {
		p.nowFunc = c.Now
	}

	if c.Discovery && (p.tokenURL == "" || p.jwksURL == "") {
		if err := p.discover(ctx); err != nil {
			return nil, NewError(ConfigurationError, WithOp(op), WithMsg("discovery failed"), WithWrap(err))
		}
	}

	maxAge := c.KeySetMaxAge
	if maxAge == 0 {
		maxAge = DefaultKeySetMaxAge
	}
	p.keySet, err = jwt.NewJSONWebKeySet(p.jwksURL, client,
		jwt.WithMaxAge(maxAge),
		jwt.WithNow(p.nowFunc),
		jwt.WithLogger(p.logger.Named("jwks")),
	)
	if err != nil {
		return nil, NewError(ConfigurationError, WithOp(op), WithMsg("unable to create key set"), WithWrap(err))
	}
	if p.validator, err = jwt.NewValidator(p.keySet); err != nil {
		return nil, NewError(ConfigurationError, WithOp(op), WithMsg("unable to create validator"), WithWrap(err))
	}
	return p, nil
}

func (p *Provider) discover(ctx context.Context) error {
	const op = "Provider.discover"
	discovered, err := oidc.NewProvider(HTTPClientContext(ctx, p.client), p.config.Issuer) // makes http req to issuer for discovery
	if err != nil {
		return fmt.Errorf("%s: unable to discover provider: %w", op, err)
	}
	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := discovered.Claims(&meta); err != nil {
		return fmt.Errorf("%s: unable to read discovery document: %w", op, err)
	}
	if p.tokenURL == "" {
		p.tokenURL = discovered.Endpoint().TokenURL
	}
	if p.jwksURL == "" {
		p.jwksURL = meta.JWKSURL
	}
	if p.tokenURL == "" || p.jwksURL == "" {
		return fmt.Errorf("%s: discovery document is missing token_endpoint or jwks_uri: %w", op, ErrInvalidParameter)
	}
	p.logger.Debug("discovered provider endpoints", "token_url", p.tokenURL, "jwks_url", p.jwksURL)
	return nil
}

// TokenURL returns the token endpoint in use.
func (p *Provider) TokenURL() string { return p.tokenURL }

// JWKSURL returns the key set URL in use.
func (p *Provider) JWKSURL() string { return p.jwksURL }

// Exchange sends a single authorization_code grant to the provider's token
// endpoint with the PKCE verifier, and returns the resulting token.  The
// request is never retried since the code is single use.
//
// When redirectURL is empty, the config's RedirectURL is sent.  Otherwise it
// must be an allowed redirect URL.
//
// A non-success response from the provider returns an error wrapping
// ErrExchangeRejected; network failures and timeouts wrap
// ErrExchangeUnreachable; a response without an id_token wraps
// ErrMissingIdToken.
func (p *Provider) Exchange(ctx context.Context, code, verifier, redirectURL string) (*Token, error) {
	const op = "Provider.Exchange"
	switch {
	case code == "":
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	case !ValidVerifier(verifier):
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCodeVerifier)
	}
	redirect := p.config.RedirectURL
	if redirectURL != "" {
		if !p.config.RedirectAllowed(redirectURL) {
			return nil, fmt.Errorf("%s: %q: %w", op, redirectURL, ErrRedirectNotAllowed)
		}
		redirect = redirectURL
	}

	oauth2Config := oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  redirect,
		Endpoint: oauth2.Endpoint{
			TokenURL: p.tokenURL,
			// auto detection retries with a second request, which would
			// resend the single use code
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	authOpts := []oauth2.AuthCodeOption{oauth2.VerifierOption(verifier)}
	if p.config.ClientAssertion != nil {
		assertion, err := p.config.ClientAssertion.Serialize()
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create client assertion: %w", op, err)
		}
		authOpts = append(authOpts,
			oauth2.SetAuthURLParam("client_assertion_type", clientassertion.JWTTypeParam),
			oauth2.SetAuthURLParam("client_assertion", assertion),
		)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.exchangeTimeout())
	defer cancel()
	oauth2Token, err := oauth2Config.Exchange(HTTPClientContext(ctx, p.client), code, authOpts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		switch {
		case errors.As(err, &retrieveErr):
			return nil, fmt.Errorf("%s: %w: %s", op, ErrExchangeRejected, describeRetrieveError(retrieveErr))
		case isUnreachable(err):
			return nil, fmt.Errorf("%s: %w: %s", op, ErrExchangeUnreachable, err)
		default:
			return nil, fmt.Errorf("%s: %w: %s", op, ErrExchangeRejected, err)
		}
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIdToken)
	}
	return &Token{
		IdToken:     IdToken(idToken),
		AccessToken: AccessToken(oauth2Token.AccessToken),
		Expiry:      oauth2Token.Expiry,
	}, nil
}

// VerifyIdToken verifies the id_token and returns its claims.  The checks
// are, in order: an allowed asymmetric signing algorithm, the signature
// against the provider's published keys, the audience contains the client
// ID, the issuer equals the configured issuer, and exp/nbf are honoured with
// the configured clock skew.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIdToken(ctx context.Context, t IdToken) (*Claims, error) {
	const op = "Provider.VerifyIdToken"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	raw, err := p.validator.Validate(ctx, string(t), jwt.Expected{
		Issuer:            p.config.Issuer,
		Audiences:         []string{p.config.ClientID},
		SigningAlgorithms: p.config.SupportedSigningAlgs,
		ClockSkewLeeway:   p.config.ClockSkew,
		Now:               p.nowFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerificationFailed, err)
	}
	claims, err := newClaims(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerificationFailed, err)
	}
	return claims, nil
}

func describeRetrieveError(e *oauth2.RetrieveError) string {
	var parts []string
	if e.Response != nil {
		parts = append(parts, fmt.Sprintf("status %d", e.Response.StatusCode))
	}
	if e.ErrorCode != "" {
		parts = append(parts, e.ErrorCode)
	}
	if e.ErrorDescription != "" {
		parts = append(parts, e.ErrorDescription)
	}
	if len(parts) == 0 {
		return "provider returned an error"
	}
	return strings.Join(parts, ": ")
}

func isUnreachable(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// providerOptions is the set of available options for a Provider.
type providerOptions struct {
	withLogger  hclog.Logger
	withNowFunc func() time.Time
}

func providerDefaults() providerOptions {
	return providerOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
