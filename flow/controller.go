// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pkcebridge/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// Status is the state of a login attempt.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusPending       Status = "pending"
	StatusExchanging    Status = "exchanging"
	StatusAuthenticated Status = "authenticated"
	StatusFailed        Status = "failed"
)

// maxProviderErrorLength bounds the provider error text surfaced in a Result.
const maxProviderErrorLength = 256

// reservedAuthParams can't be set with WithExtraAuthParams.
var reservedAuthParams = map[string]bool{
	"client_id":             true,
	"redirect_uri":          true,
	"response_type":         true,
	"scope":                 true,
	"state":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
	"ui_locales":            true,
}

// Navigator performs a full page navigation.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// NavigatorFunc adapts a func to a Navigator.
type NavigatorFunc func(ctx context.Context, url string) error

// Navigate calls f.
func (f NavigatorFunc) Navigate(ctx context.Context, url string) error { return f(ctx, url) }

// SessionConsumer receives the credential of a successful login.
type SessionConsumer interface {
	Consume(ctx context.Context, resp *oidc.ExchangeResponse) error
}

// SessionConsumerFunc adapts a func to a SessionConsumer.
type SessionConsumerFunc func(ctx context.Context, resp *oidc.ExchangeResponse) error

// Consume calls f.
func (f SessionConsumerFunc) Consume(ctx context.Context, resp *oidc.ExchangeResponse) error {
	return f(ctx, resp)
}

// Result is the outcome of handling a callback.
type Result struct {
	// Status is StatusAuthenticated or StatusFailed.
	Status Status

	// SessionCredential is the credential minted for the session backend.
	SessionCredential string

	// SubjectId is the stable id of the authenticated user.
	SubjectId string

	// ReturnTo is the location saved by Begin, if any.
	ReturnTo string

	// Category classifies a failure.
	Category oidc.Category

	// Message is a user facing description of a failure.
	Message string

	// ProviderError and ProviderErrorDescription are the provider's error
	// redirect parameters, set only when the redirect's state matched.
	ProviderError            string
	ProviderErrorDescription string
}

// Controller drives the browser side of a login.  A Controller keeps no
// attempt state of its own: everything that must survive the navigation to
// the provider lives in its Store.
type Controller struct {
	config    *Config
	oauth2    oauth2.Config
	store     Store
	exchanger Exchanger
	navigator Navigator
	consumer  SessionConsumer
	logger    hclog.Logger
	expiry    time.Duration
	nowFunc   func() time.Time
}

// NewController creates a Controller.  An invalid config, or a nil store or
// exchanger, is a ConfigurationError.
//
// Supported options: WithNavigator, WithSessionConsumer, WithLogger,
// WithAttemptExpiry, WithNow
func NewController(c *Config, store Store, exchanger Exchanger, opt ...Option) (*Controller, error) {
	const op = "flow.NewController"
	if err := c.Validate(); err != nil {
		return nil, oidc.NewError(oidc.ConfigurationError, oidc.WithOp(op), oidc.WithMsg("invalid flow config"), oidc.WithWrap(err))
	}
	switch {
	case store == nil:
		return nil, oidc.NewError(oidc.ConfigurationError, oidc.WithOp(op), oidc.WithMsg("store is nil"), oidc.WithWrap(oidc.ErrNilParameter))
	case exchanger == nil:
		return nil, oidc.NewError(oidc.ConfigurationError, oidc.WithOp(op), oidc.WithMsg("exchanger is nil"), oidc.WithWrap(oidc.ErrNilParameter))
	}
	opts := getControllerOpts(opt...)
	if opts.withAttemptExpiry <= 0 {
		return nil, oidc.NewError(oidc.ConfigurationError, oidc.WithOp(op), oidc.WithMsg("attempt expiry must be positive"), oidc.WithWrap(oidc.ErrInvalidParameter))
	}
	return &Controller{
		config: c,
		oauth2: oauth2.Config{
			ClientID:    c.ClientID,
			RedirectURL: c.RedirectURL,
			Scopes:      c.scopes(),
			Endpoint:    oauth2.Endpoint{AuthURL: c.AuthURL},
		},
		store:     store,
		exchanger: exchanger,
		navigator: opts.withNavigator,
		consumer:  opts.withConsumer,
		logger:    opts.withLogger,
		expiry:    opts.withAttemptExpiry,
		nowFunc:   opts.withNowFunc,
	}, nil
}

// Begin starts a login attempt, replacing any pending one.  It saves the
// attempt before returning the authorization URL and, when a Navigator is
// configured, navigates to it.
//
// Supported options: WithReturnTo, WithUILocales, WithExtraAuthParams
func (c *Controller) Begin(ctx context.Context, opt ...Option) (string, error) {
	const op = "flow.(Controller).Begin"
	opts := getBeginOpts(opt...)
	if opts.withReturnTo != "" && !c.returnToAllowed(opts.withReturnTo) {
		return "", oidc.NewError(oidc.InvalidRequest, oidc.WithOp(op), oidc.WithMsg(fmt.Sprintf("return location %q is not on the redirect URL's origin", opts.withReturnTo)))
	}

	v, err := oidc.NewCodeVerifier()
	if err != nil {
		return "", oidc.NewError(oidc.Internal, oidc.WithOp(op), oidc.WithMsg("unable to generate code verifier"), oidc.WithWrap(err))
	}
	state, err := oidc.NewState()
	if err != nil {
		return "", oidc.NewError(oidc.Internal, oidc.WithOp(op), oidc.WithMsg("unable to generate state"), oidc.WithWrap(err))
	}

	authOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", v.Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, t := range opts.withUILocales {
			tag, err := language.Parse(t)
			if err != nil {
				return "", oidc.NewError(oidc.InvalidRequest, oidc.WithOp(op), oidc.WithMsg(fmt.Sprintf("invalid ui locale %q", t)), oidc.WithWrap(err))
			}
			locales = append(locales, tag.String())
		}
		authOpts = append(authOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	for k, val := range opts.withExtraAuthParams {
		if reservedAuthParams[k] {
			return "", oidc.NewError(oidc.InvalidRequest, oidc.WithOp(op), oidc.WithMsg(fmt.Sprintf("%q can't be set as an extra parameter", k)))
		}
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, val))
	}

	now := c.nowFunc()
	pending := &PendingLogin{
		Verifier:  v.Verifier(),
		State:     state,
		ReturnTo:  opts.withReturnTo,
		CreatedAt: now,
		ExpiresAt: now.Add(c.expiry),
	}
	if err := c.store.Save(ctx, pending); err != nil {
		return "", oidc.NewError(oidc.Internal, oidc.WithOp(op), oidc.WithMsg("unable to save pending login"), oidc.WithWrap(err))
	}
	authURL := c.oauth2.AuthCodeURL(state, authOpts...)
	c.logger.Debug("login attempt pending", "status", StatusPending, "expires_at", pending.ExpiresAt)

	if c.navigator != nil {
		if err := c.navigator.Navigate(ctx, authURL); err != nil {
			c.clear(ctx)
			return "", oidc.NewError(oidc.Internal, oidc.WithOp(op), oidc.WithMsg("unable to navigate to the provider"), oidc.WithWrap(err))
		}
	}
	return authURL, nil
}

// HandleCallbackURL handles the provider's redirect given as a full URL.
func (c *Controller) HandleCallbackURL(ctx context.Context, callbackURL string) (*Result, error) {
	const op = "flow.(Controller).HandleCallbackURL"
	u, err := url.Parse(callbackURL)
	if err != nil {
		c.clear(ctx)
		return c.failed(op, oidc.InvalidRequest, "unable to parse callback URL", err)
	}
	return c.HandleCallback(ctx, u.Query())
}

// HandleCallback handles the query parameters of the provider's redirect.
// The pending login is cleared before anything else, and the redirect's state
// must exactly match the pending login before any other parameter, error
// included, is looked at.
//
// The Result is never nil.  On failure the returned error is an *oidc.Err of
// the Result's category.
func (c *Controller) HandleCallback(ctx context.Context, params url.Values) (*Result, error) {
	const op = "flow.(Controller).HandleCallback"
	pending, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Error("unable to load pending login", "error", err)
		pending = nil
	}
	c.clear(ctx)

	switch {
	case pending == nil:
		return c.failed(op, oidc.SessionExpired, "no pending login", nil)
	case pending.IsExpired(c.nowFunc()):
		return c.failed(op, oidc.SessionExpired, "pending login expired", nil)
	case !oidc.StateMatches(pending.State, params.Get("state")):
		c.logger.Warn("callback state does not match the pending login: possible cross-site request forgery")
		return c.failed(op, oidc.CsrfRejected, "state mismatch", nil)
	}

	if providerErr := params.Get("error"); providerErr != "" {
		r, err := c.failed(op, oidc.ProviderDenied, "provider returned an error", fmt.Errorf("%s: %s", providerErr, params.Get("error_description")))
		r.ProviderError = sanitizeProviderText(providerErr)
		r.ProviderErrorDescription = sanitizeProviderText(params.Get("error_description"))
		r.Message = r.Category.Message() + " (" + r.ProviderError
		if r.ProviderErrorDescription != "" {
			r.Message += ": " + r.ProviderErrorDescription
		}
		r.Message += ")"
		return r, err
	}

	code := params.Get("code")
	if code == "" {
		return c.failed(op, oidc.InvalidRequest, "callback has no authorization code", nil)
	}

	c.logger.Debug("exchanging authorization code", "status", StatusExchanging)
	resp, err := c.exchanger.Exchange(ctx, &oidc.ExchangeRequest{
		Code:         code,
		CodeVerifier: oidc.CodeVerifierValue(pending.Verifier),
		RedirectUri:  c.config.RedirectURL,
	})
	if err != nil {
		category := oidc.CategoryOf(err)
		if !category.Known() {
			category = oidc.Internal
		}
		return c.failed(op, category, "exchange failed", err)
	}

	if c.consumer != nil {
		if err := c.consumer.Consume(ctx, resp); err != nil {
			return c.failed(op, oidc.Internal, "session consumer failed", err)
		}
	}
	c.logger.Info("login authenticated", "status", StatusAuthenticated, "subject_id", resp.SubjectId)

	if pending.ReturnTo != "" && c.navigator != nil {
		if err := c.navigator.Navigate(ctx, pending.ReturnTo); err != nil {
			c.logger.Warn("unable to restore return location", "error", err)
		}
	}
	return &Result{
		Status:            StatusAuthenticated,
		SessionCredential: resp.SessionCredential,
		SubjectId:         resp.SubjectId,
		ReturnTo:          pending.ReturnTo,
	}, nil
}

// Status reports StatusPending while a live pending login is stored and
// StatusIdle otherwise.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	const op = "flow.(Controller).Status"
	pending, err := c.store.Load(ctx)
	if err != nil {
		return StatusIdle, fmt.Errorf("%s: %w", op, err)
	}
	if pending == nil || pending.IsExpired(c.nowFunc()) {
		return StatusIdle, nil
	}
	return StatusPending, nil
}

func (c *Controller) failed(op string, category oidc.Category, msg string, wrapped error) (*Result, error) {
	err := oidc.NewError(category, oidc.WithOp(op), oidc.WithMsg(msg), oidc.WithWrap(wrapped))
	if category != oidc.CsrfRejected {
		c.logger.Error("login failed", "status", StatusFailed, "error", err)
	}
	return &Result{
		Status:   StatusFailed,
		Category: category,
		Message:  category.Message(),
	}, err
}

func (c *Controller) clear(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("unable to clear pending login", "error", err)
	}
}

// returnToAllowed accepts a local path or an absolute URL on the redirect
// URL's origin.
func (c *Controller) returnToAllowed(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(loc, "/") && !strings.HasPrefix(loc, "//") && !strings.HasPrefix(loc, "/\\")
	}
	redirect, err := url.Parse(c.config.RedirectURL)
	if err != nil {
		return false
	}
	return u.Scheme == redirect.Scheme && u.Host == redirect.Host
}

func sanitizeProviderText(s string) string {
	s = strings.Map(func(r rune) rune {
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
	if len(s) <= maxProviderErrorLength {
		return s
	}
	// cut on a rune boundary
	cut := 0
	for i := range s {
		if i > maxProviderErrorLength {
			break
		}
		cut = i
	}
	return s[:cut]
}
