// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrIdGeneratorFailed          = errors.New("id generation failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrInvalidCodeVerifier        = errors.New("invalid PKCE code verifier")
	ErrMissingIdToken             = errors.New("id_token is missing")
	ErrMissingSubject             = errors.New("id_token is missing the sub claim")
	ErrIdTokenVerificationFailed  = errors.New("id_token verification failed")
	ErrExchangeRejected           = errors.New("token exchange rejected by provider")
	ErrExchangeUnreachable        = errors.New("token endpoint unreachable")
	ErrRedirectNotAllowed         = errors.New("redirect URL is not allowed")
	ErrNotFound                   = errors.New("not found")
)

// Category is the normalized, machine readable classification of a failed
// login attempt. It is the only error detail that crosses from the exchange
// service to the browser.
type Category string

const (
	ConfigurationError  Category = "configuration_error"
	CsrfRejected        Category = "csrf_rejected"
	SessionExpired      Category = "session_expired"
	ProviderDenied      Category = "provider_denied"
	ExchangeUnreachable Category = "exchange_unreachable"
	AssertionInvalid    Category = "assertion_invalid"
	StorageFailure      Category = "storage_failure"
	InvalidRequest      Category = "invalid_request"
	Internal            Category = "internal_error"
)

var categoryMessages = map[Category]string{
	ConfigurationError:  "The login service is not properly configured.",
	CsrfRejected:        "The login response could not be verified. Please start again.",
	SessionExpired:      "Your login session expired. Please start again.",
	ProviderDenied:      "The identity provider did not authorize the login.",
	ExchangeUnreachable: "The identity provider could not be reached. Please try again.",
	AssertionInvalid:    "The identity provider's response could not be verified.",
	StorageFailure:      "Your profile could not be saved. Please try again later.",
	InvalidRequest:      "The login request was malformed.",
	Internal:            "An unexpected error occurred during login.",
}

// Message returns a generic human readable message for the category.  It
// never contains request specific detail.
func (c Category) Message() string {
	if m, ok := categoryMessages[c]; ok {
		return m
	}
	return categoryMessages[Internal]
}

// Known reports whether c is one of the defined categories.
func (c Category) Known() bool {
	_, ok := categoryMessages[c]
	return ok
}

// HTTPStatus returns the status code used when the category is written as an
// exchange RPC failure.
func (c Category) HTTPStatus() int {
	switch c {
	case InvalidRequest:
		return http.StatusBadRequest
	case CsrfRejected, ProviderDenied, AssertionInvalid:
		return http.StatusUnauthorized
	case SessionExpired:
		return http.StatusGone
	case ExchangeUnreachable:
		return http.StatusBadGateway
	case StorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a new login attempt may succeed after this
// failure.  Retrying always means restarting the whole flow with fresh proof
// material, never resending an authorization code.
func (c Category) Retryable() bool {
	return c == ExchangeUnreachable
}

// Err is the error type returned at the exchange service and flow controller
// boundaries.
type Err struct {
	// Category is the normalized classification of the failure.
	Category Category

	// Op is the operation that raised the error.
	Op string

	// Msg is a diagnostic message.  It is logged but never sent to a browser.
	Msg string

	// Wrapped is the underlying cause.
	Wrapped error
}

var _ error = (*Err)(nil)

// NewError creates a new *Err.  Supported options: WithOp, WithMsg, WithWrap.
// An empty category is treated as Internal.
func NewError(c Category, opt ...Option) error {
	opts := getErrOpts(opt...)
	if c == "" {
		c = Internal
	}
	return &Err{
		Category: c,
		Op:       opts.withOp,
		Msg:      opts.withErrMsg,
		Wrapped:  opts.withErrWrapped,
	}
}

// Error satisfies the error interface.  The result may include upstream
// detail and is meant for logs; use Public for anything user facing.
func (e *Err) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Category))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped error, if any.
func (e *Err) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Wrapped
}

// Public returns the browser safe representation of the error.
func (e *Err) Public() *ErrorResponse {
	c := Internal
	if e != nil && e.Category.Known() {
		c = e.Category
	}
	return &ErrorResponse{
		Error:   c,
		Message: c.Message(),
	}
}

// CategoryOf returns the category of the first *Err in err's chain, or
// Internal when there is none.
func CategoryOf(err error) Category {
	var e *Err
	if errors.As(err, &e) && e.Category != "" {
		return e.Category
	}
	return Internal
}

// errOptions is the set of available options for NewError
type errOptions struct {
	withOp         string
	withErrMsg     string
	withErrWrapped error
}

func errDefaults() errOptions {
	return errOptions{}
}

func getErrOpts(opt ...Option) errOptions {
	opts := errDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithOp provides an optional operation name for an error.
func WithOp(op string) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withOp = op
		}
	}
}

// WithMsg provides an optional diagnostic message for an error.
func WithMsg(msg string) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withErrMsg = msg
		}
	}
}

// WithWrap provides an optional error to wrap.
func WithWrap(e error) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withErrWrapped = e
		}
	}
}
