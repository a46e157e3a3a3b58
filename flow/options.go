// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultAttemptExpiry is how long a pending login stays usable.
	DefaultAttemptExpiry = 10 * time.Minute

	// DefaultExchangeTimeout bounds the exchange RPC.
	DefaultExchangeTimeout = 30 * time.Second
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// controllerOptions is the set of available options for a Controller.
type controllerOptions struct {
	withNavigator     Navigator
	withConsumer      SessionConsumer
	withLogger        hclog.Logger
	withAttemptExpiry time.Duration
	withNowFunc       func() time.Time
}

func controllerDefaults() controllerOptions {
	return controllerOptions{
		withLogger:        hclog.NewNullLogger(),
		withAttemptExpiry: DefaultAttemptExpiry,
		withNowFunc:       time.Now,
	}
}

func getControllerOpts(opt ...Option) controllerOptions {
	opts := controllerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// beginOptions is the set of available options for Controller.Begin.
type beginOptions struct {
	withReturnTo        string
	withUILocales       []string
	withExtraAuthParams map[string]string
}

func beginDefaults() beginOptions {
	return beginOptions{}
}

func getBeginOpts(opt ...Option) beginOptions {
	opts := beginDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// exchangerOptions is the set of available options for an HTTPExchanger.
type exchangerOptions struct {
	withHTTPClient *http.Client
	withTimeout    time.Duration
	withCACert     string
}

func exchangerDefaults() exchangerOptions {
	return exchangerOptions{
		withTimeout: DefaultExchangeTimeout,
	}
}

func getExchangerOpts(opt ...Option) exchangerOptions {
	opts := exchangerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNavigator provides the Navigator Begin uses to leave for the provider.
func WithNavigator(n Navigator) Option {
	return func(o interface{}) {
		if o, ok := o.(*controllerOptions); ok {
			o.withNavigator = n
		}
	}
}

// WithSessionConsumer provides the consumer of a successful exchange.
func WithSessionConsumer(c SessionConsumer) Option {
	return func(o interface{}) {
		if o, ok := o.(*controllerOptions); ok {
			o.withConsumer = c
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*controllerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithAttemptExpiry provides how long a pending login stays usable.
func WithAttemptExpiry(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*controllerOptions); ok {
			o.withAttemptExpiry = d
		}
	}
}

// WithNow provides an optional func for determining the current time.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*controllerOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithReturnTo provides the location restored after a successful login.  It
// must be a path, or an absolute URL on the redirect URL's origin.
func WithReturnTo(loc string) Option {
	return func(o interface{}) {
		if o, ok := o.(*beginOptions); ok {
			o.withReturnTo = loc
		}
	}
}

// WithUILocales provides the preferred languages of the provider's login
// pages as BCP 47 tags, sent as "ui_locales".
func WithUILocales(tags ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*beginOptions); ok {
			o.withUILocales = append(o.withUILocales, tags...)
		}
	}
}

// WithExtraAuthParams provides additional authorization request parameters,
// such as "prompt" or "login_hint".  Protocol parameters can't be
// overridden.
func WithExtraAuthParams(params map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*beginOptions); ok {
			if o.withExtraAuthParams == nil {
				o.withExtraAuthParams = map[string]string{}
			}
			for k, v := range params {
				o.withExtraAuthParams[k] = v
			}
		}
	}
}

// WithHTTPClient provides the client an HTTPExchanger sends requests with.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*exchangerOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithHTTPTimeout bounds each exchange RPC.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*exchangerOptions); ok {
			o.withTimeout = d
		}
	}
}

// WithCACert provides a CA cert PEM for the exchange service when no
// client is given.
func WithCACert(pem string) Option {
	return func(o interface{}) {
		if o, ok := o.(*exchangerOptions); ok {
			o.withCACert = pem
		}
	}
}
