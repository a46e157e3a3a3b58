// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultMaxAge is the default freshness window of a JSONWebKeySet.
const DefaultMaxAge = 5 * time.Minute

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type keySetOptions struct {
	withMaxAge  time.Duration
	withNowFunc func() time.Time
	withLogger  hclog.Logger
}

func keySetDefaults() keySetOptions {
	return keySetOptions{
		withMaxAge: DefaultMaxAge,
		withLogger: hclog.NewNullLogger(),
	}
}

// getKeySetOpts gets the defaults and applies the opt overrides passed
// in.
func getKeySetOpts(opt ...Option) keySetOptions {
	opts := keySetDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

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

// WithMaxAge provides the freshness window for cached keys.
func WithMaxAge(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *keySetOptions:
			v.withMaxAge = d
		}
	}
}

// WithNow provides an optional func for determining the current time.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *keySetOptions:
			v.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *keySetOptions:
			if l != nil {
				v.withLogger = l
			}
		}
	}
}
