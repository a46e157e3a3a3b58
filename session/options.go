// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "time"

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

// minterOptions is the set of available options for a JWTMinter.
type minterOptions struct {
	withKeyID    string
	withAudience string
	withTTL      time.Duration
	withNowFunc  func() time.Time
}

func minterDefaults() minterOptions {
	return minterOptions{
		withAudience: FirebaseAudience,
		withTTL:      MaxTTL,
	}
}

func getMinterOpts(opt ...Option) minterOptions {
	opts := minterDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithKeyID provides the "kid" header of minted tokens.
func WithKeyID(id string) Option {
	return func(o interface{}) {
		if o, ok := o.(*minterOptions); ok {
			o.withKeyID = id
		}
	}
}

// WithAudience overrides the "aud" claim of minted tokens.
func WithAudience(aud string) Option {
	return func(o interface{}) {
		if o, ok := o.(*minterOptions); ok {
			o.withAudience = aud
		}
	}
}

// WithTTL provides the lifetime of minted tokens.  It may not exceed MaxTTL.
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*minterOptions); ok {
			o.withTTL = d
		}
	}
}

// WithNow provides an optional func for determining the current time.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*minterOptions); ok {
			o.withNowFunc = now
		}
	}
}
