// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package exchange

import (
	"strings"

	"github.com/hashicorp/go-hclog"
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

// serviceOptions is the set of available options for a Service.
type serviceOptions struct {
	withLogger        hclog.Logger
	withCustomClaims  []string
	withSubjectIDFunc func(sub string) string
}

func serviceDefaults() serviceOptions {
	return serviceOptions{
		withLogger:        hclog.NewNullLogger(),
		withSubjectIDFunc: DefaultSubjectID,
	}
}

func getServiceOpts(opt ...Option) serviceOptions {
	opts := serviceDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithCustomClaims names id_token claims that are copied into the profile and
// into the minted credential when present.
func WithCustomClaims(names ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok {
			for _, n := range names {
				if n = strings.TrimSpace(n); n != "" {
					o.withCustomClaims = append(o.withCustomClaims, n)
				}
			}
		}
	}
}

// WithSubjectIDFunc overrides how the stable subject id is derived from the
// "sub" claim.
func WithSubjectIDFunc(fn func(sub string) string) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok && fn != nil {
			o.withSubjectIDFunc = fn
		}
	}
}
