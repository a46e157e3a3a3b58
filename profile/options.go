// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package profile

import "time"

// DefaultCollection is the Firestore collection profiles are written to.
const DefaultCollection = "users"

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

// storeOptions is the set of available options for the stores.
type storeOptions struct {
	withCollection string
	withDatabase   string
	withNowFunc    func() time.Time
}

func storeDefaults() storeOptions {
	return storeOptions{
		withCollection: DefaultCollection,
		withNowFunc:    time.Now,
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithCollection provides the Firestore collection name.
func WithCollection(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && name != "" {
			o.withCollection = name
		}
	}
}

// WithDatabase provides a Firestore database other than "(default)".
func WithDatabase(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withDatabase = name
		}
	}
}

// WithNow provides an optional func for determining the current time.  It
// sets the update time of MemoryStore and SQLiteStore records; Firestore
// always uses its server timestamp.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}
