// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pkcebridge/exchange"
	"github.com/hashicorp/pkcebridge/oidc"
	"github.com/hashicorp/pkcebridge/oidc/callback"
	"github.com/hashicorp/pkcebridge/oidc/clientassertion"
	"github.com/hashicorp/pkcebridge/profile"
	"github.com/hashicorp/pkcebridge/session"
	"github.com/rs/cors"
)

// corsMaxAge is how long browsers may cache a preflight, in seconds.
const corsMaxAge = 600

// newHandler serves the exchange RPC at path, with CORS, and a health check.
func newHandler(svc callback.Exchanger, path string, origins []string, logger hclog.Logger) (http.Handler, error) {
	const op = "main.newHandler"
	h, err := callback.Exchange(svc, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         corsMaxAge,
	})
	if logger.IsTrace() {
		c.Log = logger.Named("cors").StandardLogger(&hclog.StandardLoggerOptions{ForceLevel: hclog.Trace})
	}

	mux := http.NewServeMux()
	mux.Handle(path, c.Handler(h))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return logRequests(mux, logger.Named("http")), nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler, logger hclog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		logger.Debug("request", "method", req.Method, "path", req.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

// newService wires the exchange service from c.  The returned func releases
// the profile store.
func newService(ctx context.Context, c *config, logger hclog.Logger) (*exchange.Service, func() error, error) {
	const op = "main.newService"
	algs, err := c.algs()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := []oidc.Option{
		oidc.WithAllowedRedirectURLs(c.AllowedRedirectURLs...),
		oidc.WithEndpoints(c.TokenURL, c.JWKSURL),
		oidc.WithExchangeTimeout(c.ExchangeTimeout),
	}
	if c.Discovery {
		opts = append(opts, oidc.WithDiscovery())
	}
	if c.ProviderCAFile != "" {
		pem, err := os.ReadFile(c.ProviderCAFile)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: unable to read provider CA: %w", op, err)
		}
		opts = append(opts, oidc.WithProviderCA(string(pem)))
	}
	if c.ClientAssertionKeyFile != "" {
		j, err := newClientAssertion(c)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, oidc.WithClientAssertion(j))
	}
	pc, err := oidc.NewConfig(c.Issuer, c.ClientID, oidc.ClientSecret(c.ClientSecret), algs, c.RedirectURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	p, err := oidc.NewProvider(ctx, pc, oidc.WithLogger(logger.Named("provider")))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	keyFile, err := os.ReadFile(c.ServiceAccountFile)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to read service account: %w", op, err)
	}
	m, err := session.NewJWTMinterFromServiceAccount(keyFile, session.WithTTL(c.SessionTTL))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	store, closeStore, err := newProfileStore(ctx, c)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	svc, err := exchange.NewService(p, p, store, m,
		exchange.WithLogger(logger.Named("exchange")),
		exchange.WithCustomClaims(c.CustomClaims...),
	)
	if err != nil {
		_ = closeStore()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return svc, closeStore, nil
}

func newProfileStore(ctx context.Context, c *config) (profile.Store, func() error, error) {
	const op = "main.newProfileStore"
	opts := []profile.Option{profile.WithCollection(c.ProfileCollection)}
	switch c.ProfileStore {
	case storeFirestore:
		if c.FirestoreDatabase != "" {
			opts = append(opts, profile.WithDatabase(c.FirestoreDatabase))
		}
		s, err := profile.NewFirestoreStore(ctx, c.FirestoreProject, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return s, s.Close, nil
	case storeSQLite:
		s, err := profile.OpenSQLiteStore(c.SQLitePath, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return s, s.Close, nil
	case storeMemory:
		return profile.NewMemoryStore(opts...), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%s: unknown profile store %q", op, c.ProfileStore)
	}
}

func newClientAssertion(c *config) (*clientassertion.JWT, error) {
	const op = "main.newClientAssertion"
	pem, err := os.ReadFile(c.ClientAssertionKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read client assertion key: %w", op, err)
	}
	key, err := gojwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var opt []clientassertion.Option
	if c.ClientAssertionKeyID != "" {
		opt = append(opt, clientassertion.WithKeyID(c.ClientAssertionKeyID))
	}
	return clientassertion.NewJWTWithRSAKey(c.ClientID, c.assertionAudience(), clientassertion.RSAlgorithm(c.ClientAssertionAlg), key, opt...)
}
