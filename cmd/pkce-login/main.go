// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Command pkce-login signs in from a terminal: it opens the system browser at
// the provider, receives the redirect on a localhost listener and prints the
// session credential returned by the exchange service.  It is configured with
// PKCEBRIDGE_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pkcebridge/flow"
	"github.com/hashicorp/pkcebridge/oidc"
	"github.com/pkg/browser"
)

func main() {
	noBrowser := flag.Bool("no-browser", false, "print the authorization URL instead of opening a browser")
	flag.Parse()

	c, err := loadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "pkce-login",
		Level:  hclog.LevelFromString(c.LogLevel),
		Output: os.Stderr,
	})

	// handle ctrl-c while waiting for the callback
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	resp, err := login(ctx, c, logger, *noBrowser)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %s\n", err)
		os.Exit(1)
	}
	out, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func login(ctx context.Context, c *config, logger hclog.Logger, noBrowser bool) (*oidc.ExchangeResponse, error) {
	const op = "main.login"
	var exOpts []flow.Option
	if c.ExchangeCA != "" {
		pem, err := os.ReadFile(c.ExchangeCA)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read exchange CA: %w", op, err)
		}
		exOpts = append(exOpts, flow.WithCACert(string(pem)))
	}
	ex, err := flow.NewHTTPExchanger(c.ExchangeURL, exOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var resp *oidc.ExchangeResponse
	consumer := flow.SessionConsumerFunc(func(_ context.Context, r *oidc.ExchangeResponse) error {
		resp = r
		return nil
	})
	openURL := browser.OpenURL
	if noBrowser {
		openURL = nil
	}
	controller, err := flow.NewController(c.flowConfig(), flow.NewMemoryStore(), ex,
		flow.WithNavigator(authURLNavigator(os.Stderr, openURL)),
		flow.WithSessionConsumer(consumer),
		flow.WithLogger(logger.Named("flow")),
		flow.WithAttemptExpiry(c.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", c.CallbackPort))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	handler, doneCh := callbackHandler(ctx, controller)
	mux := http.NewServeMux()
	mux.Handle("/callback", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srvCh := make(chan error, 1)
	go func() {
		srvCh <- srv.Serve(listener)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// a terminal has no location to restore, so no return-to is recorded and
	// the navigator only ever sees the authorization URL
	if _, err := controller.Begin(ctx, flow.WithUILocales(c.UILocales...)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	timer := time.NewTimer(c.Timeout)
	defer timer.Stop()
	select {
	case done := <-doneCh:
		if done.err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, done.result.Message, done.err)
		}
		return resp, nil
	case err := <-srvCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return nil, fmt.Errorf("%s: callback listener: %w", op, err)
		}
		return nil, fmt.Errorf("%s: callback listener closed", op)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: interrupted: %w", op, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("%s: timed out waiting for the identity provider", op)
	}
}
