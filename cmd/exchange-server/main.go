// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Command exchange-server runs the exchange service: it accepts the exchange
// RPC from browsers, redeems the authorization code at the identity provider
// and returns a session credential.  It is configured with PKCEBRIDGE_*
// environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	c, err := loadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	level, _ := hclogLevel(c.LogLevel)
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "exchange-server",
		Level:      level,
		JSONFormat: c.LogJSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, c, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *config, logger hclog.Logger) error {
	const op = "main.run"
	svc, closeStore, err := newService(ctx, c, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("unable to close profile store", "error", err)
		}
	}()
	h, err := newHandler(svc, c.ExchangePath, c.Origins, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.Named("http").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", c.Addr, "path", c.ExchangePath, "profile_store", c.ProfileStore)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
