// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/pkcebridge/flow"
)

type config struct {
	ClientID     string        `env:"PKCEBRIDGE_CLIENT_ID,required"`
	AuthURL      string        `env:"PKCEBRIDGE_AUTH_URL,required"`
	ExchangeURL  string        `env:"PKCEBRIDGE_EXCHANGE_URL,required"`
	CallbackPort int           `env:"PKCEBRIDGE_CALLBACK_PORT" envDefault:"8250"`
	Scopes       []string      `env:"PKCEBRIDGE_SCOPES" envSeparator:","`
	UILocales    []string      `env:"PKCEBRIDGE_UI_LOCALES" envSeparator:","`
	Timeout      time.Duration `env:"PKCEBRIDGE_LOGIN_TIMEOUT" envDefault:"2m"`
	ExchangeCA   string        `env:"PKCEBRIDGE_EXCHANGE_CA_FILE"`
	LogLevel     string        `env:"PKCEBRIDGE_LOG_LEVEL" envDefault:"warn"`
}

func loadConfig(environ map[string]string) (*config, error) {
	const op = "main.loadConfig"
	var c config
	if err := env.ParseWithOptions(&c, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if c.CallbackPort <= 0 || c.CallbackPort > 65535 {
		return nil, fmt.Errorf("%s: callback port %d is out of range", op, c.CallbackPort)
	}
	if c.Timeout <= 0 {
		return nil, fmt.Errorf("%s: login timeout must be positive", op)
	}
	return &c, nil
}

func (c *config) redirectURL() string {
	return fmt.Sprintf("http://localhost:%d/callback", c.CallbackPort)
}

func (c *config) flowConfig() *flow.Config {
	return &flow.Config{
		ClientID:    c.ClientID,
		AuthURL:     c.AuthURL,
		RedirectURL: c.redirectURL(),
		Scopes:      c.Scopes,
	}
}
