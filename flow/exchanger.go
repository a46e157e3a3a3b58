// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/pkcebridge/oidc"
	sdkHttp "github.com/hashicorp/pkcebridge/sdk/http"
)

// maxResponseSize bounds the exchange RPC response body.
const maxResponseSize = 64 << 10

// Exchanger sends the exchange RPC.  *exchange.Service satisfies it when the
// controller and the service share a process.
type Exchanger interface {
	Exchange(ctx context.Context, req *oidc.ExchangeRequest) (*oidc.ExchangeResponse, error)
}

// HTTPExchanger is an Exchanger calling the exchange service over HTTP.
type HTTPExchanger struct {
	url    string
	client *http.Client
}

var _ Exchanger = (*HTTPExchanger)(nil)

// NewHTTPExchanger creates an HTTPExchanger posting to exchangeURL.
//
// Supported options: WithHTTPClient, WithHTTPTimeout, WithCACert
func NewHTTPExchanger(exchangeURL string, opt ...Option) (*HTTPExchanger, error) {
	const op = "flow.NewHTTPExchanger"
	u, err := url.Parse(exchangeURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, oidc.NewError(oidc.ConfigurationError, oidc.WithOp(op),
			oidc.WithMsg(fmt.Sprintf("exchange URL %q is not an absolute http(s) URL", exchangeURL)), oidc.WithWrap(oidc.ErrInvalidParameter))
	}
	opts := getExchangerOpts(opt...)
	if opts.withTimeout <= 0 {
		return nil, oidc.NewError(oidc.ConfigurationError, oidc.WithOp(op), oidc.WithMsg("timeout must be positive"), oidc.WithWrap(oidc.ErrInvalidParameter))
	}
	client := opts.withHTTPClient
	if client == nil {
		if client, err = sdkHttp.NewClient(opts.withCACert); err != nil {
			return nil, oidc.NewError(oidc.ConfigurationError, oidc.WithOp(op), oidc.WithMsg("unable to create http client"), oidc.WithWrap(err))
		}
	}
	c := *client
	c.Timeout = opts.withTimeout
	return &HTTPExchanger{url: exchangeURL, client: &c}, nil
}

// Exchange posts req and decodes the result.  Network failures are
// ExchangeUnreachable, a failure response carries the service's category and
// anything unparseable is Internal.
func (e *HTTPExchanger) Exchange(ctx context.Context, req *oidc.ExchangeRequest) (*oidc.ExchangeResponse, error) {
	const op = "flow.(HTTPExchanger).Exchange"
	if req == nil {
		return nil, oidc.NewError(oidc.InvalidRequest, oidc.WithOp(op), oidc.WithWrap(oidc.ErrNilParameter))
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, oidc.NewError(oidc.Internal, oidc.WithOp(op), oidc.WithMsg("unable to encode request"), oidc.WithWrap(err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, oidc.NewError(oidc.Internal, oidc.WithOp(op), oidc.WithMsg("unable to create request"), oidc.WithWrap(err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, oidc.NewError(oidc.ExchangeUnreachable, oidc.WithOp(op), oidc.WithMsg("exchange service unreachable"), oidc.WithWrap(err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, oidc.NewError(oidc.ExchangeUnreachable, oidc.WithOp(op), oidc.WithMsg("unable to read response"), oidc.WithWrap(err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp oidc.ErrorResponse
		if err := json.Unmarshal(raw, &errResp); err != nil || !errResp.Error.Known() {
			return nil, oidc.NewError(oidc.Internal, oidc.WithOp(op), oidc.WithMsg(fmt.Sprintf("unexpected response status %d", resp.StatusCode)))
		}
		return nil, oidc.NewError(errResp.Error, oidc.WithOp(op), oidc.WithMsg(fmt.Sprintf("exchange service returned status %d", resp.StatusCode)))
	}

	var out oidc.ExchangeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, oidc.NewError(oidc.Internal, oidc.WithOp(op), oidc.WithMsg("malformed exchange response"), oidc.WithWrap(err))
	}
	if out.SessionCredential == "" || out.SubjectId == "" {
		return nil, oidc.NewError(oidc.Internal, oidc.WithOp(op), oidc.WithMsg("exchange response is missing the credential or subject id"))
	}
	return &out, nil
}
