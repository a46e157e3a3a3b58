// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/pkcebridge/oidc"
)

// maxRequestSize bounds the exchange RPC body.
const maxRequestSize = 64 << 10

// Exchanger exchanges an authorization code and verifier for a session
// credential.  exchange.Service is the usual implementation.
type Exchanger interface {
	Exchange(ctx context.Context, req *oidc.ExchangeRequest) (*oidc.ExchangeResponse, error)
}

// Exchange creates the exchange RPC handler.  It accepts a POST with a JSON
// oidc.ExchangeRequest body and calls the Exchanger once per request.
//
// The SuccessResponseFunc is used to create a response when the exchange is
// successful and the ErrorResponseFunc when it fails.  Nil funcs default to
// JSONSuccess and JSONError.
func Exchange(e Exchanger, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.Exchange"
	if e == nil {
		return nil, fmt.Errorf("%s: exchanger is nil: %w", op, oidc.ErrInvalidParameter)
	}
	if sFn == nil {
		sFn = JSONSuccess
	}
	if eFn == nil {
		eFn = JSONError
	}
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		var exchangeReq oidc.ExchangeRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestSize))
		if err := dec.Decode(&exchangeReq); err != nil {
			eFn(oidc.NewError(oidc.InvalidRequest, oidc.WithOp(op), oidc.WithMsg("unable to decode request body"), oidc.WithWrap(err)), w, req)
			return
		}

		resp, err := e.Exchange(req.Context(), &exchangeReq)
		if err != nil {
			eFn(err, w, req)
			return
		}
		sFn(resp, w, req)
	}, nil
}
