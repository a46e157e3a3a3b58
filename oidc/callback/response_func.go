// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hashicorp/pkcebridge/oidc"
)

// SuccessResponseFunc is used by Exchange to create a http response when the
// exchange is successful.
//
// The oidc.ExchangeResponse carries the minted session credential.  The
// function should use the http.ResponseWriter to send back whatever content
// (headers, JSON, etc) it wishes to the browser that originated the flow.
type SuccessResponseFunc func(resp *oidc.ExchangeResponse, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Exchange to create a http response when the
// exchange fails.
//
// The error may carry upstream detail, so the function must not write it to
// the response as is.  Use (*oidc.Err).Public for a browser safe body.
type ErrorResponseFunc func(e error, w http.ResponseWriter, req *http.Request)

// JSONSuccess is the default SuccessResponseFunc.  It writes the response
// as JSON with a 200 status.
func JSONSuccess(resp *oidc.ExchangeResponse, w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, resp)
}

// JSONError is the default ErrorResponseFunc.  It writes only the category
// and its generic message, with the category's status code.  Errors that
// don't carry a category are written as an internal error.
func JSONError(e error, w http.ResponseWriter, _ *http.Request) {
	var oidcErr *oidc.Err
	if !errors.As(e, &oidcErr) {
		oidcErr = &oidc.Err{Category: oidc.Internal}
	}
	pub := oidcErr.Public()
	writeJSON(w, pub.Error.HTTPStatus(), pub)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
