// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
)

// ExchangeRequest is the body of the exchange RPC the browser sends once the
// provider has redirected back with an authorization code.
type ExchangeRequest struct {
	// Code is the single use authorization code from the provider's redirect.
	Code string `json:"code"`

	// CodeVerifier is the PKCE verifier generated when the attempt began.
	CodeVerifier CodeVerifierValue `json:"codeVerifier"`

	// RedirectUri is the redirect target used in the authorization request.
	// It is optional; the exchange service's configured redirect is used when
	// it's empty.
	RedirectUri string `json:"redirectUri,omitempty"`
}

// Validate checks the request is well formed without contacting the
// provider.
func (r *ExchangeRequest) Validate() error {
	const op = "ExchangeRequest.Validate"
	switch {
	case r == nil:
		return fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	case r.Code == "":
		return fmt.Errorf("%s: code is empty: %w", op, ErrInvalidParameter)
	case !ValidVerifier(string(r.CodeVerifier)):
		return fmt.Errorf("%s: %w", op, ErrInvalidCodeVerifier)
	}
	return nil
}

// ExchangeResponse is the body of a successful exchange RPC.
type ExchangeResponse struct {
	// SessionCredential is the minted credential for the session backend.
	SessionCredential string `json:"sessionCredential"`

	// SubjectId is the stable identifier of the authenticated user.
	SubjectId string `json:"subjectId"`
}

// ErrorResponse is the body of a failed exchange RPC.  Message is always the
// category's generic message.
type ErrorResponse struct {
	Error   Category `json:"error"`
	Message string   `json:"message"`
}

// CodeVerifierValue is a PKCE code verifier as it appears on the wire.  It
// is redacted when printed or logged, but not when sent in an RPC.
type CodeVerifierValue string

// RedactedCodeVerifier is the redacted string for a code verifier.
const RedactedCodeVerifier = "[REDACTED: code_verifier]"

// String will redact the verifier.
func (v CodeVerifierValue) String() string {
	return RedactedCodeVerifier
}

// GoString will redact the verifier.
func (v CodeVerifierValue) GoString() string {
	return RedactedCodeVerifier
}

// MarshalJSON emits the verifier unredacted since it is a wire value.
func (v CodeVerifierValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}
