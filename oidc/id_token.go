// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import "encoding/json"

// IdToken is an oidc id_token.
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token.
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token.
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}
