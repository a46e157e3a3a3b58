// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for the backend half of an OIDC authorization code flow
protected by PKCE (RFC 7636), where the browser holds the code verifier and a
backend exchanges the code for tokens.

Primary types provided by the package

* CodeVerifier: a high entropy, single use PKCE secret and its S256
challenge.

* State: an unguessable CSRF value bound to one login attempt.  Comparisons
are made in constant time.

* Config: the backend configuration for a provider: issuer, client ID and
optional secret, redirect allowlist, signing algorithms, endpoints (explicit
or discovered) and timeouts.

* Provider: exchanges a code and verifier at the token endpoint, exactly once,
and verifies the returned id_token against the provider's cached signing
keys.

* ExchangeRequest, ExchangeResponse and ErrorResponse: the wire shape of the
exchange RPC between the browser and the backend.

* Err and Category: the closed set of error categories surfaced to callers,
each with a fixed public message and HTTP status.

The oidc.callback package

The callback package creates an http.HandlerFunc serving the exchange RPC.

Testing

TestProvider is a local TLS provider that enforces PKCE, which makes
writing tests of both halves of the flow much easier.
*/
package oidc
