// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package jwt verifies the signature and claims of JSON Web Tokens issued by an
OIDC provider.

A JSONWebKeySet fetches the provider's signing keys from its JWKS endpoint and
caches them for a bounded window.  A token naming a key ID that is not cached
triggers a single forced refresh, so key rotation is picked up without
re-fetching on every request.

A Validator checks, in order: the header algorithm against an allow list, the
signature, the audience, the issuer and finally the exp/nbf window with a
clock skew leeway.  Symmetric algorithms and "none" are never accepted.
*/
package jwt
