// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
exchange is a package for the backend exchange service: the stateless handler
invoked once per login attempt that turns an authorization code and PKCE
verifier into a session credential.

Service.Exchange runs, in order: request validation, the token exchange, id_token
verification, the profile upsert and credential minting.  Each step depends on
the previous one and a failure stops the chain.  Every failure is returned as
an *oidc.Err carrying one category; upstream detail is logged and never
placed in the public message.
*/
package exchange
