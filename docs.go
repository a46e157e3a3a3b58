// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// pkcebridge bridges a browser based OIDC authorization code flow with PKCE to
// a backend that exchanges the code, verifies the id_token, records the
// user's profile and mints an application session credential.
//
// The packages are:
//
//	flow       the browser side controller: Begin a login, HandleCallback
//	oidc       PKCE verifiers, state, the exchange RPC messages, the provider
//	           client and the error categories shared by both sides
//	exchange   the backend exchange service
//	profile    profile stores (Firestore, SQLite, in memory)
//	session    session credential minting
//	jwt        id_token signature and claims validation
//
// See cmd/exchange-server and cmd/pkce-login for complete programs.
package pkcebridge
