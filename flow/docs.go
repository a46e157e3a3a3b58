// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
flow is a package for the browser side of a PKCE authorization code login.

A Controller drives one login attempt at a time through these states:

	Idle -> Pending -> Exchanging -> Authenticated
	           |            |
	           +-> Failed <-+

Begin generates the PKCE verifier and the CSRF state, saves them as a
PendingLogin in a Store and returns (and optionally navigates to) the
provider's authorization URL.  The navigation is a process boundary: the
callback is handled by a new Controller, which finds the attempt only through
the Store.

HandleCallback validates the provider's redirect and, only when the state
matches the pending attempt, sends the code and verifier to the backend
Exchanger.  The PendingLogin is cleared on every path before the exchange is
issued, so a verifier is never used twice.

Stores provided by the package

* MemoryStore: a single slot held in process memory.

* jsbrowser.SessionStorage (js/wasm): the tab scoped window.sessionStorage.
*/
package flow
