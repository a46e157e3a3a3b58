// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides the exchange RPC (in the form of an
http.HandlerFunc) a browser calls once the provider has redirected back with
an authorization code.  The handler decodes an oidc.ExchangeRequest, hands it
to an Exchanger and writes the result with pluggable response funcs.
*/
package callback
