// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"

	"github.com/hashicorp/pkcebridge/flow"
)

const successHTML = `<!doctype html>
<html><head><title>Login complete</title></head>
<body><p>Login complete. You can close this window.</p></body></html>`

const failedHTML = `<!doctype html>
<html><head><title>Login failed</title></head>
<body><p>%s</p></body></html>`

type loginResult struct {
	result *flow.Result
	err    error
}

// callbackHandler hands the provider's redirect to c and reports the outcome
// on the returned channel.  Only the first redirect is handled.
func callbackHandler(ctx context.Context, c *flow.Controller) (http.HandlerFunc, <-chan loginResult) {
	doneCh := make(chan loginResult, 1)
	handled := make(chan struct{}, 1)
	return func(w http.ResponseWriter, req *http.Request) {
		select {
		case handled <- struct{}{}:
		default:
			w.WriteHeader(http.StatusGone)
			return
		}
		r, err := c.HandleCallback(ctx, req.URL.Query())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err != nil {
			w.WriteHeader(r.Category.HTTPStatus())
			_, _ = fmt.Fprintf(w, failedHTML, html.EscapeString(r.Message))
		} else {
			_, _ = w.Write([]byte(successHTML))
		}
		doneCh <- loginResult{result: r, err: err}
	}, doneCh
}

// authURLNavigator prints the authorization URL to out and opens it with
// open, when open is not nil.  A browser that can't be opened is not an
// error since the URL can be visited manually.
func authURLNavigator(out io.Writer, open func(string) error) flow.Navigator {
	return flow.NavigatorFunc(func(_ context.Context, u string) error {
		_, _ = fmt.Fprintf(out, "Complete the login via your identity provider:\n\n    %s\n\n", u)
		if open == nil {
			return nil
		}
		if err := open(u); err != nil {
			_, _ = fmt.Fprintf(out, "Unable to open a browser (%s). Please visit the URL manually.\n", err)
		}
		return nil
	})
}
