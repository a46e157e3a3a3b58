// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build js && wasm

// Package jsbrowser binds a flow.Controller to a browser tab when compiled to
// WebAssembly: the pending login lives in the tab's sessionStorage and
// navigation goes through window.location.
package jsbrowser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"syscall/js"

	"github.com/hashicorp/pkcebridge/flow"
)

// DefaultStorageKey is the sessionStorage key of the pending login.
const DefaultStorageKey = "pkcebridge.pending_login"

// ErrNoSessionStorage is returned when the tab has no usable sessionStorage.
var ErrNoSessionStorage = errors.New("session storage is unavailable")

// SessionStorage is a flow.Store backed by window.sessionStorage, which is
// scoped to the tab and discarded when it closes.
type SessionStorage struct {
	key string
}

var _ flow.Store = (*SessionStorage)(nil)

// NewSessionStorage creates a SessionStorage.  An empty key uses
// DefaultStorageKey.
func NewSessionStorage(key string) *SessionStorage {
	if key == "" {
		key = DefaultStorageKey
	}
	return &SessionStorage{key: key}
}

func sessionStorage() (js.Value, error) {
	s := js.Global().Get("sessionStorage")
	if s.IsUndefined() || s.IsNull() {
		return js.Value{}, ErrNoSessionStorage
	}
	return s, nil
}

// Save replaces any stored login.
func (s *SessionStorage) Save(_ context.Context, p *flow.PendingLogin) (err error) {
	const op = "jsbrowser.(SessionStorage).Save"
	if p == nil {
		return fmt.Errorf("%s: pending login is nil", op)
	}
	storage, err := sessionStorage()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer recoverJS(op, &err) // setItem throws when storage is full or disabled
	storage.Call("setItem", s.key, string(b))
	return nil
}

// Load returns the stored login, or nil when there is none.
func (s *SessionStorage) Load(_ context.Context) (p *flow.PendingLogin, err error) {
	const op = "jsbrowser.(SessionStorage).Load"
	storage, err := sessionStorage()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer recoverJS(op, &err)
	v := storage.Call("getItem", s.key)
	if v.IsNull() || v.IsUndefined() {
		return nil, nil
	}
	var out flow.PendingLogin
	if err := json.Unmarshal([]byte(v.String()), &out); err != nil {
		return nil, fmt.Errorf("%s: stored login is corrupt: %w", op, err)
	}
	return &out, nil
}

// Clear removes the stored login.
func (s *SessionStorage) Clear(_ context.Context) (err error) {
	const op = "jsbrowser.(SessionStorage).Clear"
	storage, err := sessionStorage()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer recoverJS(op, &err)
	storage.Call("removeItem", s.key)
	return nil
}

// Navigator navigates the tab with window.location.assign.
var Navigator = flow.NavigatorFunc(func(_ context.Context, u string) (err error) {
	const op = "jsbrowser.Navigator"
	defer recoverJS(op, &err)
	js.Global().Get("location").Call("assign", u)
	return nil
})

// CallbackParams returns the query of the tab's current location and removes
// it from the address bar and history, so the code can't be replayed with
// the back button.
func CallbackParams() (url.Values, error) {
	const op = "jsbrowser.CallbackParams"
	loc := js.Global().Get("location")
	u, err := url.Parse(loc.Get("href").String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	params := u.Query()
	u.RawQuery = ""
	if history := js.Global().Get("history"); !history.IsUndefined() {
		history.Call("replaceState", js.Null(), "", u.String())
	}
	return params, nil
}

// HandleCallback hands the tab's current location to c.
func HandleCallback(ctx context.Context, c *flow.Controller) (*flow.Result, error) {
	params, err := CallbackParams()
	if err != nil {
		return nil, err
	}
	return c.HandleCallback(ctx, params)
}

func recoverJS(op string, err *error) {
	if r := recover(); r != nil {
		if jsErr, ok := r.(js.Error); ok {
			*err = fmt.Errorf("%s: %w", op, jsErr)
			return
		}
		panic(r)
	}
}
