// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
	"gopkg.in/square/go-jose.v2"
)

const (
	// maxKeySetSize bounds the key set document read from the provider.
	maxKeySetSize = 1 << 20

	// fetchTimeout bounds a shared key set request, which no single caller's
	// context may cancel.
	fetchTimeout = 30 * time.Second
)

// KeySet represents a set of keys that can be used to verify the signatures of JWTs.
// A KeySet is expected to be backed by a set of local or remote keys.
type KeySet interface {

	// VerifySignature parses the given JWT, verifies its signature, and returns the claims in its payload.
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

// JSONWebKeySet verifies JWT signatures using keys obtained from a JWKS URL.
//
// Fetched keys are cached for a bounded freshness window and shared by every
// caller, so a JSONWebKeySet is safe for concurrent use.  A token whose key ID
// is not in the cache triggers one forced refresh before it is rejected, which
// picks up rotated keys without trusting keys the provider has since removed.
// Concurrent refreshes are collapsed into a single request.
type JSONWebKeySet struct {
	jwksURL string
	client  *http.Client
	maxAge  time.Duration
	nowFunc func() time.Time
	logger  hclog.Logger

	mu        sync.RWMutex
	keys      []jose.JSONWebKey
	fetchedAt time.Time

	group singleflight.Group
}

var _ KeySet = (*JSONWebKeySet)(nil)

// NewJSONWebKeySet returns a KeySet that verifies JWT signatures using keys
// from the JSON Web Key Set (JWKS) at the given jwksURL, fetched with client.
//
// Supported options: WithMaxAge, WithNow, WithLogger
func NewJSONWebKeySet(jwksURL string, client *http.Client, opt ...Option) (*JSONWebKeySet, error) {
	const op = "jwt.NewJSONWebKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwksURL must not be empty: %w", op, ErrInvalidParameter)
	}
	if client == nil {
		return nil, fmt.Errorf("%s: http client is nil: %w", op, ErrInvalidParameter)
	}
	opts := getKeySetOpts(opt...)
	if opts.withMaxAge <= 0 {
		return nil, fmt.Errorf("%s: max age must be greater than zero: %w", op, ErrInvalidParameter)
	}
	return &JSONWebKeySet{
		jwksURL: jwksURL,
		client:  client,
		maxAge:  opts.withMaxAge,
		nowFunc: opts.withNowFunc,
		logger:  opts.withLogger,
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using JWKS keys, and returns
// the claims in its payload. The given JWT must be of the JWS compact serialization form.
func (ks *JSONWebKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "JSONWebKeySet.VerifySignature"
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrMalformedToken, err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("%s: expected exactly one signature: %w", op, ErrMalformedToken)
	}
	hdr := jws.Signatures[0].Header

	keys, err := ks.keysFor(ctx, hdr.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, k := range keys {
		if k.Algorithm != "" && k.Algorithm != hdr.Algorithm {
			continue
		}
		payload, err := jws.Verify(k.Key)
		if err != nil {
			continue
		}
		allClaims := map[string]interface{}{}
		if err := json.Unmarshal(payload, &allClaims); err != nil {
			return nil, fmt.Errorf("%s: unable to decode claims: %w: %s", op, ErrMalformedToken, err)
		}
		return allClaims, nil
	}
	return nil, fmt.Errorf("%s: no known key validated the token signature: %w", op, ErrInvalidSignature)
}

// keysFor returns the cached keys that match kid, refreshing the cache when
// it is stale or when kid is unknown.  An empty kid matches every key.
func (ks *JSONWebKeySet) keysFor(ctx context.Context, kid string) ([]jose.JSONWebKey, error) {
	keys, fresh := ks.cached()
	refreshed := false
	if !fresh {
		var err error
		if keys, err = ks.refresh(ctx); err != nil {
			return nil, err
		}
		refreshed = true
	}
	if found := matchKeys(keys, kid); len(found) > 0 {
		return found, nil
	}
	if refreshed {
		return nil, fmt.Errorf("key id %q: %w", kid, ErrUnknownKeyID)
	}

	ks.logger.Debug("unknown key id, refreshing key set", "kid", kid)
	keys, err := ks.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if found := matchKeys(keys, kid); len(found) > 0 {
		return found, nil
	}
	return nil, fmt.Errorf("key id %q: %w", kid, ErrUnknownKeyID)
}

func (ks *JSONWebKeySet) cached() ([]jose.JSONWebKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if len(ks.keys) == 0 {
		return nil, false
	}
	return ks.keys, ks.now().Sub(ks.fetchedAt) < ks.maxAge
}

// refresh fetches the key set and replaces the cache.  Concurrent callers
// share one request, which runs detached from any caller's cancellation;
// each caller stops waiting when its own ctx is done.  On failure the cache
// is left untouched but is never returned, so stale keys are not trusted
// past their window.
func (ks *JSONWebKeySet) refresh(ctx context.Context) ([]jose.JSONWebKey, error) {
	ch := ks.group.DoChan(ks.jwksURL, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		keys, err := ks.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		ks.mu.Lock()
		ks.keys = keys
		ks.fetchedAt = ks.now()
		ks.mu.Unlock()
		ks.logger.Debug("refreshed key set", "url", ks.jwksURL, "keys", len(keys))
		return keys, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrKeySetUnreachable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]jose.JSONWebKey), nil
	}
}

func (ks *JSONWebKeySet) fetch(ctx context.Context) ([]jose.JSONWebKey, error) {
	const op = "JSONWebKeySet.fetch"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrKeySetUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: unable to read response: %s", op, ErrKeySetUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: unexpected status %d", op, ErrKeySetUnreachable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidKeySet, err)
	}
	keys := make([]jose.JSONWebKey, 0, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		// only asymmetric public keys can verify a provider signature
		switch k.Key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: no usable signing keys: %w", op, ErrInvalidKeySet)
	}
	return keys, nil
}

func (ks *JSONWebKeySet) now() time.Time {
	if ks.nowFunc != nil {
		return ks.nowFunc()
	}
	return time.Now()
}

func matchKeys(keys []jose.JSONWebKey, kid string) []jose.JSONWebKey {
	if kid == "" {
		return keys
	}
	var found []jose.JSONWebKey
	for _, k := range keys {
		if k.KeyID == kid {
			found = append(found, k)
		}
	}
	return found
}
