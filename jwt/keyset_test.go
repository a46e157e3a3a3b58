// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

const testKeyID = "test-key"

func Test_JSONWebKeySet_VerifySignature(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		alg  Alg
		key  func() (crypto.PrivateKey, crypto.PublicKey)
	}{
		{
			name: "ES256",
			alg:  ES256,
			key: func() (crypto.PrivateKey, crypto.PublicKey) {
				k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
				require.NoError(t, err)
				return k, k.Public()
			},
		},
		{
			name: "ES384",
			alg:  ES384,
			key: func() (crypto.PrivateKey, crypto.PublicKey) {
				k, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
				require.NoError(t, err)
				return k, k.Public()
			},
		},
		{
			name: "RS256",
			alg:  RS256,
			key: func() (crypto.PrivateKey, crypto.PublicKey) {
				k, err := rsa.GenerateKey(rand.Reader, 2048)
				require.NoError(t, err)
				return k, k.Public()
			},
		},
		{
			name: "PS256",
			alg:  PS256,
			key: func() (crypto.PrivateKey, crypto.PublicKey) {
				k, err := rsa.GenerateKey(rand.Reader, 2048)
				require.NoError(t, err)
				return k, k.Public()
			},
		},
		{
			name: "EdDSA",
			alg:  EdDSA,
			key: func() (crypto.PrivateKey, crypto.PublicKey) {
				pub, priv, err := ed25519.GenerateKey(rand.Reader)
				require.NoError(t, err)
				return priv, pub
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			priv, pub := tt.key()
			srv := newTestJWKS(t)
			srv.setKeys(testJWK(pub, tt.alg, testKeyID))

			ks, err := NewJSONWebKeySet(srv.url(), srv.client())
			require.NoError(err)

			claims := testJWTClaims(t)
			got, err := ks.VerifySignature(context.Background(), testSignJWT(t, priv, tt.alg, claims, testKeyID))
			require.NoError(err)
			assert.Equal(claims, got)
		})
	}
}

func Test_JSONWebKeySet_InvalidTokens(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := newTestJWKS(t)
	srv.setKeys(testJWK(priv.Public(), RS256, testKeyID))
	ks, err := NewJSONWebKeySet(srv.url(), srv.client())
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		wantIsErr error
	}{
		{
			name:      "malformed",
			token:     "not-a-jwt",
			wantIsErr: ErrMalformedToken,
		},
		{
			name:      "signed by an unknown key with a known kid",
			token:     testSignJWT(t, other, RS256, testJWTClaims(t), testKeyID),
			wantIsErr: ErrInvalidSignature,
		},
		{
			name:      "unknown kid",
			token:     testSignJWT(t, other, RS256, testJWTClaims(t), "rotated-away"),
			wantIsErr: ErrUnknownKeyID,
		},
		{
			name:      "hmac signed with the public modulus",
			token:     testSignJWT(t, priv.PublicKey.N.Bytes(), Alg("HS256"), testJWTClaims(t), testKeyID),
			wantIsErr: ErrInvalidSignature,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ks.VerifySignature(context.Background(), tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIsErr)
		})
	}
}

func Test_JSONWebKeySet_Cache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rotated, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	t.Run("fresh-cache-is-reused", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := newTestJWKS(t)
		srv.setKeys(testJWK(priv.Public(), RS256, testKeyID))
		ks, err := NewJSONWebKeySet(srv.url(), srv.client())
		require.NoError(err)

		token := testSignJWT(t, priv, RS256, testJWTClaims(t), testKeyID)
		for i := 0; i < 5; i++ {
			_, err := ks.VerifySignature(ctx, token)
			require.NoError(err)
		}
		assert.Equal(int32(1), srv.hits.Load())
	})
	t.Run("stale-cache-is-refreshed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := newTestJWKS(t)
		srv.setKeys(testJWK(priv.Public(), RS256, testKeyID))
		clock := newTestClock()
		ks, err := NewJSONWebKeySet(srv.url(), srv.client(), WithMaxAge(time.Minute), WithNow(clock.Now))
		require.NoError(err)

		token := testSignJWT(t, priv, RS256, testJWTClaims(t), testKeyID)
		_, err = ks.VerifySignature(ctx, token)
		require.NoError(err)
		clock.Advance(59 * time.Second)
		_, err = ks.VerifySignature(ctx, token)
		require.NoError(err)
		assert.Equal(int32(1), srv.hits.Load())

		clock.Advance(2 * time.Second)
		_, err = ks.VerifySignature(ctx, token)
		require.NoError(err)
		assert.Equal(int32(2), srv.hits.Load())
	})
	t.Run("unknown-kid-forces-one-refresh", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := newTestJWKS(t)
		srv.setKeys(testJWK(priv.Public(), RS256, testKeyID))
		ks, err := NewJSONWebKeySet(srv.url(), srv.client())
		require.NoError(err)

		_, err = ks.VerifySignature(ctx, testSignJWT(t, priv, RS256, testJWTClaims(t), testKeyID))
		require.NoError(err)

		srv.setKeys(testJWK(rotated.Public(), RS256, "rotated"))
		_, err = ks.VerifySignature(ctx, testSignJWT(t, rotated, RS256, testJWTClaims(t), "rotated"))
		require.NoError(err)
		assert.Equal(int32(2), srv.hits.Load())

		_, err = ks.VerifySignature(ctx, testSignJWT(t, priv, RS256, testJWTClaims(t), "never-published"))
		require.Error(err)
		assert.ErrorIs(err, ErrUnknownKeyID)
		assert.Equal(int32(3), srv.hits.Load())
	})
	t.Run("failed-refresh-never-uses-stale-keys", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := newTestJWKS(t)
		srv.setKeys(testJWK(priv.Public(), RS256, testKeyID))
		clock := newTestClock()
		ks, err := NewJSONWebKeySet(srv.url(), srv.client(), WithMaxAge(time.Minute), WithNow(clock.Now))
		require.NoError(err)

		token := testSignJWT(t, priv, RS256, testJWTClaims(t), testKeyID)
		_, err = ks.VerifySignature(ctx, token)
		require.NoError(err)

		srv.setStatus(http.StatusServiceUnavailable)
		clock.Advance(2 * time.Minute)
		_, err = ks.VerifySignature(ctx, token)
		require.Error(err)
		assert.ErrorIs(err, ErrKeySetUnreachable)
	})
	t.Run("concurrent-callers-share-one-fetch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := newTestJWKS(t)
		srv.setKeys(testJWK(priv.Public(), RS256, testKeyID))
		ks, err := NewJSONWebKeySet(srv.url(), srv.client())
		require.NoError(err)

		token := testSignJWT(t, priv, RS256, testJWTClaims(t), testKeyID)
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ks.VerifySignature(ctx, token)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(err)
		}
		assert.Equal(int32(1), srv.hits.Load())
	})
}

func Test_JSONWebKeySet_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(err)

	var hits atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{testJWK(priv.Public(), RS256, testKeyID)}})
	}))
	t.Cleanup(srv.Close)
	ks, err := NewJSONWebKeySet(srv.URL+"/jwks", srv.Client())
	require.NoError(err)
	token := testSignJWT(t, priv, RS256, testJWTClaims(t), testKeyID)

	cancelled, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := ks.VerifySignature(cancelled, token)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, err := ks.VerifySignature(context.Background(), token)
		secondErr <- err
	}()
	// let the second caller join the fetch in flight
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		require.Error(err)
		assert.ErrorIs(err, context.Canceled)
		assert.ErrorIs(err, ErrKeySetUnreachable)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting for the shared fetch")
	}

	close(release)
	select {
	case err := <-secondErr:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never completed")
	}
	assert.Equal(int32(1), hits.Load())
}

func Test_JSONWebKeySet_SkipsUnusableKeys(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	srv := newTestJWKS(t)
	srv.setKeys(jose.JSONWebKey{Key: []byte("shared-secret"), KeyID: testKeyID, Algorithm: "HS256", Use: "sig"})
	ks, err := NewJSONWebKeySet(srv.url(), srv.client())
	require.NoError(err)

	_, err = ks.VerifySignature(context.Background(), testSignJWT(t, []byte("shared-secret"), Alg("HS256"), testJWTClaims(t), testKeyID))
	require.Error(err)
	assert.ErrorIs(err, ErrInvalidKeySet)
}

func TestNewJSONWebKeySet(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		url       string
		client    *http.Client
		opts      []Option
		wantIsErr error
	}{
		{name: "valid", url: "https://example.com/jwks", client: http.DefaultClient},
		{name: "empty-url", client: http.DefaultClient, wantIsErr: ErrInvalidParameter},
		{name: "nil-client", url: "https://example.com/jwks", wantIsErr: ErrInvalidParameter},
		{
			name:      "zero-max-age",
			url:       "https://example.com/jwks",
			client:    http.DefaultClient,
			opts:      []Option{WithMaxAge(0)},
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewJSONWebKeySet(tt.url, tt.client, tt.opts...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.Equal(DefaultMaxAge, got.maxAge)
		})
	}
}

// testJWKS is a JWKS endpoint whose keys and status can be changed
// between requests.
type testJWKS struct {
	srv  *httptest.Server
	hits atomic.Int32

	mu     sync.Mutex
	keys   []jose.JSONWebKey
	status int
}

func newTestJWKS(t *testing.T) *testJWKS {
	t.Helper()
	s := &testJWKS{status: http.StatusOK}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.status != http.StatusOK {
			w.WriteHeader(s.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: s.keys})
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *testJWKS) url() string           { return s.srv.URL + "/jwks" }
func (s *testJWKS) client() *http.Client { return s.srv.Client() }

func (s *testJWKS) setKeys(keys ...jose.JSONWebKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func (s *testJWKS) setStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Now()} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testJWK(pub crypto.PublicKey, alg Alg, kid string) jose.JSONWebKey {
	return jose.JSONWebKey{Key: pub, KeyID: kid, Algorithm: string(alg), Use: "sig"}
}

func testJWTClaims(t *testing.T) map[string]interface{} {
	t.Helper()
	now := time.Now()
	return map[string]interface{}{
		"iss": "https://example.com/",
		"sub": "auth0|alice",
		"aud": "test-client",
		"exp": float64(now.Add(time.Hour).Unix()),
		"nbf": float64(now.Add(-time.Minute).Unix()),
		"iat": float64(now.Add(-time.Minute).Unix()),
	}
}

func testSignJWT(t *testing.T, key interface{}, alg Alg, claims interface{}, keyID string) string {
	t.Helper()
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: jose.JSONWebKey{Key: key, KeyID: keyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	raw, err := jwt.Signed(sig).
		Claims(claims).
		CompactSerialize()
	require.NoError(t, err)
	return raw
}
