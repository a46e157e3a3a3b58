// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/pkcebridge/jwt"
	"github.com/hashicorp/pkcebridge/oidc/clientassertion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)

	t.Run("explicit-endpoints", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, err := NewProvider(ctx, tp.NewTestConfig())
		require.NoError(err)
		assert.Equal(tp.TokenURL(), p.TokenURL())
		assert.Equal(tp.JWKSURL(), p.JWKSURL())
	})
	t.Run("discovery", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig(tp.Addr(), TestClientID, TestClientSecret, []jwt.Alg{jwt.RS256}, TestRedirectURL,
			WithDiscovery(), WithProviderCA(tp.CACert()))
		require.NoError(err)
		p, err := NewProvider(ctx, c)
		require.NoError(err)
		assert.Equal(tp.TokenURL(), p.TokenURL())
		assert.Equal(tp.JWKSURL(), p.JWKSURL())
	})
	t.Run("discovery-issuer-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig(tp.Addr()+"/tenant", TestClientID, TestClientSecret, []jwt.Alg{jwt.RS256}, TestRedirectURL,
			WithDiscovery(), WithProviderCA(tp.CACert()))
		require.NoError(err)
		_, err = NewProvider(ctx, c)
		require.Error(err)
		assert.Equal(ConfigurationError, CategoryOf(err))
	})
	t.Run("nil-config", func(t *testing.T) {
		_, err := NewProvider(ctx, nil)
		require.Error(t, err)
		assert.Equal(t, ConfigurationError, CategoryOf(err))
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("invalid-config", func(t *testing.T) {
		_, err := NewProvider(ctx, &Config{Issuer: "https://idp.example.com"})
		require.Error(t, err)
		assert.Equal(t, ConfigurationError, CategoryOf(err))
	})
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	type setup struct {
		tp       *TestProvider
		p        *Provider
		verifier *CodeVerifier
		code     string
	}
	newSetup := func(t *testing.T, opt ...Option) *setup {
		t.Helper()
		tp := StartTestProvider(t)
		p, err := NewProvider(ctx, tp.NewTestConfig(opt...))
		require.NoError(t, err)
		v, err := NewCodeVerifier()
		require.NoError(t, err)
		return &setup{tp: tp, p: p, verifier: v, code: tp.IssueCode(v.Challenge(), TestRedirectURL)}
	}

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := newSetup(t)
		tk, err := s.p.Exchange(ctx, s.code, s.verifier.Verifier(), "")
		require.NoError(err)
		assert.NotEmpty(tk.IdToken)
		assert.NotEmpty(tk.AccessToken)
		assert.Equal(1, s.tp.TokenRequests())

		claims, err := s.p.VerifyIdToken(ctx, tk.IdToken)
		require.NoError(err)
		assert.Equal(TestSubject, claims.Subject)
	})
	t.Run("public-client", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		tp.SetClientCreds(TestClientID, "")
		p, err := NewProvider(ctx, tp.NewTestConfig())
		require.NoError(err)
		v, err := NewCodeVerifier()
		require.NoError(err)
		_, err = p.Exchange(ctx, tp.IssueCode(v.Challenge(), TestRedirectURL), v.Verifier(), "")
		require.NoError(err)
	})
	t.Run("client-assertion", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(err)
		tp := StartTestProvider(t)
		tp.SetClientAssertionKey(&key.PublicKey)

		j, err := clientassertion.NewJWTWithRSAKey(TestClientID, []string{tp.TokenURL()}, clientassertion.RS256, key)
		require.NoError(err)
		p, err := NewProvider(ctx, tp.NewTestConfig(WithClientAssertion(j)))
		require.NoError(err)
		v, err := NewCodeVerifier()
		require.NoError(err)
		_, err = p.Exchange(ctx, tp.IssueCode(v.Challenge(), TestRedirectURL), v.Verifier(), "")
		require.NoError(err)

		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(err)
		tp.SetClientAssertionKey(&other.PublicKey)
		_, err = p.Exchange(ctx, tp.IssueCode(v.Challenge(), TestRedirectURL), v.Verifier(), "")
		require.Error(err)
		assert.ErrorIs(err, ErrExchangeRejected)
		assert.Contains(err.Error(), "invalid_client")
	})
	t.Run("allowed-redirect-override", func(t *testing.T) {
		require := require.New(t)
		const alt = "http://127.0.0.1:8400/callback"
		tp := StartTestProvider(t)
		tp.SetAllowedRedirectURIs([]string{TestRedirectURL, alt})
		p, err := NewProvider(ctx, tp.NewTestConfig(WithAllowedRedirectURLs(alt)))
		require.NoError(err)
		v, err := NewCodeVerifier()
		require.NoError(err)
		_, err = p.Exchange(ctx, tp.IssueCode(v.Challenge(), alt), v.Verifier(), alt)
		require.NoError(err)
	})
	t.Run("redirect-not-allowed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := newSetup(t)
		_, err := s.p.Exchange(ctx, s.code, s.verifier.Verifier(), "https://evil.example.com/callback")
		require.Error(err)
		assert.ErrorIs(err, ErrRedirectNotAllowed)
		assert.Equal(0, s.tp.TokenRequests())
	})
	t.Run("malformed-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := newSetup(t)
		_, err := s.p.Exchange(ctx, s.code, "too-short", "")
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidCodeVerifier)
		assert.Equal(0, s.tp.TokenRequests())
	})
	t.Run("empty-code", func(t *testing.T) {
		s := newSetup(t)
		_, err := s.p.Exchange(ctx, "", s.verifier.Verifier(), "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("wrong-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := newSetup(t)
		other, err := NewCodeVerifier()
		require.NoError(err)
		_, err = s.p.Exchange(ctx, s.code, other.Verifier(), "")
		require.Error(err)
		assert.ErrorIs(err, ErrExchangeRejected)
		assert.Contains(err.Error(), "invalid_grant")
	})
	t.Run("code-is-single-use", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := newSetup(t)
		_, err := s.p.Exchange(ctx, s.code, s.verifier.Verifier(), "")
		require.NoError(err)
		_, err = s.p.Exchange(ctx, s.code, s.verifier.Verifier(), "")
		require.Error(err)
		assert.ErrorIs(err, ErrExchangeRejected)
	})
	t.Run("token-endpoint-401-not-retried", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := newSetup(t)
		s.tp.SetTokenError(http.StatusUnauthorized, "invalid_client", "client authentication failed")
		_, err := s.p.Exchange(ctx, s.code, s.verifier.Verifier(), "")
		require.Error(err)
		assert.ErrorIs(err, ErrExchangeRejected)
		assert.Contains(err.Error(), "status 401")
		assert.Equal(1, s.tp.TokenRequests())
	})
	t.Run("wrong-client-secret", func(t *testing.T) {
		s := newSetup(t)
		s.tp.SetClientCreds(TestClientID, "rotated-secret")
		_, err := s.p.Exchange(ctx, s.code, s.verifier.Verifier(), "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExchangeRejected)
	})
	t.Run("missing-id-token", func(t *testing.T) {
		s := newSetup(t)
		s.tp.OmitIdTokens()
		_, err := s.p.Exchange(ctx, s.code, s.verifier.Verifier(), "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingIdToken)
	})
	t.Run("unreachable", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := newSetup(t)
		s.tp.Stop()
		_, err := s.p.Exchange(ctx, s.code, s.verifier.Verifier(), "")
		require.Error(err)
		assert.ErrorIs(err, ErrExchangeUnreachable)
	})
	t.Run("timeout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		release := make(chan struct{})
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		t.Cleanup(slow.Close)
		t.Cleanup(func() { close(release) })

		c, err := NewConfig("https://idp.example.com/", TestClientID, TestClientSecret, []jwt.Alg{jwt.RS256}, TestRedirectURL,
			WithEndpoints(slow.URL+"/token", slow.URL+"/jwks"),
			WithExchangeTimeout(100*time.Millisecond))
		require.NoError(err)
		p, err := NewProvider(ctx, c)
		require.NoError(err)
		v, err := NewCodeVerifier()
		require.NoError(err)
		_, err = p.Exchange(ctx, "code", v.Verifier(), "")
		require.Error(err)
		assert.ErrorIs(err, ErrExchangeUnreachable)
	})
}

func TestProvider_VerifyIdToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	exchange := func(t *testing.T, tp *TestProvider, p *Provider) IdToken {
		t.Helper()
		v, err := NewCodeVerifier()
		require.NoError(t, err)
		tk, err := p.Exchange(ctx, tp.IssueCode(v.Challenge(), TestRedirectURL), v.Verifier(), "")
		require.NoError(t, err)
		return tk.IdToken
	}

	tests := []struct {
		name      string
		setup     func(tp *TestProvider)
		wantIsErr error
	}{
		{
			name:  "valid",
			setup: func(tp *TestProvider) {},
		},
		{
			name: "with-profile-claims",
			setup: func(tp *TestProvider) {
				tp.SetCustomClaims(map[string]interface{}{"email": "alice@example.com", "name": "Alice"})
			},
		},
		{
			name:      "wrong-audience",
			setup:     func(tp *TestProvider) { tp.SetCustomAudience("another-client") },
			wantIsErr: jwt.ErrInvalidAudience,
		},
		{
			name:      "wrong-issuer",
			setup:     func(tp *TestProvider) { tp.SetCustomIssuer("https://evil.example.com/") },
			wantIsErr: jwt.ErrInvalidIssuer,
		},
		{
			name:      "expired",
			setup:     func(tp *TestProvider) { tp.SetIdTokenTTL(-5 * time.Minute) },
			wantIsErr: jwt.ErrExpired,
		},
		{
			name:      "signature-fails",
			setup:     func(tp *TestProvider) { tp.SignWithUnpublishedKey(true) },
			wantIsErr: jwt.ErrInvalidSignature,
		},
		{
			name:      "missing-subject",
			setup:     func(tp *TestProvider) { tp.SetSubject("") },
			wantIsErr: ErrMissingSubject,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tp := StartTestProvider(t)
			tt.setup(tp)
			p, err := NewProvider(ctx, tp.NewTestConfig())
			require.NoError(err)

			claims, err := p.VerifyIdToken(ctx, exchange(t, tp, p))
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, ErrIdTokenVerificationFailed)
				assert.ErrorIs(err, tt.wantIsErr)
				assert.Nil(claims)
				return
			}
			require.NoError(err)
			assert.Equal(TestSubject, claims.Subject)
		})
	}

	t.Run("symmetric-token-rejected", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p, err := NewProvider(ctx, tp.NewTestConfig())
		require.NoError(err)
		forged := TestSignJWT(t, []byte("a-shared-secret-of-32-bytes-long"), jwt.Alg("HS256"), map[string]interface{}{
			"iss": tp.Addr(),
			"aud": TestClientID,
			"sub": "forged",
			"exp": time.Now().Add(time.Hour).Unix(),
		}, "test-key-1")
		_, err = p.VerifyIdToken(ctx, IdToken(forged))
		require.Error(err)
		assert.ErrorIs(err, jwt.ErrUnsupportedAlg)
		assert.Equal(0, tp.KeySetRequests())
	})
	t.Run("key-rotation-refreshes-once", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p, err := NewProvider(ctx, tp.NewTestConfig())
		require.NoError(err)

		_, err = p.VerifyIdToken(ctx, exchange(t, tp, p))
		require.NoError(err)
		_, err = p.VerifyIdToken(ctx, exchange(t, tp, p))
		require.NoError(err)
		assert.Equal(1, tp.KeySetRequests())

		tp.RotateSigningKey()
		_, err = p.VerifyIdToken(ctx, exchange(t, tp, p))
		require.NoError(err)
		assert.Equal(2, tp.KeySetRequests())
	})
	t.Run("empty", func(t *testing.T) {
		tp := StartTestProvider(t)
		p, err := NewProvider(ctx, tp.NewTestConfig())
		require.NoError(t, err)
		_, err = p.VerifyIdToken(ctx, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}
