// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	trequire "github.com/stretchr/testify/require"
)

const testSecret = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

func TestNewJWTWithRSAKey(t *testing.T) {
	t.Parallel()
	key := testKey(t)
	tests := []struct {
		name      string
		clientID  string
		audience  []string
		alg       RSAlgorithm
		key       *rsa.PrivateKey
		opts      []Option
		wantErrIs []error
	}{
		{name: "valid", clientID: "client", audience: []string{"aud"}, alg: RS256, key: key},
		{name: "valid-rs512", clientID: "client", audience: []string{"aud"}, alg: RS512, key: key, opts: []Option{WithKeyID("kid-1")}},
		{
			name:      "missing-client-and-audience",
			alg:       RS256,
			key:       key,
			wantErrIs: []error{ErrMissingClientID, ErrMissingAudience},
		},
		{name: "nil-key", clientID: "client", audience: []string{"aud"}, alg: RS256, wantErrIs: []error{ErrNilPrivateKey}},
		{name: "hmac-alg", clientID: "client", audience: []string{"aud"}, alg: RSAlgorithm("HS256"), key: key, wantErrIs: []error{ErrUnsupportedAlgorithm}},
		{
			name:      "reserved-header",
			clientID:  "client",
			audience:  []string{"aud"},
			alg:       RS256,
			key:       key,
			opts:      []Option{WithHeaders(map[string]string{"alg": "none"})},
			wantErrIs: []error{ErrReservedHeader},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			j, err := NewJWTWithRSAKey(tt.clientID, tt.audience, tt.alg, tt.key, tt.opts...)
			if len(tt.wantErrIs) > 0 {
				require.Error(err)
				assert.Nil(j)
				for _, want := range tt.wantErrIs {
					assert.ErrorIs(err, want)
				}
				return
			}
			require.NoError(err)
			assert.NotNil(j)
		})
	}
}

func TestNewJWTWithHMAC(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		alg       HSAlgorithm
		secret    string
		wantErrIs error
	}{
		{name: "hs256", alg: HS256, secret: testSecret[:32]},
		{name: "hs512", alg: HS512, secret: testSecret},
		{name: "short-secret", alg: HS384, secret: testSecret[:47], wantErrIs: ErrInvalidSecretLength},
		{name: "empty-secret", alg: HS256, wantErrIs: ErrInvalidSecretLength},
		{name: "rsa-alg", alg: HSAlgorithm("RS256"), secret: testSecret, wantErrIs: ErrUnsupportedAlgorithm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			j, err := NewJWTWithHMAC("client", []string{"aud"}, tt.alg, tt.secret)
			if tt.wantErrIs != nil {
				require.ErrorIs(err, tt.wantErrIs)
				assert.Nil(j)
				return
			}
			require.NoError(err)
			signed, err := j.Serialize()
			require.NoError(err)
			_, err = jwt.Parse(signed, func(*jwt.Token) (interface{}, error) { return []byte(tt.secret), nil },
				jwt.WithValidMethods([]string{string(tt.alg)}))
			assert.NoError(err)
		})
	}
}

func TestJWT_Serialize(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	key := testKey(t)
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	j, err := NewJWTWithRSAKey("client", []string{"https://idp.example.com/token"}, RS256, key,
		WithKeyID("kid-1"),
		WithHeaders(map[string]string{"x5t": "thumb"}),
		WithNow(func() time.Time { return now }),
	)
	require.NoError(err)

	first, err := j.Serialize()
	require.NoError(err)
	second, err := j.Serialize()
	require.NoError(err)
	assert.NotEqual(first, second, "every assertion has a unique jti")

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(first, claims, func(*jwt.Token) (interface{}, error) { return key.Public(), nil },
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithAudience("https://idp.example.com/token"),
		jwt.WithIssuer("client"),
		jwt.WithSubject("client"),
		jwt.WithExpirationRequired(),
	)
	require.NoError(err)
	assert.Equal("kid-1", token.Header["kid"])
	assert.Equal("thumb", token.Header["x5t"])
	assert.Equal("JWT", token.Header["typ"])
	assert.NotEmpty(claims["jti"])
	assert.Equal(float64(now.Add(DefaultLifetime).Unix()), claims["exp"])
	assert.Equal(float64(now.Unix()), claims["iat"])

	t.Run("id-generator-fails", func(t *testing.T) {
		broken := *j
		broken.genID = func() (string, error) { return "", errors.New("no entropy") }
		_, err := broken.Serialize()
		trequire.ErrorIs(t, err, ErrIdGeneratorFailed)
	})
}
