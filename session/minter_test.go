// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testServiceAccount = "firebase-adminsdk@example-project.iam.gserviceaccount.com"

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

func testParse(t *testing.T, m *JWTMinter, token string, now time.Time) (*jwt.Token, jwt.MapClaims) {
	t.Helper()
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.PublicKey(), nil
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(FirebaseAudience),
		jwt.WithIssuer(testServiceAccount),
		jwt.WithSubject(testServiceAccount),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	require.NoError(t, err)
	return parsed, claims
}

func TestJWTMinter_Mint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	m, err := NewJWTMinter(testServiceAccount, testKey(t), WithKeyID("key-1"), WithNow(func() time.Time { return now }))
	require.NoError(t, err)

	tests := []struct {
		name       string
		subjectID  string
		claims     map[string]interface{}
		wantIsErr  error
		wantClaims map[string]interface{}
	}{
		{
			name:      "no-claims",
			subjectID: "248289761001",
		},
		{
			name:       "custom-claims",
			subjectID:  "248289761001",
			claims:     map[string]interface{}{"tenant": "acme", "admin": true},
			wantClaims: map[string]interface{}{"tenant": "acme", "admin": true},
		},
		{
			name:      "empty-subject",
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "subject-too-long",
			subjectID: strings.Repeat("x", 129),
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "reserved-claim",
			subjectID: "248289761001",
			claims:    map[string]interface{}{"exp": 9999999999},
			wantIsErr: ErrReservedClaim,
		},
		{
			name:      "reserved-firebase-claim",
			subjectID: "248289761001",
			claims:    map[string]interface{}{"firebase": map[string]interface{}{}},
			wantIsErr: ErrReservedClaim,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := m.Mint(ctx, tt.subjectID, tt.claims)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				assert.Empty(got)
				return
			}
			require.NoError(err)
			parsed, claims := testParse(t, m, got, now)
			assert.Equal("key-1", parsed.Header["kid"])
			assert.Equal(tt.subjectID, claims["uid"])
			assert.Equal(FirebaseAudience, claims["aud"])
			assert.Equal(float64(now.Unix()), claims["iat"])
			assert.Equal(float64(now.Add(MaxTTL).Unix()), claims["exp"])
			if tt.wantClaims == nil {
				assert.NotContains(claims, "claims")
				return
			}
			assert.Equal(tt.wantClaims, claims["claims"])
		})
	}
}

func TestJWTMinter_Expiry(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	now := time.Now().Truncate(time.Second)
	m, err := NewJWTMinter(testServiceAccount, testKey(t), WithTTL(10*time.Minute), WithNow(func() time.Time { return now }))
	require.NoError(err)
	got, err := m.Mint(context.Background(), "alice", nil)
	require.NoError(err)

	_, claims := testParse(t, m, got, now)
	assert.Equal(float64(now.Add(10*time.Minute).Unix()), claims["exp"])

	_, err = jwt.Parse(got, func(*jwt.Token) (interface{}, error) { return m.PublicKey(), nil },
		jwt.WithTimeFunc(func() time.Time { return now.Add(11 * time.Minute) }))
	require.Error(err)
	assert.ErrorIs(err, jwt.ErrTokenExpired)
}

func TestNewJWTMinter(t *testing.T) {
	t.Parallel()
	key := testKey(t)
	tests := []struct {
		name      string
		account   string
		key       *rsa.PrivateKey
		opt       []Option
		wantIsErr error
	}{
		{name: "valid", account: testServiceAccount, key: key},
		{name: "valid-ttl", account: testServiceAccount, key: key, opt: []Option{WithTTL(time.Minute)}},
		{name: "missing-account", key: key, wantIsErr: ErrInvalidParameter},
		{name: "nil-key", account: testServiceAccount, wantIsErr: ErrInvalidKey},
		{name: "ttl-too-long", account: testServiceAccount, key: key, opt: []Option{WithTTL(2 * time.Hour)}, wantIsErr: ErrInvalidParameter},
		{name: "negative-ttl", account: testServiceAccount, key: key, opt: []Option{WithTTL(-time.Minute)}, wantIsErr: ErrInvalidParameter},
		{name: "empty-audience", account: testServiceAccount, key: key, opt: []Option{WithAudience("")}, wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewJWTMinter(tt.account, tt.key, tt.opt...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.NotNil(got)
		})
	}
}

func TestNewJWTMinterFromServiceAccount(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	key := testKey(t)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	keyFile, err := json.Marshal(ServiceAccount{
		ClientEmail:  testServiceAccount,
		PrivateKeyID: "abc123",
		PrivateKey:   string(keyPEM),
	})
	require.NoError(err)

	m, err := NewJWTMinterFromServiceAccount(keyFile)
	require.NoError(err)
	got, err := m.Mint(context.Background(), "alice", nil)
	require.NoError(err)
	parsed, _ := testParse(t, m, got, time.Now())
	assert.Equal("abc123", parsed.Header["kid"])
	assert.True(key.PublicKey.Equal(m.PublicKey()))

	_, err = NewJWTMinterFromServiceAccount([]byte(`{"client_email":`))
	assert.ErrorIs(err, ErrInvalidParameter)

	_, err = NewJWTMinterFromPEM(testServiceAccount, []byte("not a key"))
	assert.ErrorIs(err, ErrInvalidKey)
}
