// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pkcebridge/oidc"
	"github.com/hashicorp/pkcebridge/session"
	"github.com/stretchr/testify/assert"
	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	trequire "github.com/stretchr/testify/require"
)

type stubService struct{}

func (stubService) Exchange(context.Context, *oidc.ExchangeRequest) (*oidc.ExchangeResponse, error) {
	return &oidc.ExchangeResponse{SessionCredential: "credential", SubjectId: "248289761001"}, nil
}

func TestNewHandler(t *testing.T) {
	t.Parallel()
	h, err := newHandler(stubService{}, "/exchange", []string{"https://app.example.com"}, hclog.NewNullLogger())
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		path       string
		origin     string
		body       string
		wantStatus int
		wantOrigin string
	}{
		{
			name:       "preflight",
			method:     http.MethodOptions,
			path:       "/exchange",
			origin:     "https://app.example.com",
			wantStatus: http.StatusNoContent,
			wantOrigin: "https://app.example.com",
		},
		{
			name:       "preflight-foreign-origin",
			method:     http.MethodOptions,
			path:       "/exchange",
			origin:     "https://evil.example.com",
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "exchange",
			method:     http.MethodPost,
			path:       "/exchange",
			origin:     "https://app.example.com",
			body:       `{"code":"abc","codeVerifier":"v"}`,
			wantStatus: http.StatusOK,
			wantOrigin: "https://app.example.com",
		},
		{
			name:       "health",
			method:     http.MethodGet,
			path:       "/healthz",
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "unknown-path",
			method:     http.MethodPost,
			path:       "/other",
			wantStatus: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				req.Header.Set("Access-Control-Request-Headers", "Content-Type")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(tt.wantStatus, rec.Code)
			assert.Equal(tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func writeRSAKey(t *testing.T, dir string) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(dir, "client.pem")
	b := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return key, path
}

func writeServiceAccount(t *testing.T, dir string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	b, err := json.Marshal(session.ServiceAccount{
		ClientEmail:  "svc@example-project.iam.gserviceaccount.com",
		PrivateKeyID: "sa-key-1",
		PrivateKey:   string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
	})
	require.NoError(t, err)
	path := filepath.Join(dir, "sa.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestNewService(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	tp := oidc.StartTestProvider(t)
	caFile := filepath.Join(dir, "ca.pem")
	require.NoError(os.WriteFile(caFile, []byte(tp.CACert()), 0o600))

	c, err := loadConfig(map[string]string{
		"PKCEBRIDGE_ISSUER":               tp.Addr(),
		"PKCEBRIDGE_CLIENT_ID":            oidc.TestClientID,
		"PKCEBRIDGE_CLIENT_SECRET":        oidc.TestClientSecret,
		"PKCEBRIDGE_REDIRECT_URL":         oidc.TestRedirectURL,
		"PKCEBRIDGE_TOKEN_URL":            tp.TokenURL(),
		"PKCEBRIDGE_JWKS_URL":             tp.JWKSURL(),
		"PKCEBRIDGE_PROVIDER_CA_FILE":     caFile,
		"PKCEBRIDGE_SERVICE_ACCOUNT_FILE": writeServiceAccount(t, dir),
		"PKCEBRIDGE_PROFILE_STORE":        storeSQLite,
		"PKCEBRIDGE_SQLITE_PATH":          filepath.Join(dir, "profiles.db"),
	})
	require.NoError(err)

	svc, closeStore, err := newService(ctx, c, hclog.NewNullLogger())
	require.NoError(err)
	t.Cleanup(func() { assert.NoError(closeStore()) })

	h, err := newHandler(svc, c.ExchangePath, c.Origins, hclog.NewNullLogger())
	require.NoError(err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	v, err := oidc.NewCodeVerifier()
	require.NoError(err)
	body, err := json.Marshal(&oidc.ExchangeRequest{
		Code:         tp.IssueCode(v.Challenge(), oidc.TestRedirectURL),
		CodeVerifier: oidc.CodeVerifierValue(v.Verifier()),
	})
	require.NoError(err)
	resp, err := srv.Client().Post(srv.URL+c.ExchangePath, "application/json", bytes.NewReader(body))
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
	var got oidc.ExchangeResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal("248289761001", got.SubjectId)
	assert.NotEmpty(got.SessionCredential)

	t.Run("client-assertion", func(t *testing.T) {
		assert, require := tassert.New(t), trequire.New(t)
		tp := oidc.StartTestProvider(t)
		key, keyFile := writeRSAKey(t, t.TempDir())
		tp.SetClientAssertionKey(&key.PublicKey)
		caFile := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(os.WriteFile(caFile, []byte(tp.CACert()), 0o600))

		ac := *c
		ac.Issuer = tp.Addr()
		ac.ClientSecret = ""
		ac.TokenURL, ac.JWKSURL = tp.TokenURL(), tp.JWKSURL()
		ac.ProviderCAFile = caFile
		ac.ProfileStore = storeMemory
		ac.ClientAssertionKeyFile = keyFile
		ac.ClientAssertionKeyID = "client-key-1"
		require.NoError(ac.validate())

		svc, closeStore, err := newService(ctx, &ac, hclog.NewNullLogger())
		require.NoError(err)
		defer closeStore()

		v, err := oidc.NewCodeVerifier()
		require.NoError(err)
		got, err := svc.Exchange(ctx, &oidc.ExchangeRequest{
			Code:         tp.IssueCode(v.Challenge(), oidc.TestRedirectURL),
			CodeVerifier: oidc.CodeVerifierValue(v.Verifier()),
		})
		require.NoError(err)
		assert.Equal("248289761001", got.SubjectId)
	})
	t.Run("missing-service-account", func(t *testing.T) {
		bad := *c
		bad.ServiceAccountFile = filepath.Join(dir, "missing.json")
		_, _, err := newService(ctx, &bad, hclog.NewNullLogger())
		trequire.Error(t, err)
	})
}
