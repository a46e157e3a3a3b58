// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/pkcebridge/jwt"
	"github.com/hashicorp/pkcebridge/oidc/clientassertion"
	"github.com/hashicorp/pkcebridge/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
)

// Default values used by a TestProvider until they are overridden.
const (
	TestClientID     = "test-client-id"
	TestClientSecret = "test-client-secret"
	TestRedirectURL  = "https://app.example.com/callback"
	TestSubject      = "test-idp|248289761001"
)

// TestProvider is a local TLS server that acts as a PKCE enforcing OIDC
// provider, which makes writing tests much easier.  It serves discovery,
// /authorize, /token and /jwks.  Authorization codes are single use and are
// bound to the code_challenge and redirect_uri of the /authorize request that
// issued them.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	assertionKey        *rsa.PublicKey
	allowedRedirectURIs []string
	subject             string
	customClaims        map[string]interface{}
	customAudience      string
	customIssuer        string
	idTokenTTL          time.Duration
	omitIDToken         bool
	authErrCode         string
	authErrDesc         string
	tokenErrStatus      int
	tokenErrCode        string
	tokenErrDesc        string

	signingKey     crypto.PrivateKey
	signingAlg     jwt.Alg
	signingKeyID   string
	publishedKeys  []jose.JSONWebKey
	unpublishedKey crypto.PrivateKey
	rotations      int

	codes     map[string]testAuthCode
	tokenHits int
	jwksHits  int

	t *testing.T
}

type testAuthCode struct {
	challenge   string
	method      string
	redirectURI string
	clientID    string
}

// StartTestProvider creates a disposable TestProvider listening on an
// ephemeral loopback port.  It's stopped when the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	pub, priv := TestGenerateKeys(t)
	p := &TestProvider{
		clientID:            TestClientID,
		clientSecret:        TestClientSecret,
		allowedRedirectURIs: []string{TestRedirectURL},
		subject:             TestSubject,
		idTokenTTL:          5 * time.Minute,
		signingKey:          priv,
		signingAlg:          jwt.RS256,
		signingKeyID:        "test-key-1",
		codes:               map[string]testAuthCode{},
		t:                   t,
	}
	p.publishedKeys = []jose.JSONWebKey{
		{Key: pub, KeyID: p.signingKeyID, Algorithm: string(p.signingAlg), Use: "sig"},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the test provider, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// TokenURL returns the test provider's token endpoint.
func (p *TestProvider) TokenURL() string { return p.Addr() + "/token" }

// JWKSURL returns the test provider's key set endpoint.
func (p *TestProvider) JWKSURL() string { return p.Addr() + "/jwks" }

// AuthURL returns the test provider's authorization endpoint.
func (p *TestProvider) AuthURL() string { return p.Addr() + "/authorize" }

// HTTPClient returns a client that trusts the test provider and does not
// follow redirects, so the redirect back to the client can be inspected.
func (p *TestProvider) HTTPClient() *http.Client {
	c := p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

// SetClientCreds configures the client ID and secret the token endpoint
// accepts.  An empty secret makes the test provider treat the client as a
// public client.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetClientAssertionKey makes the token endpoint authenticate the client
// with an RS256 client assertion verified by pub instead of a secret.
func (p *TestProvider) SetClientAssertionKey(pub *rsa.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assertionKey = pub
	p.clientSecret = ""
}

// SetAllowedRedirectURIs configures the allowed redirect URIs.  If not
// configured TestRedirectURL is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject configures the sub claim of issued id_tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetCustomClaims lets you set claims to return in the id_token.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the id_token.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetCustomIssuer configures what issuer value to embed in the id_token.
func (p *TestProvider) SetCustomIssuer(customIssuer string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customIssuer = customIssuer
}

// SetIdTokenTTL configures the lifetime of issued id_tokens.  A negative
// value issues already expired tokens.
func (p *TestProvider) SetIdTokenTTL(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenTTL = d
}

// OmitIdTokens forces an error state where the /token endpoint does not
// return an id_token.
func (p *TestProvider) OmitIdTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetAuthError makes /authorize redirect back with the given error.  An empty
// code clears it.
func (p *TestProvider) SetAuthError(code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authErrCode = code
	p.authErrDesc = description
}

// SetTokenError makes /token reply with the given status and error body.  A
// zero status clears it.
func (p *TestProvider) SetTokenError(status int, code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErrStatus = status
	p.tokenErrCode = code
	p.tokenErrDesc = description
}

// SetSigningKeys sets the key used to sign id_tokens and publishes its public
// half as the only key in /jwks.
func (p *TestProvider) SetSigningKeys(priv crypto.PrivateKey, pub crypto.PublicKey, alg jwt.Alg, keyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signingKey = priv
	p.signingAlg = alg
	p.signingKeyID = keyID
	p.publishedKeys = []jose.JSONWebKey{{Key: pub, KeyID: keyID, Algorithm: string(alg), Use: "sig"}}
}

// RotateSigningKey replaces the signing key with a fresh RSA key under a new
// key ID and returns that ID.  The previous key is no longer published.
func (p *TestProvider) RotateSigningKey() string {
	p.t.Helper()
	pub, priv := TestGenerateKeys(p.t)
	p.mu.Lock()
	p.rotations++
	kid := fmt.Sprintf("test-key-%d", p.rotations+1)
	p.mu.Unlock()
	p.SetSigningKeys(priv, pub, jwt.RS256, kid)
	return kid
}

// SignWithUnpublishedKey makes /token sign id_tokens with an RSA key that is
// not in /jwks but carries the published key ID, so signature verification
// fails.  The signing algorithm must be one of the RS algorithms.
func (p *TestProvider) SignWithUnpublishedKey(enabled bool) {
	p.t.Helper()
	var key crypto.PrivateKey
	if enabled {
		_, key = TestGenerateKeys(p.t)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unpublishedKey = key
}

// TokenRequests returns the number of requests /token has received.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenHits
}

// KeySetRequests returns the number of requests /jwks has received.
func (p *TestProvider) KeySetRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jwksHits
}

// IssueCode registers an authorization code bound to challenge and
// redirectURI, as /authorize would, and returns it.
func (p *TestProvider) IssueCode(challenge, redirectURI string) string {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	code, err := p.newCode(testAuthCode{
		challenge:   challenge,
		method:      string(S256),
		redirectURI: redirectURI,
		clientID:    p.clientID,
	})
	require.NoError(p.t, err)
	return code
}

// Authorize follows authURL as a browser would and returns the query of the
// redirect back to the client.
func (p *TestProvider) Authorize(authURL string) (url.Values, error) {
	const op = "TestProvider.Authorize"
	resp, err := p.HTTPClient().Get(authURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return loc.Query(), nil
}

func (p *TestProvider) newCode(c testAuthCode) (string, error) {
	b, err := randomBytes(16)
	if err != nil {
		return "", err
	}
	code := base64.RawURLEncoding.EncodeToString(b)
	p.codes[code] = c
	return code, nil
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, redirectURI, errorCode, errorMessage string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("state", req.URL.Query().Get("state"))
	q.Set("error", errorCode)
	if errorMessage != "" {
		q.Set("error_description", errorMessage)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	p.writeJSON(w, statusCode, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer                 string   `json:"issuer"`
			AuthEndpoint           string   `json:"authorization_endpoint"`
			TokenEndpoint          string   `json:"token_endpoint"`
			JWKSURI                string   `json:"jwks_uri"`
			ChallengeMethods       []string `json:"code_challenge_methods_supported"`
			SigningAlgs            []string `json:"id_token_signing_alg_values_supported"`
			ResponseTypesSupported []string `json:"response_types_supported"`
		}{
			Issuer:                 p.Addr(),
			AuthEndpoint:           p.AuthURL(),
			TokenEndpoint:          p.TokenURL(),
			JWKSURI:                p.JWKSURL(),
			ChallengeMethods:       []string{string(S256)},
			SigningAlgs:            []string{string(p.signingAlg)},
			ResponseTypesSupported: []string{"code"},
		}
		p.writeJSON(w, http.StatusOK, &reply)

	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		redirectURI := qv.Get("redirect_uri")
		if !strutils.StrListContains(p.allowedRedirectURIs, redirectURI) {
			// never redirect to an unregistered target
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch {
		case p.authErrCode != "":
			p.writeAuthErrorResponse(w, req, redirectURI, p.authErrCode, p.authErrDesc)
			return
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, redirectURI, "unsupported_response_type", "")
			return
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, redirectURI, "unauthorized_client", "")
			return
		case qv.Get("code_challenge") == "":
			p.writeAuthErrorResponse(w, req, redirectURI, "invalid_request", "code challenge required")
			return
		case qv.Get("code_challenge_method") != string(S256):
			p.writeAuthErrorResponse(w, req, redirectURI, "invalid_request", "transform algorithm not supported")
			return
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, redirectURI, "invalid_request", "missing state parameter")
			return
		}
		code, err := p.newCode(testAuthCode{
			challenge:   qv.Get("code_challenge"),
			method:      qv.Get("code_challenge_method"),
			redirectURI: redirectURI,
			clientID:    qv.Get("client_id"),
		})
		if err != nil {
			p.writeAuthErrorResponse(w, req, redirectURI, "server_error", "")
			return
		}
		u, _ := url.Parse(redirectURI)
		q := u.Query()
		q.Set("code", code)
		q.Set("state", qv.Get("state"))
		u.RawQuery = q.Encode()
		http.Redirect(w, req, u.String(), http.StatusFound)

	case "/jwks":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.jwksHits++
		p.writeJSON(w, http.StatusOK, &jose.JSONWebKeySet{Keys: p.publishedKeys})

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.tokenHits++
		if p.tokenErrStatus != 0 {
			p.writeTokenErrorResponse(w, p.tokenErrStatus, p.tokenErrCode, p.tokenErrDesc)
			return
		}
		if err := req.ParseForm(); err != nil {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "unable to parse form")
			return
		}
		code := req.PostForm.Get("code")
		issued, ok := p.codes[code]
		// codes are single use whatever the outcome
		delete(p.codes, code)
		switch {
		case req.PostForm.Get("grant_type") != "authorization_code":
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
			return
		case req.PostForm.Get("client_id") != p.clientID:
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		case p.clientSecret != "" && req.PostForm.Get("client_secret") != p.clientSecret:
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		case p.assertionKey != nil && !p.validAssertion(req.PostForm):
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client assertion rejected")
			return
		case !ok:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown or reused authorization code")
			return
		case issued.clientID != p.clientID:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code was issued to another client")
			return
		case req.PostForm.Get("redirect_uri") != issued.redirectURI:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
			return
		case S256Challenge(req.PostForm.Get("code_verifier")) != issued.challenge:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}

		idToken, err := p.issueIdToken()
		if err != nil {
			p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		reply := struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
			ExpiresIn   int    `json:"expires_in"`
			IDToken     string `json:"id_token,omitempty"`
		}{
			AccessToken: "test-access-token",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
			IDToken:     idToken,
		}
		if p.omitIDToken {
			reply.IDToken = ""
		}
		p.writeJSON(w, http.StatusOK, &reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) validAssertion(form url.Values) bool {
	if form.Get("client_assertion_type") != clientassertion.JWTTypeParam {
		return false
	}
	_, err := gojwt.Parse(form.Get("client_assertion"),
		func(*gojwt.Token) (interface{}, error) { return p.assertionKey, nil },
		gojwt.WithValidMethods([]string{"RS256"}),
		gojwt.WithIssuer(p.clientID),
		gojwt.WithSubject(p.clientID),
		gojwt.WithAudience(p.TokenURL()),
		gojwt.WithExpirationRequired(),
	)
	return err == nil
}

func (p *TestProvider) issueIdToken() (string, error) {
	now := time.Now()
	claims := map[string]interface{}{
		"iss": p.Addr(),
		"sub": p.subject,
		"aud": p.clientID,
		"iat": now.Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"exp": now.Add(p.idTokenTTL).Unix(),
	}
	if p.customAudience != "" {
		claims["aud"] = p.customAudience
	}
	if p.customIssuer != "" {
		claims["iss"] = p.customIssuer
	}
	for k, v := range p.customClaims {
		claims[k] = v
	}
	key := p.signingKey
	if p.unpublishedKey != nil {
		key = p.unpublishedKey
	}
	return signJWT(key, p.signingAlg, claims, p.signingKeyID)
}

// NewTestConfig returns a Config for a client of the test provider using its
// explicit endpoints.  Options are applied after the defaults.
func (p *TestProvider) NewTestConfig(opt ...Option) *Config {
	p.t.Helper()
	p.mu.Lock()
	clientID, clientSecret := p.clientID, p.clientSecret
	p.mu.Unlock()
	opts := append([]Option{
		WithEndpoints(p.TokenURL(), p.JWKSURL()),
		WithProviderCA(p.CACert()),
	}, opt...)
	c, err := NewConfig(p.Addr(), clientID, ClientSecret(clientSecret), []jwt.Alg{jwt.RS256}, TestRedirectURL, opts...)
	require.NoError(p.t, err)
	return c
}
