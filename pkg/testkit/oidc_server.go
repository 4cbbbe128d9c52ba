// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package testkit

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// OIDCServer is an in-process OpenID Connect provider.
type OIDCServer struct {
	*httptest.Server

	ClientID     string
	ClientSecret string

	key *rsa.PrivateKey
	kid string

	subject   string
	email     string
	givenName string
	tokenTTL  time.Duration

	accessAudience string

	noIntrospection bool
	noEndSession    bool
	noRotation      bool
	middlewares     []func(http.Handler) http.Handler

	mu            sync.Mutex
	codes         map[string]string // code -> nonce
	refreshTokens map[string]bool   // refresh token -> active
	accessTokens  map[string]bool

	tokenRequests    atomic.Int32
	introspections   atomic.Int32
	userInfoRequests atomic.Int32
	jwksRequests     atomic.Int32
}

// NewOIDCTestServer creates and starts a test OIDC provider.
func NewOIDCTestServer(options ...OIDCServerOption) (*OIDCServer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	server := &OIDCServer{
		ClientID:      "gqlgate",
		ClientSecret:  "gqlgate-secret",
		key:           key,
		kid:           "testkit-key-1",
		subject:       "user-1",
		email:         "ada@example.com",
		givenName:     "Ada",
		tokenTTL:      time.Hour,
		codes:         map[string]string{},
		refreshTokens: map[string]bool{},
		accessTokens:  map[string]bool{},
	}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	router := chi.NewRouter()
	router.Use(append([]func(http.Handler) http.Handler{middleware.Recoverer}, server.middlewares...)...)

	router.Get("/.well-known/openid-configuration", server.discoveryHandler)
	router.Get("/jwks", server.jwksHandler)
	router.Get("/authorize", server.authorizeHandler)
	router.Post("/token", server.tokenHandler)
	router.Post("/introspect", server.introspectHandler)
	router.Get("/userinfo", server.userInfoHandler)
	router.Get("/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server.Server = httptest.NewServer(router)
	return server, nil
}

// Issuer returns the issuer identifier.
func (s *OIDCServer) Issuer() string {
	return s.URL
}

// Subject returns the subject used for logins.
func (s *OIDCServer) Subject() string {
	return s.subject
}

// IssueCode registers a single-use authorization code bound to nonce, as if
// the user had completed a login at the provider.
func (s *OIDCServer) IssueCode(nonce string) string {
	code := randomToken()
	s.mu.Lock()
	s.codes[code] = nonce
	s.mu.Unlock()
	return code
}

// IssueRefreshToken registers an active refresh token.
func (s *OIDCServer) IssueRefreshToken() string {
	token := "rt-" + randomToken()
	s.mu.Lock()
	s.refreshTokens[token] = true
	s.mu.Unlock()
	return token
}

// Revoke marks a refresh token as inactive.
func (s *OIDCServer) Revoke(refreshToken string) {
	s.mu.Lock()
	s.refreshTokens[refreshToken] = false
	s.mu.Unlock()
}

// AccessToken signs an access token for the configured subject expiring at exp.
func (s *OIDCServer) AccessToken(exp time.Time) (string, error) {
	var extra map[string]any
	if s.accessAudience != "" {
		extra = map[string]any{"aud": s.accessAudience, "azp": s.ClientID}
	}
	return s.Sign(s.claims(exp, extra))
}

// Sign signs arbitrary claims with the published key.
func (s *OIDCServer) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.accessTokens[signed] = true
	s.mu.Unlock()
	return signed, nil
}

// TokenRequests returns how many token endpoint calls were made.
func (s *OIDCServer) TokenRequests() int {
	return int(s.tokenRequests.Load())
}

// Introspections returns how many introspection calls were made.
func (s *OIDCServer) Introspections() int {
	return int(s.introspections.Load())
}

// UserInfoRequests returns how many userinfo calls were made.
func (s *OIDCServer) UserInfoRequests() int {
	return int(s.userInfoRequests.Load())
}

// JWKSRequests returns how many JWKS downloads were made.
func (s *OIDCServer) JWKSRequests() int {
	return int(s.jwksRequests.Load())
}

func (s *OIDCServer) claims(exp time.Time, extra map[string]any) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss":                s.URL,
		"sub":                s.subject,
		"aud":                s.ClientID,
		"iat":                time.Now().Unix(),
		"exp":                exp.Unix(),
		"email":              s.email,
		"given_name":         s.givenName,
		"preferred_username": strings.Split(s.email, "@")[0],
	}
	for k, v := range extra {
		claims[k] = v
	}
	return claims
}

func (s *OIDCServer) discoveryHandler(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                                s.URL,
		"authorization_endpoint":                s.URL + "/authorize",
		"token_endpoint":                        s.URL + "/token",
		"userinfo_endpoint":                     s.URL + "/userinfo",
		"jwks_uri":                              s.URL + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	if !s.noIntrospection {
		doc["introspection_endpoint"] = s.URL + "/introspect"
	}
	if !s.noEndSession {
		doc["end_session_endpoint"] = s.URL + "/logout"
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *OIDCServer) jwksHandler(w http.ResponseWriter, _ *http.Request) {
	s.jwksRequests.Add(1)

	key, err := jwk.Import(&s.key.PublicKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = key.Set(jwk.KeyIDKey, s.kid)
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	_ = key.Set(jwk.KeyUsageKey, "sig")

	set := jwk.NewSet()
	_ = set.AddKey(key)
	writeJSON(w, http.StatusOK, set)
}

// authorizeHandler completes a login immediately and redirects back.
func (s *OIDCServer) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirectURI.String() == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	params := redirectURI.Query()
	params.Set("code", s.IssueCode(q.Get("nonce")))
	params.Set("state", q.Get("state"))
	redirectURI.RawQuery = params.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (s *OIDCServer) tokenHandler(w http.ResponseWriter, r *http.Request) {
	s.tokenRequests.Add(1)

	if err := r.ParseForm(); err != nil {
		oauthError(w, "invalid_request")
		return
	}
	if r.PostForm.Get("client_id") != s.ClientID || r.PostForm.Get("client_secret") != s.ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.mu.Lock()
		nonce, ok := s.codes[r.PostForm.Get("code")]
		delete(s.codes, r.PostForm.Get("code"))
		s.mu.Unlock()
		if !ok {
			oauthError(w, "invalid_grant")
			return
		}
		s.writeTokens(w, nonce, true)

	case "refresh_token":
		s.mu.Lock()
		active := s.refreshTokens[r.PostForm.Get("refresh_token")]
		s.mu.Unlock()
		if !active {
			oauthError(w, "invalid_grant")
			return
		}
		s.writeTokens(w, "", !s.noRotation)

	default:
		oauthError(w, "unsupported_grant_type")
	}
}

func (s *OIDCServer) writeTokens(w http.ResponseWriter, nonce string, full bool) {
	exp := time.Now().Add(s.tokenTTL)
	accessToken, err := s.AccessToken(exp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(s.tokenTTL.Seconds()),
	}
	if full {
		var extra map[string]any
		if nonce != "" {
			extra = map[string]any{"nonce": nonce}
		}
		idToken, err := s.Sign(s.claims(exp, extra))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp["id_token"] = idToken
		resp["refresh_token"] = s.IssueRefreshToken()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *OIDCServer) introspectHandler(w http.ResponseWriter, r *http.Request) {
	s.introspections.Add(1)

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok || clientID != s.ClientID || clientSecret != s.ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if err := r.ParseForm(); err != nil {
		oauthError(w, "invalid_request")
		return
	}

	s.mu.Lock()
	active := s.refreshTokens[r.PostForm.Get("token")]
	s.mu.Unlock()

	resp := map[string]any{"active": active}
	if active {
		resp["sub"] = s.subject
		resp["client_id"] = s.ClientID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *OIDCServer) userInfoHandler(w http.ResponseWriter, r *http.Request) {
	s.userInfoRequests.Add(1)

	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	known := found && s.accessTokens[token]
	s.mu.Unlock()
	if !known {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sub":                s.subject,
		"email":              s.email,
		"email_verified":     true,
		"given_name":         s.givenName,
		"preferred_username": strings.Split(s.email, "@")[0],
	})
}

func oauthError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
