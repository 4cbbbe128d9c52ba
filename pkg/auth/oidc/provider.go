// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oidc is the relying-party adapter to the single trusted OpenID
// Connect issuer: discovery, authorization URLs, code exchange, refresh,
// introspection, userinfo and end-session URLs.
package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/stacklok/gqlgate/pkg/networking"
)

const (
	instrumentationName = "github.com/stacklok/gqlgate/pkg/auth/oidc"

	// DefaultTimeout bounds every outbound call to the provider.
	DefaultTimeout = 10 * time.Second

	// DefaultDiscoveryAttempts is how many times discovery is tried at startup.
	DefaultDiscoveryAttempts = 5
)

// DefaultScopes are requested when none are configured.
var DefaultScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// Provider operations, used as metric and span labels.
const (
	OpDiscover   = "discover"
	OpExchange   = "exchange"
	OpRefresh    = "refresh"
	OpIntrospect = "introspect"
	OpUserInfo   = "userinfo"
)

var (
	// ErrDiscovery is returned when the issuer's discovery document cannot be used.
	ErrDiscovery = errors.New("OIDC discovery failed")
	// ErrCallbackExchange is returned when a callback cannot be turned into tokens.
	ErrCallbackExchange = errors.New("callback exchange failed")
	// ErrStateMismatch is returned when the callback state does not match the stored state.
	ErrStateMismatch = errors.New("state parameter does not match")
	// ErrNonceMismatch is returned when the ID token nonce does not match the stored nonce.
	ErrNonceMismatch = errors.New("ID token nonce does not match expected value")
	// ErrNonceMissing is returned when the ID token carries no nonce although one was sent.
	ErrNonceMissing = errors.New("ID token missing nonce claim when nonce was expected")
	// ErrRefresh is returned when a refresh token cannot be exchanged.
	ErrRefresh = errors.New("token refresh failed")
	// ErrIntrospection is returned when the introspection call itself fails.
	ErrIntrospection = errors.New("token introspection failed")
	// ErrIntrospectionInactive is returned by callers that treat an inactive token as an error.
	ErrIntrospectionInactive = errors.New("token is not active")
	// ErrIntrospectionUnsupported is returned when the issuer publishes no introspection endpoint.
	ErrIntrospectionUnsupported = errors.New("issuer does not support token introspection")
	// ErrUserInfo is returned when the userinfo endpoint cannot be queried.
	ErrUserInfo = errors.New("userinfo request failed")
	// ErrNoEndSession is returned when the issuer publishes no end-session endpoint.
	ErrNoEndSession = errors.New("issuer does not support RP-initiated logout")
)

// IssuerMetadata is the subset of the discovery document the gateway uses.
type IssuerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
}

// Tokens is the credential triple issued by the provider.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
}

// UserInfo is the userinfo response for an access token.
type UserInfo struct {
	Subject string
	Email   string
	Claims  map[string]any
}

// IntrospectionResult is the RFC 7662 response.
type IntrospectionResult struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
}

// CallObserver is notified after every outbound provider call.
type CallObserver interface {
	ObserveProviderCall(operation string, duration time.Duration, err error)
}

// Config configures a Provider.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// Timeout bounds each outbound call. Defaults to DefaultTimeout.
	Timeout time.Duration
	// DiscoveryAttempts bounds startup retries. Defaults to DefaultDiscoveryAttempts.
	DiscoveryAttempts uint
	// HTTPClient is used for every provider call. Defaults to a client with Timeout.
	HTTPClient *http.Client
	// Observer receives call durations and outcomes. Optional.
	Observer CallObserver
}

// Validate checks that Config has all required fields.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if c.RedirectURI == "" {
		return errors.New("redirect_uri is required")
	}
	if len(c.Scopes) > 0 && !slices.Contains(c.Scopes, oidc.ScopeOpenID) {
		return errors.New("openid scope is required")
	}
	return nil
}

// Provider talks to the trusted issuer. Discovery happens once in NewProvider;
// the result is read-only afterwards, so a Provider is safe for concurrent use.
type Provider struct {
	metadata     IssuerMetadata
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	provider     *oidc.Provider
	httpClient   *http.Client
	clientID     string
	clientSecret string
	timeout      time.Duration
	observer     CallObserver
	tracer       trace.Tracer
}

// NewProvider discovers the issuer and returns a ready Provider. Discovery is
// retried with exponential backoff; a final failure wraps ErrDiscovery.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OIDC configuration: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DiscoveryAttempts == 0 {
		cfg.DiscoveryAttempts = DefaultDiscoveryAttempts
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	p := &Provider{
		httpClient:   cfg.HTTPClient,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		timeout:      cfg.Timeout,
		observer:     cfg.Observer,
		tracer:       otel.Tracer(instrumentationName),
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxInterval = 5 * time.Second

	oidcProvider, err := backoff.Retry(ctx, func() (*oidc.Provider, error) {
		var provider *oidc.Provider
		err := p.call(ctx, OpDiscover, func(ctx context.Context) error {
			var err error
			provider, err = oidc.NewProvider(ctx, cfg.Issuer)
			return err
		})
		return provider, err
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(cfg.DiscoveryAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("oidc discovery failed, retrying", "issuer", cfg.Issuer, "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	if err := oidcProvider.Claims(&p.metadata); err != nil {
		return nil, fmt.Errorf("%w: failed to extract provider claims: %w", ErrDiscovery, err)
	}
	if p.metadata.AuthorizationEndpoint == "" || p.metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: discovery document lacks authorization or token endpoint", ErrDiscovery)
	}

	endpoint := oidcProvider.Endpoint()
	p.provider = oidcProvider
	p.oauth2Config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoint.AuthURL,
			TokenURL:  endpoint.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	p.verifier = oidcProvider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	slog.Debug("oidc provider discovered",
		"issuer", p.metadata.Issuer,
		"introspection_supported", p.metadata.IntrospectionEndpoint != "",
		"end_session_supported", p.metadata.EndSessionEndpoint != "",
	)

	return p, nil
}

// Metadata returns the memoized discovery document.
func (p *Provider) Metadata() IssuerMetadata {
	return p.metadata
}

// HTTPClient returns the client used for provider calls, for components such
// as the signing key cache that fetch from the same issuer.
func (p *Provider) HTTPClient() *http.Client {
	return p.httpClient
}

// AuthorizationURL builds the URL that starts an authorization-code flow.
// It performs no I/O. redirectURI overrides the configured one when non-empty.
func (p *Provider) AuthorizationURL(state, nonce, redirectURI string) string {
	opts := []oauth2.AuthCodeOption{oidc.Nonce(nonce)}
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	return p.oauth2Config.AuthCodeURL(state, opts...)
}

// ExchangeCallback validates the callback parameters against the expected
// state, exchanges the authorization code and verifies the returned ID token
// and its nonce. Every failure wraps ErrCallbackExchange.
func (p *Provider) ExchangeCallback(ctx context.Context, params url.Values, expectedState, nonce string) (*Tokens, error) {
	if expectedState == "" || params.Get("state") != expectedState {
		return nil, fmt.Errorf("%w: %w", ErrCallbackExchange, ErrStateMismatch)
	}
	if errCode := params.Get("error"); errCode != "" {
		return nil, fmt.Errorf("%w: provider returned %q: %s", ErrCallbackExchange, errCode, params.Get("error_description"))
	}
	code := params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrCallbackExchange)
	}

	var tokens *Tokens
	err := p.call(ctx, OpExchange, func(ctx context.Context) error {
		token, err := p.oauth2Config.Exchange(ctx, code)
		if err != nil {
			return err
		}
		tokens = tokensFrom(token, nil)
		if tokens.IDToken == "" {
			return errors.New("ID token required for OIDC provider")
		}
		return p.validateIDToken(ctx, tokens.IDToken, nonce)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCallbackExchange, err)
	}

	slog.Debug("authorization code exchange successful",
		"has_refresh_token", tokens.RefreshToken != "",
		"expires_at", tokens.ExpiresAt.Format(time.RFC3339),
	)
	return tokens, nil
}

func (p *Provider) validateIDToken(ctx context.Context, idToken, nonce string) error {
	token, err := p.verifier.Verify(ctx, idToken)
	if err != nil {
		return fmt.Errorf("failed to verify ID token: %w", err)
	}
	if nonce != "" {
		if token.Nonce == "" {
			return ErrNonceMissing
		}
		if token.Nonce != nonce {
			return ErrNonceMismatch
		}
	}
	return nil
}

// Refresh exchanges a refresh token for a new credential triple. A response
// without a refresh or ID token keeps the previous refresh token and leaves
// the ID token empty for the caller to retain. Every failure wraps ErrRefresh.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefresh)
	}

	var tokens *Tokens
	err := p.call(ctx, OpRefresh, func(ctx context.Context) error {
		token, err := p.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return err
		}
		tokens = tokensFrom(token, &Tokens{RefreshToken: refreshToken})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefresh, err)
	}
	return tokens, nil
}

// Introspect asks the issuer whether token is still active (RFC 7662).
// tokenTypeHint is typically "refresh_token".
func (p *Provider) Introspect(ctx context.Context, token, tokenTypeHint string) (*IntrospectionResult, error) {
	if p.metadata.IntrospectionEndpoint == "" {
		return nil, ErrIntrospectionUnsupported
	}

	var result IntrospectionResult
	err := p.call(ctx, OpIntrospect, func(ctx context.Context) error {
		form := url.Values{"token": {token}}
		if tokenTypeHint != "" {
			form.Set("token_type_hint", tokenTypeHint)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.metadata.IntrospectionEndpoint,
			strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("failed to create introspection request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.SetBasicAuth(url.QueryEscape(p.clientID), url.QueryEscape(p.clientSecret))

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("introspection call failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if err := networking.CheckResponse(resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode introspection JSON: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntrospection, err)
	}
	return &result, nil
}

// UserInfo fetches the canonical profile for the access token's subject.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	var info *UserInfo
	err := p.call(ctx, OpUserInfo, func(ctx context.Context) error {
		ui, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
		}))
		if err != nil {
			return err
		}
		claims := map[string]any{}
		if err := ui.Claims(&claims); err != nil {
			return fmt.Errorf("failed to decode userinfo claims: %w", err)
		}
		info = &UserInfo{Subject: ui.Subject, Email: ui.Email, Claims: claims}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserInfo, err)
	}
	return info, nil
}

// EndSessionURL builds the RP-initiated logout URL. It performs no I/O.
func (p *Provider) EndSessionURL(idTokenHint, postLogoutRedirectURI string) (string, error) {
	if p.metadata.EndSessionEndpoint == "" {
		return "", ErrNoEndSession
	}
	u, err := url.Parse(p.metadata.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid end_session_endpoint: %w", err)
	}

	q := u.Query()
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	q.Set("client_id", p.clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// call runs fn with the provider timeout, the provider HTTP client, a span
// and the observer.
func (p *Provider) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = oidc.ClientContext(ctx, p.httpClient)

	ctx, span := p.tracer.Start(ctx, "oidc."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if p.observer != nil {
		p.observer.ObserveProviderCall(op, time.Since(start), err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			span.SetAttributes(attribute.String("oauth2.error_code", retrieveErr.ErrorCode))
		}
	}
	return err
}

func tokensFrom(token *oauth2.Token, previous *Tokens) *Tokens {
	tokens := &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	if previous != nil && tokens.RefreshToken == "" {
		tokens.RefreshToken = previous.RefreshToken
	}
	return tokens
}
