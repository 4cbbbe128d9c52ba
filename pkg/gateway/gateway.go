// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway authenticates browser and API requests against an OpenID
// Connect provider before they reach the GraphQL backend.
//
// Every request is classified into exactly one State and the middleware runs
// the transition for that state: pass through with an identity attached,
// refresh the access token, complete a pending authorization-code flow, or
// send the caller back to the provider's login page.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/gqlgate/pkg/auth"
	"github.com/stacklok/gqlgate/pkg/auth/oidc"
	"github.com/stacklok/gqlgate/pkg/session"
	"github.com/stacklok/gqlgate/pkg/storage"
)

// DefaultBasePath is the prefix the auth routes are mounted under.
const DefaultBasePath = "/api"

// Provider is the part of the OIDC provider adapter the gateway uses.
type Provider interface {
	AuthorizationURL(state, nonce, redirectURI string) string
	ExchangeCallback(ctx context.Context, params url.Values, expectedState, nonce string) (*oidc.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*oidc.Tokens, error)
	Introspect(ctx context.Context, token, tokenTypeHint string) (*oidc.IntrospectionResult, error)
	UserInfo(ctx context.Context, accessToken string) (*oidc.UserInfo, error)
	EndSessionURL(idTokenHint, postLogoutRedirectURI string) (string, error)
}

// TokenVerifier verifies access tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (jwt.MapClaims, error)
}

// UserReconciler records the authenticated user after a login.
type UserReconciler interface {
	Reconcile(ctx context.Context, subjectID, email, name string)
}

// Config wires a Gateway.
type Config struct {
	Provider       Provider
	Verifier       TokenVerifier
	Sessions       session.Store
	SessionCookies *session.CookieManager
	Reconciler     UserReconciler
	// Users serves the user lookup route.
	Users storage.UserStore

	Cookies CookieConfig
	// RedirectURI overrides the provider's registered redirect URI when set.
	RedirectURI           string
	PostLogoutRedirectURI string
	// BasePath defaults to DefaultBasePath.
	BasePath string

	Metrics *Metrics
	Logger  *slog.Logger
}

// Gateway is the authentication state machine.
type Gateway struct {
	provider       Provider
	verifier       TokenVerifier
	sessions       session.Store
	sessionCookies *session.CookieManager
	reconciler     UserReconciler
	users          storage.UserStore

	cookies               CookieConfig
	redirectURI           string
	postLogoutRedirectURI string
	basePath              string

	metrics *Metrics
	logger  *slog.Logger
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	switch {
	case cfg.Provider == nil:
		return nil, errors.New("gateway: provider is required")
	case cfg.Verifier == nil:
		return nil, errors.New("gateway: verifier is required")
	case cfg.Sessions == nil:
		return nil, errors.New("gateway: session store is required")
	case cfg.SessionCookies == nil:
		return nil, errors.New("gateway: session cookie manager is required")
	case cfg.Reconciler == nil:
		return nil, errors.New("gateway: user reconciler is required")
	}

	basePath := DefaultBasePath
	if cfg.BasePath != "" {
		basePath = strings.TrimSuffix(cfg.BasePath, "/")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		provider:              cfg.Provider,
		verifier:              cfg.Verifier,
		sessions:              cfg.Sessions,
		sessionCookies:        cfg.SessionCookies,
		reconciler:            cfg.Reconciler,
		users:                 cfg.Users,
		cookies:               cfg.Cookies,
		redirectURI:           cfg.RedirectURI,
		postLogoutRedirectURI: cfg.PostLogoutRedirectURI,
		basePath:              basePath,
		metrics:               cfg.Metrics,
		logger:                logger,
	}, nil
}

// Middleware guards next. A request reaches next only with an
// auth.Identity in its context and a valid bearer token in its
// Authorization header; otherwise it is redirected to the provider or
// answered with 401.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, _ := g.sessionCookies.ID(r)
		c := g.Classify(r.Context(), r, sessionID)
		g.metrics.ObserveClassification(c.State)

		switch c.State {
		case ValidToken:
			g.admit(w, r, next, c.Claims, c.AccessToken, c.RefreshToken)
		case ExpiredRefreshable:
			g.refresh(w, r, next, sessionID, c)
		case CallbackPending:
			g.completeLogin(w, r, next, sessionID)
		case Invalid:
			g.logger.Debug("rejecting token", "reason", c.Reason)
			g.redirectToLogin(w, r, sessionID, ReasonInvalid)
		case NoToken:
			g.redirectToLogin(w, r, sessionID, ReasonNoToken)
		default:
			g.redirectToLogin(w, r, sessionID, ReasonNeedsLogin)
		}
	})
}

// admit attaches the identity built from claims and calls next.
func (g *Gateway) admit(
	w http.ResponseWriter, r *http.Request, next http.Handler,
	claims map[string]any, accessToken, refreshToken string,
) {
	identity, err := auth.IdentityFromClaims(claims, accessToken, refreshToken)
	if err != nil {
		g.logger.Warn("token carries no usable identity", "error", err)
		g.redirectToLogin(w, r, "", ReasonInvalid)
		return
	}

	r = r.WithContext(auth.WithIdentity(r.Context(), identity))
	r.Header = r.Header.Clone()
	r.Header.Set("Authorization", "Bearer "+accessToken)
	next.ServeHTTP(w, r)
}

func (g *Gateway) refresh(w http.ResponseWriter, r *http.Request, next http.Handler, sessionID string, c Classification) {
	ctx := r.Context()

	tokens, err := g.provider.Refresh(ctx, c.RefreshToken)
	if err != nil {
		g.logger.Info("token refresh failed", "error", err)
		g.redirectToLogin(w, r, sessionID, ReasonRefreshFailed)
		return
	}
	claims, err := g.verifier.Verify(ctx, tokens.AccessToken)
	if err != nil {
		g.logger.Warn("refreshed access token does not verify", "error", err)
		g.redirectToLogin(w, r, sessionID, ReasonRefreshFailed)
		return
	}

	idToken := tokens.IDToken
	if idToken == "" {
		idToken = c.IDToken
	}
	g.cookies.setCredentials(w, tokens.AccessToken, tokens.RefreshToken, idToken)
	g.logger.Debug("access token refreshed", "sub", claims["sub"])
	g.admit(w, r, next, claims, tokens.AccessToken, tokens.RefreshToken)
}

// completeLogin consumes the pending flow and redeems the callback. The flow
// is removed before the exchange so a replayed callback finds nothing.
func (g *Gateway) completeLogin(w http.ResponseWriter, r *http.Request, next http.Handler, sessionID string) {
	ctx := r.Context()

	flow, err := g.sessions.TakeFlow(ctx, sessionID)
	if err != nil {
		g.logger.Info("pending login flow is gone", "error", err)
		g.redirectToLogin(w, r, sessionID, ReasonCallbackFailed)
		return
	}

	tokens, err := g.provider.ExchangeCallback(ctx, r.URL.Query(), flow.State, flow.Nonce)
	if err != nil {
		g.logger.Info("authorization callback rejected", "error", err)
		g.redirectToLogin(w, r, sessionID, ReasonCallbackFailed)
		return
	}

	info, err := g.provider.UserInfo(ctx, tokens.AccessToken)
	if err != nil {
		g.logger.Warn("failed to fetch userinfo after login", "error", err)
		g.redirectToLogin(w, r, sessionID, ReasonUserInfoFailed)
		return
	}

	g.reconciler.Reconcile(ctx, info.Subject, info.Email, profileName(info.Claims))
	g.cookies.setCredentials(w, tokens.AccessToken, tokens.RefreshToken, tokens.IDToken)
	g.logger.Info("login completed", "sub", info.Subject)
	g.admit(w, r, next, info.Claims, tokens.AccessToken, tokens.RefreshToken)
}

// redirectToLogin clears the flow state and the credential cookies, then
// starts a new authorization-code flow. Callers that cannot follow a
// redirect to a login page get 401 instead.
func (g *Gateway) redirectToLogin(w http.ResponseWriter, r *http.Request, sessionID, reason string) {
	ctx := r.Context()
	g.metrics.ObserveRedirect(reason)

	if sessionID == "" {
		sessionID, _ = g.sessionCookies.ID(r)
	}
	if sessionID != "" {
		if err := g.sessions.DeleteFlow(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
			g.logger.Warn("failed to clear flow state", "error", err)
		}
	}
	g.cookies.clearCredentials(w)

	if !acceptsRedirect(r) {
		w.Header().Set("WWW-Authenticate", `Bearer`)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	authURL, err := g.startFlow(w, r)
	if err != nil {
		g.logger.Error("failed to start login flow", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// startFlow stores a fresh {state, nonce} for the caller's session and
// returns the provider authorization URL carrying them.
func (g *Gateway) startFlow(w http.ResponseWriter, r *http.Request) (string, error) {
	sessionID, err := g.sessionCookies.Ensure(w, r)
	if err != nil {
		return "", err
	}
	flow, err := session.NewFlowState()
	if err != nil {
		return "", err
	}
	if err := g.sessions.PutFlow(r.Context(), sessionID, flow); err != nil {
		return "", fmt.Errorf("failed to store flow state: %w", err)
	}
	return g.provider.AuthorizationURL(flow.State, flow.Nonce, g.redirectURI), nil
}

// acceptsRedirect reports whether r looks like a browser navigation.
func acceptsRedirect(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// profileName picks the display name the provider released.
func profileName(claims map[string]any) string {
	for _, key := range []string{"given_name", "preferred_username"} {
		if s, _ := claims[key].(string); s != "" {
			return s
		}
	}
	return ""
}
