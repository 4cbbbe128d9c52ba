// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/gqlgate/pkg/auth"
	"github.com/stacklok/gqlgate/pkg/auth/oidc"
	"github.com/stacklok/gqlgate/pkg/session"
)

// State is the authentication state of a request.
type State int

const (
	// NeedsLogin means there is no token and no pending flow.
	NeedsLogin State = iota
	// NoToken means a flow is pending but the request is not its callback.
	NoToken
	// ValidToken means the access token verifies and its refresh token is active.
	ValidToken
	// ExpiredRefreshable means the access token only failed on exp and its
	// refresh token is active.
	ExpiredRefreshable
	// Invalid means the token failed verification, or its refresh token is
	// inactive, or it is expired without a refresh token.
	Invalid
	// CallbackPending means a flow is pending and the request carries its callback.
	CallbackPending
)

var stateNames = map[State]string{
	NeedsLogin:         "needs_login",
	NoToken:            "no_token",
	ValidToken:         "valid_token",
	ExpiredRefreshable: "expired_refreshable",
	Invalid:            "invalid",
	CallbackPending:    "callback_pending",
}

// String returns the state's metric label.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Classification is the outcome of Classify together with what the
// transition for that state needs.
type Classification struct {
	State State
	// Claims are set for ValidToken and ExpiredRefreshable.
	Claims jwt.MapClaims
	// Credentials found on the request.
	AccessToken  string
	RefreshToken string
	IDToken      string
	// Flow is the pending flow for NoToken and CallbackPending.
	Flow *session.FlowState
	// Reason explains Invalid.
	Reason error
}

// Classify determines the request's State. It performs token verification,
// introspection of the refresh token and a read of the session flow, and
// changes nothing.
func (g *Gateway) Classify(ctx context.Context, r *http.Request, sessionID string) Classification {
	c := Classification{
		RefreshToken: cookieValue(r, RefreshTokenCookie),
		IDToken:      cookieValue(r, IDTokenCookie),
	}

	token, tokenErr := auth.ExtractBearerToken(r, AccessTokenCookie)
	hasToken := !errors.Is(tokenErr, auth.ErrNoToken)
	c.AccessToken = token

	if hasToken {
		if tokenErr != nil {
			c.State, c.Reason = Invalid, tokenErr
		} else if g.classifyToken(ctx, &c) {
			return c
		}
	}

	flow := g.pendingFlow(ctx, sessionID)
	switch {
	case flow != nil && isCallback(r):
		c.State, c.Flow, c.Reason = CallbackPending, flow, nil
	case hasToken:
		// Invalid, already set
	case flow != nil:
		c.State, c.Flow = NoToken, flow
	default:
		c.State = NeedsLogin
	}
	return c
}

// classifyToken sets c.State for a present token. It reports true when the
// state is final, that is ValidToken or ExpiredRefreshable.
func (g *Gateway) classifyToken(ctx context.Context, c *Classification) bool {
	claims, err := g.verifier.Verify(ctx, c.AccessToken)
	switch {
	case err == nil:
		c.State = ValidToken
	case errors.Is(err, auth.ErrTokenExpired) && c.RefreshToken != "":
		c.State = ExpiredRefreshable
	default:
		c.State, c.Reason = Invalid, err
		return false
	}

	if c.RefreshToken != "" {
		if err := g.refreshTokenActive(ctx, c.RefreshToken); err != nil {
			c.State, c.Reason = Invalid, err
			return false
		}
	}
	c.Claims = claims
	return true
}

// refreshTokenActive returns nil when the issuer reports the refresh token
// active or publishes no introspection endpoint. Introspection failures count
// as inactive.
func (g *Gateway) refreshTokenActive(ctx context.Context, refreshToken string) error {
	result, err := g.provider.Introspect(ctx, refreshToken, "refresh_token")
	if errors.Is(err, oidc.ErrIntrospectionUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}
	if !result.Active {
		return oidc.ErrIntrospectionInactive
	}
	return nil
}

func (g *Gateway) pendingFlow(ctx context.Context, sessionID string) *session.FlowState {
	if sessionID == "" {
		return nil
	}
	flow, err := g.sessions.GetFlow(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			g.logger.Warn("failed to read flow state", "error", err)
		}
		return nil
	}
	return flow
}

// isCallback reports whether r carries authorization response parameters.
func isCallback(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("state") != "" && (q.Get("code") != "" || q.Get("error") != "")
}
