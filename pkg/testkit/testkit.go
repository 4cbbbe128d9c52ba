// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package testkit provides testing utilities for gqlgate.
//
// Its sole purpose is to quickly spin up an HTTP test server that behaves
// like an OpenID Connect provider: discovery, JWKS, authorization, token,
// refresh, introspection, userinfo and end-session endpoints. Tokens are
// real RS256 JWTs so the code under test verifies them exactly as it would
// verify a production issuer's.
package testkit

import (
	"net/http"
	"time"
)

// OIDCServerOption configures a test OIDC server.
type OIDCServerOption func(*OIDCServer) error

// WithMiddlewares wraps the test server's routes with the given middlewares.
func WithMiddlewares(middlewares ...func(http.Handler) http.Handler) OIDCServerOption {
	return func(s *OIDCServer) error {
		s.middlewares = append(s.middlewares, middlewares...)
		return nil
	}
}

// WithClient sets the client credentials the server accepts.
func WithClient(clientID, clientSecret string) OIDCServerOption {
	return func(s *OIDCServer) error {
		s.ClientID = clientID
		s.ClientSecret = clientSecret
		return nil
	}
}

// WithUser sets the subject and profile returned for logins.
func WithUser(subject, email, givenName string) OIDCServerOption {
	return func(s *OIDCServer) error {
		s.subject = subject
		s.email = email
		s.givenName = givenName
		return nil
	}
}

// WithTokenTTL sets the lifetime of issued access tokens.
func WithTokenTTL(ttl time.Duration) OIDCServerOption {
	return func(s *OIDCServer) error {
		s.tokenTTL = ttl
		return nil
	}
}

// WithAccessTokenAudience issues access tokens for audience instead of the
// client, carrying the client id in azp as Keycloak does.
func WithAccessTokenAudience(audience string) OIDCServerOption {
	return func(s *OIDCServer) error {
		s.accessAudience = audience
		return nil
	}
}

// WithoutIntrospection removes introspection_endpoint from discovery.
func WithoutIntrospection() OIDCServerOption {
	return func(s *OIDCServer) error {
		s.noIntrospection = true
		return nil
	}
}

// WithoutEndSession removes end_session_endpoint from discovery.
func WithoutEndSession() OIDCServerOption {
	return func(s *OIDCServer) error {
		s.noEndSession = true
		return nil
	}
}

// WithoutRefreshRotation keeps refresh responses free of a new refresh or ID token.
func WithoutRefreshRotation() OIDCServerOption {
	return func(s *OIDCServer) error {
		s.noRotation = true
		return nil
	}
}
