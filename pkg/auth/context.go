// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
)

// IdentityContextKey is the key used to store Identity in the request context.
type IdentityContextKey struct{}

// WithIdentity stores an Identity in the context.
// If identity is nil, the original context is returned unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves an Identity from the context.
// Returns the identity and true if present, nil and false otherwise.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity, ok
}

// IdentityFromClaims builds an Identity from verified token or userinfo claims.
// It requires the 'sub' claim per OIDC Core 1.0 § 5.1.
func IdentityFromClaims(claims map[string]any, accessToken, refreshToken string) (*Identity, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w (required by OIDC Core 1.0 § 5.1)", ErrMissingSubject)
	}

	identity := &Identity{
		Subject:      sub,
		Claims:       claims,
		Token:        accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	identity.Email = stringClaim(claims, "email")
	identity.PreferredUsername = stringClaim(claims, "preferred_username")
	identity.EmailVerified, _ = claims["email_verified"].(bool)
	identity.Name = firstNonEmpty(
		stringClaim(claims, "given_name"),
		identity.PreferredUsername,
		stringClaim(claims, "name"),
	)

	return identity, nil
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
