// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth verifies provider-issued access tokens and carries the
// authenticated identity through request contexts.
package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyProvider supplies verification keys by key id.
type KeyProvider interface {
	SigningKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Audience, when set, must be contained in the token's aud claim.
	Audience string
	// Leeway tolerates clock skew when checking exp.
	Leeway time.Duration
}

// Verifier validates RS256 bearer tokens against a KeyProvider.
// Apart from key lookup it performs no I/O.
type Verifier struct {
	keys     KeyProvider
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// NewVerifier creates a Verifier.
func NewVerifier(keys KeyProvider, cfg VerifierConfig) *Verifier {
	return &Verifier{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		leeway:   cfg.Leeway,
		now:      time.Now,
		// Claims are checked by validateClaims so that expiry is reported only
		// when everything else about the token is valid.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify validates the token's signature and claims.
//
// If the signature and every other claim are valid but exp has passed, the
// claims are returned together with an error wrapping ErrTokenExpired so the
// caller can decide whether a refresh is possible. All other failures wrap
// ErrInvalidToken and return nil claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	token, err := v.parser.Parse(tokenString, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: token header missing kid", ErrKeyFetch)
		}
		return v.keys.SigningKey(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	if err := v.validateClaims(claims); err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return claims, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// validateClaims validates the claims in the token. Expiry is checked last.
func (v *Verifier) validateClaims(claims jwt.MapClaims) error {
	if sub, err := claims.GetSubject(); err != nil || sub == "" {
		return ErrMissingSubject
	}

	if v.issuer != "" {
		issuerClaim, err := claims.GetIssuer()
		if err != nil {
			return fmt.Errorf("failed to get issuer from claims: %w", err)
		}
		if strings.TrimSuffix(strings.TrimSpace(issuerClaim), "/") != strings.TrimSuffix(strings.TrimSpace(v.issuer), "/") {
			return ErrInvalidIssuer
		}
	}

	if v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil || !slices.Contains(audiences, v.audience) {
			return ErrInvalidAudience
		}
	}

	if nbf, err := claims.GetNotBefore(); err == nil && nbf != nil && v.now().Add(v.leeway).Before(nbf.Time) {
		return errors.New("token not valid yet")
	}

	expirationTime, err := claims.GetExpirationTime()
	if err != nil || expirationTime == nil {
		return errors.New("missing or invalid 'exp' claim")
	}
	if !v.now().Before(expirationTime.Add(v.leeway)) {
		return ErrTokenExpired
	}

	return nil
}

// ExtractBearerToken returns the bearer token from the Authorization header,
// falling back to the named cookie. Cookie values carry the same
// "Bearer <token>" form as the header.
func ExtractBearerToken(r *http.Request, cookieName string) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return parseBearer(header)
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return parseBearer(c.Value)
		}
	}
	return "", ErrNoToken
}

func parseBearer(value string) (string, error) {
	scheme, token, found := strings.Cut(strings.TrimSpace(value), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: expected Bearer scheme", ErrInvalidToken)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}
