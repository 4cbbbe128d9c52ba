// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"
)

const (
	testKeyID  = "test-key-1"
	testIssuer = "https://issuer.example.com"
)

// testSigner is an RSA key pair published under a key id.
type testSigner struct {
	kid     string
	private *rsa.PrivateKey
}

func newTestSigner(t *testing.T, kid string) *testSigner {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &testSigner{kid: kid, private: privateKey}
}

func (s *testSigner) jwk(t *testing.T) jwk.Key {
	t.Helper()
	key, err := jwk.Import(&s.private.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, s.kid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
	require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))
	return key
}

func (s *testSigner) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	tokenString, err := token.SignedString(s.private)
	require.NoError(t, err)
	return tokenString
}

func newTestKeySet(t *testing.T, signers ...*testSigner) jwk.Set {
	t.Helper()
	set := jwk.NewSet()
	for _, s := range signers {
		require.NoError(t, set.AddKey(s.jwk(t)))
	}
	return set
}

func validClaims(sub string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":                testIssuer,
		"sub":                sub,
		"aud":                "gqlgate",
		"iat":                time.Now().Add(-time.Minute).Unix(),
		"exp":                exp.Unix(),
		"email":              sub + "@example.com",
		"preferred_username": sub,
	}
}
