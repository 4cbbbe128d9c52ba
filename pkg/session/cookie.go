// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultCookieName is the cookie carrying the signed session id.
const DefaultCookieName = "gqlgate_session"

// MinSecretLength is the minimum accepted signing secret length in bytes.
const MinSecretLength = 32

// ErrShortSecret is returned when the signing secret is too short.
var ErrShortSecret = fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)

// CookieConfig configures a CookieManager.
type CookieConfig struct {
	Name   string
	Secret []byte
	Secure bool
	Path   string
	Domain string
	// MaxAge of the session cookie. Zero makes it a browser-session cookie.
	MaxAge time.Duration
}

// CookieManager issues and verifies the session id cookie. The value is
// "<id>.<mac>" where mac is HMAC-SHA256 of the id under the secret.
type CookieManager struct {
	name   string
	secret []byte
	secure bool
	path   string
	domain string
	maxAge time.Duration
}

// NewCookieManager creates a CookieManager.
func NewCookieManager(cfg CookieConfig) (*CookieManager, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	if cfg.Name == "" {
		cfg.Name = DefaultCookieName
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &CookieManager{
		name:   cfg.Name,
		secret: cfg.Secret,
		secure: cfg.Secure,
		path:   cfg.Path,
		domain: cfg.Domain,
		maxAge: cfg.MaxAge,
	}, nil
}

// ID returns the verified session id from r. A missing or tampered cookie
// reports false.
func (m *CookieManager) ID(r *http.Request) (string, bool) {
	c, err := r.Cookie(m.name)
	if err != nil {
		return "", false
	}
	id, err := m.verify(c.Value)
	if err != nil {
		return "", false
	}
	return id, true
}

// Ensure returns the request's session id, issuing a new one and setting the
// cookie on w when the request has none.
func (m *CookieManager) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if id, ok := m.ID(r); ok {
		return id, nil
	}
	id, err := randomValue()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	http.SetCookie(w, m.cookie(m.sign(id), int(m.maxAge.Seconds())))
	return id, nil
}

// Clear expires the session cookie.
func (m *CookieManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie("", -1))
}

func (m *CookieManager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    value,
		Path:     m.path,
		Domain:   m.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *CookieManager) sign(id string) string {
	return id + "." + base64.RawURLEncoding.EncodeToString(m.mac(id))
}

func (m *CookieManager) verify(value string) (string, error) {
	id, encoded, found := strings.Cut(value, ".")
	if !found || id == "" {
		return "", errors.New("malformed session cookie")
	}
	sig, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("malformed session cookie signature: %w", err)
	}
	if !hmac.Equal(sig, m.mac(id)) {
		return "", errors.New("session cookie signature mismatch")
	}
	return id, nil
}

func (m *CookieManager) mac(id string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(id))
	return h.Sum(nil)
}
