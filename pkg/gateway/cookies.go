// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"net/http"
	"strings"
)

// Credential cookie names.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	IDTokenCookie      = "id_token"
)

// CookieConfig holds the attributes shared by the credential cookies.
type CookieConfig struct {
	Secure bool
	// Path defaults to "/".
	Path   string
	Domain string
}

func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	path := c.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// setCredentials writes the three credential cookies. The access token
// cookie carries the same "Bearer <token>" form as the Authorization header.
// An empty ID token leaves the id_token cookie untouched.
func (c CookieConfig) setCredentials(w http.ResponseWriter, accessToken, refreshToken, idToken string) {
	http.SetCookie(w, c.cookie(AccessTokenCookie, "Bearer "+accessToken, 0))
	http.SetCookie(w, c.cookie(RefreshTokenCookie, refreshToken, 0))
	if idToken != "" {
		http.SetCookie(w, c.cookie(IDTokenCookie, idToken, 0))
	}
}

func (c CookieConfig) clearCredentials(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, IDTokenCookie} {
		http.SetCookie(w, c.cookie(name, "", -1))
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
