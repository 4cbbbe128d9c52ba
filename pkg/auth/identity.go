// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"fmt"
)

// Identity is the authenticated caller attached to a request by the gateway.
type Identity struct {
	// Subject is the provider's stable identifier for the user ('sub' claim).
	Subject string

	// Name is the display name: given_name, then preferred_username, then name.
	Name string

	// Email is the email address, if the provider released it.
	Email string

	// PreferredUsername is the 'preferred_username' claim.
	PreferredUsername string

	// EmailVerified is the 'email_verified' claim.
	EmailVerified bool

	// Claims contains every claim of the verified token or userinfo response.
	Claims map[string]any

	// Token is the access token. Redacted in String() and MarshalJSON().
	Token string

	// RefreshToken is the refresh token, if any. Redacted like Token.
	RefreshToken string

	// TokenType is the type of token, always "Bearer" for now.
	TokenType string
}

// String returns a string representation of the Identity with sensitive fields redacted.
func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}

	return fmt.Sprintf("Identity{Subject:%q}", i.Subject)
}

// MarshalJSON redacts tokens so an Identity can be logged or returned safely.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}

	type SafeIdentity struct {
		Subject           string         `json:"sub"`
		Name              string         `json:"name,omitempty"`
		Email             string         `json:"email,omitempty"`
		EmailVerified     bool           `json:"email_verified"`
		PreferredUsername string         `json:"preferred_username,omitempty"`
		Claims            map[string]any `json:"claims,omitempty"`
		Token             string         `json:"token,omitempty"`
		RefreshToken      string         `json:"refresh_token,omitempty"`
		TokenType         string         `json:"token_type,omitempty"`
	}

	return json.Marshal(&SafeIdentity{
		Subject:           i.Subject,
		Name:              i.Name,
		Email:             i.Email,
		EmailVerified:     i.EmailVerified,
		PreferredUsername: i.PreferredUsername,
		Claims:            i.Claims,
		Token:             redact(i.Token),
		RefreshToken:      redact(i.RefreshToken),
		TokenType:         i.TokenType,
	})
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "REDACTED"
}
