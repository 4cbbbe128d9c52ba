// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/gqlgate/pkg/api/errors"
	"github.com/stacklok/gqlgate/pkg/auth"
	"github.com/stacklok/gqlgate/pkg/session"
)

// Router returns the auth and user routes, to be mounted under the base path.
// Everything except logout is guarded by Middleware.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/auth/logout", g.logout)

	r.Group(func(r chi.Router) {
		r.Use(g.Middleware)
		r.Get("/auth/login", g.login)
		r.Get("/auth/callback", g.callback)
		r.Get("/auth/user", apierrors.ErrorHandler(g.currentUser))
		if g.users != nil {
			r.Get("/users/{id}", apierrors.ErrorHandler(g.getUser))
		}
	})
	return r
}

type userResponse struct {
	User map[string]any `json:"user"`
}

// login
//
//	@Summary		Log in
//	@Description	Starts the login flow and lands on the current user once authenticated
//	@Tags			auth
//	@Success		302
//	@Router			/api/auth/login [get]
func (g *Gateway) login(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, g.basePath+"/auth/user", http.StatusFound)
}

// callback
//
//	@Summary		Authorization callback
//	@Description	The provider redirects here; the guard completes the code exchange
//	@Tags			auth
//	@Success		303
//	@Router			/api/auth/callback [get]
func (g *Gateway) callback(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, g.basePath+"/auth/user", http.StatusSeeOther)
}

// currentUser
//
//	@Summary		Current user
//	@Description	Returns the provider's userinfo for the current access token
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	userResponse
//	@Failure		502	{string}	string	"Bad Gateway"
//	@Router			/api/auth/user [get]
func (g *Gateway) currentUser(w http.ResponseWriter, r *http.Request) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return httperr.WithCode(errors.New("no identity"), http.StatusUnauthorized)
	}

	info, err := g.provider.UserInfo(r.Context(), identity.Token)
	if err != nil {
		return httperr.WithCode(fmt.Errorf("failed to fetch userinfo: %w", err), http.StatusBadGateway)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(userResponse{User: info.Claims}); err != nil {
		return fmt.Errorf("failed to encode userinfo: %w", err)
	}
	return nil
}

// getUser
//
//	@Summary		Get a user
//	@Tags			users
//	@Produce		json
//	@Param			id	path		string	true	"User id"
//	@Success		200	{object}	storage.User
//	@Failure		404	{string}	string	"Not Found"
//	@Router			/api/users/{id} [get]
func (g *Gateway) getUser(w http.ResponseWriter, r *http.Request) error {
	user, err := g.users.FindUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(user); err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return nil
}

// logout
//
//	@Summary		Log out
//	@Description	Clears the session and credential cookies and ends the provider session
//	@Tags			auth
//	@Success		303
//	@Router			/api/auth/logout [get]
func (g *Gateway) logout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := g.sessionCookies.ID(r); ok {
		if err := g.sessions.DeleteFlow(r.Context(), sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
			g.logger.Warn("failed to clear flow state on logout", "error", err)
		}
	}
	g.sessionCookies.Clear(w)
	idToken := cookieValue(r, IDTokenCookie)
	g.cookies.clearCredentials(w)

	target, err := g.provider.EndSessionURL(idToken, g.postLogoutRedirectURI)
	if err != nil {
		g.logger.Debug("no end-session URL, redirecting home", "error", err)
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
