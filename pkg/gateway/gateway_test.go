// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/gqlgate/pkg/auth"
	"github.com/stacklok/gqlgate/pkg/auth/oidc"
	"github.com/stacklok/gqlgate/pkg/session"
	"github.com/stacklok/gqlgate/pkg/storage/sqlite"
	"github.com/stacklok/gqlgate/pkg/testkit"
	"github.com/stacklok/gqlgate/pkg/users"
)

const (
	testRedirectURI   = "http://gateway.test/api/auth/callback"
	testPostLogoutURI = "http://gateway.test/"
	testSessionSecret = "0123456789abcdef0123456789abcdef"
	protectedPath     = "/protected"
)

type harness struct {
	idp      *testkit.OIDCServer
	gateway  *Gateway
	sessions *session.MemoryStore
	cookies  *session.CookieManager
	users    *sqlite.UserStore
	metrics  *Metrics
	handler  http.Handler
}

func newHarness(t *testing.T, opts ...testkit.OIDCServerOption) *harness {
	t.Helper()
	ctx := t.Context()

	idp, err := testkit.NewOIDCTestServer(opts...)
	require.NoError(t, err)
	t.Cleanup(idp.Close)

	metrics := NewMetrics(prometheus.NewRegistry())

	provider, err := oidc.NewProvider(ctx, oidc.Config{
		Issuer:       idp.Issuer(),
		ClientID:     idp.ClientID,
		ClientSecret: idp.ClientSecret,
		RedirectURI:  testRedirectURI,
		HTTPClient:   idp.Client(),
		Observer:     metrics,
	})
	require.NoError(t, err)

	keys := auth.NewKeyCache(
		&auth.HTTPKeySetFetcher{URL: provider.Metadata().JWKSURI, Client: idp.Client()},
		auth.KeyCacheConfig{},
	)
	verifier := auth.NewVerifier(keys, auth.VerifierConfig{Issuer: idp.Issuer()})

	sessions := session.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = sessions.Close() })

	cookies, err := session.NewCookieManager(session.CookieConfig{Secret: []byte(testSessionSecret)})
	require.NoError(t, err)

	store, err := sqlite.NewUserStoreFromPath(ctx, filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g, err := New(Config{
		Provider:              provider,
		Verifier:              verifier,
		Sessions:              sessions,
		SessionCookies:        cookies,
		Reconciler:            users.NewReconciler(store, users.WithObserver(metrics), users.WithLogger(logger)),
		Users:                 store,
		PostLogoutRedirectURI: testPostLogoutURI,
		Metrics:               metrics,
		Logger:                logger,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount("/api", g.Router())
	r.With(g.Middleware).Get(protectedPath, func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, "no identity", http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Subject", identity.Subject)
		w.Header().Set("X-Authorization", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, "ok")
	})

	return &harness{
		idp:      idp,
		gateway:  g,
		sessions: sessions,
		cookies:  cookies,
		users:    store,
		metrics:  metrics,
		handler:  r,
	}
}

// client replays cookies between requests to the harness, like a browser.
type client struct {
	h       *harness
	jar     map[string]string
	browser bool
}

func (h *harness) browser() *client {
	return &client{h: h, jar: map[string]string{}, browser: true}
}

func (h *harness) api() *client {
	return &client{h: h, jar: map[string]string{}}
}

func (c *client) request(method, target string, header http.Header) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if c.browser {
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	for name, value := range c.jar {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req
}

func (c *client) do(req *http.Request) *http.Response {
	rec := httptest.NewRecorder()
	c.h.handler.ServeHTTP(rec, req)
	resp := rec.Result()
	for _, ck := range resp.Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(c.jar, ck.Name)
		} else {
			c.jar[ck.Name] = ck.Value
		}
	}
	return resp
}

func (c *client) get(target string) *http.Response {
	return c.do(c.request(http.MethodGet, target, nil))
}

func (c *client) getWithToken(target, token string) *http.Response {
	return c.do(c.request(http.MethodGet, target, http.Header{"Authorization": {"Bearer " + token}}))
}

// sessionID returns the verified session id currently held by the client.
func (c *client) sessionID(t *testing.T) string {
	t.Helper()
	req := c.request(http.MethodGet, "/", nil)
	id, ok := c.h.cookies.ID(req)
	require.True(t, ok, "client holds no session cookie")
	return id
}

// startLogin requests a protected page and returns the authorization URL.
func (c *client) startLogin(t *testing.T) *url.URL {
	t.Helper()
	resp := c.get(protectedPath)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	u, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u.String(), c.h.idp.URL+"/authorize"), u.String())
	return u
}

// authorize completes the login at the provider and returns the callback URL.
func (c *client) authorize(t *testing.T, authURL *url.URL) *url.URL {
	t.Helper()
	noRedirect := *c.h.idp.Client()
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := noRedirect.Get(authURL.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	callback, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return callback
}

// login runs a full authorization-code flow and returns the final response.
func (c *client) login(t *testing.T) *http.Response {
	t.Helper()
	callback := c.authorize(t, c.startLogin(t))
	return c.get(callback.RequestURI())
}

func TestMiddleware_LoginRedirect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.browser()

	first := c.startLogin(t)
	q := first.Query()
	assert.Equal(t, h.idp.ClientID, q.Get("client_id"))
	assert.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Contains(t, q.Get("scope"), "openid")
	assert.Len(t, q.Get("state"), 43)
	assert.Len(t, q.Get("nonce"), 43)

	flow, err := h.sessions.GetFlow(t.Context(), c.sessionID(t))
	require.NoError(t, err)
	assert.Equal(t, q.Get("state"), flow.State)
	assert.Equal(t, q.Get("nonce"), flow.Nonce)

	second := c.startLogin(t)
	assert.NotEqual(t, q.Get("state"), second.Query().Get("state"))
	assert.NotEqual(t, q.Get("nonce"), second.Query().Get("nonce"))

	flow, err = h.sessions.GetFlow(t.Context(), c.sessionID(t))
	require.NoError(t, err)
	assert.Equal(t, second.Query().Get("state"), flow.State, "latest login attempt wins")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Redirects.WithLabelValues(ReasonNeedsLogin)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Redirects.WithLabelValues(ReasonNoToken)))
}

func TestMiddleware_NonBrowserGets401(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			c := h.api()
			// A POST is never redirected, whatever it accepts.
			c.browser = method == http.MethodPost
			resp := c.do(c.request(method, protectedPath, nil))
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
			assert.Empty(t, resp.Header.Get("Location"))
		})
	}
	assert.Equal(t, 0, h.sessions.Len())
}

func TestMiddleware_CompletesLogin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.browser()

	resp := c.login(t)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/api/auth/user", resp.Header.Get("Location"))

	assert.True(t, strings.HasPrefix(c.jar[AccessTokenCookie], "Bearer "))
	assert.NotEmpty(t, c.jar[RefreshTokenCookie])
	assert.NotEmpty(t, c.jar[IDTokenCookie])
	for _, ck := range resp.Cookies() {
		if ck.Name == AccessTokenCookie {
			assert.True(t, ck.HttpOnly)
			assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
			assert.Equal(t, "/", ck.Path)
		}
	}

	_, err := h.sessions.GetFlow(t.Context(), c.sessionID(t))
	assert.ErrorIs(t, err, session.ErrNotFound, "flow state is consumed")

	user, err := h.users.FindUserBySubjectID(t.Context(), h.idp.Subject())
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada", user.Name)

	// The cookies alone now authenticate.
	resp = c.get(protectedPath)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, h.idp.Subject(), resp.Header.Get("X-Subject"))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Classifications.WithLabelValues("callback_pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UserReconciliations.WithLabelValues(users.ResultCreated)))
	assert.Zero(t, testutil.ToFloat64(h.metrics.UserReconciliations.WithLabelValues(users.ResultUpdated)))
	assert.Positive(t, testutil.CollectAndCount(h.metrics.ProviderDuration))
}

func TestMiddleware_ReplayedCallbackIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.browser()

	callback := c.authorize(t, c.startLogin(t))
	resp := c.get(callback.RequestURI())
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	tokenRequests := h.idp.TokenRequests()

	// Replay from a browser that dropped the credentials but kept the session.
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, IDTokenCookie} {
		delete(c.jar, name)
	}
	resp = c.get(callback.RequestURI())
	require.Equal(t, http.StatusFound, resp.StatusCode)
	fresh, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.NotEqual(t, callback.Query().Get("state"), fresh.Query().Get("state"))
	assert.Equal(t, tokenRequests, h.idp.TokenRequests(), "no second exchange")
}

func TestMiddleware_StateMismatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.browser()

	authURL := c.startLogin(t)
	callback := c.authorize(t, authURL)
	q := callback.Query()
	q.Set("state", "forged-state")
	callback.RawQuery = q.Encode()

	resp := c.get(callback.RequestURI())
	require.Equal(t, http.StatusFound, resp.StatusCode)
	fresh, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(fresh.String(), h.idp.URL+"/authorize"))
	assert.NotEqual(t, authURL.Query().Get("state"), fresh.Query().Get("state"))
	assert.Equal(t, 0, h.idp.TokenRequests(), "code is never redeemed")
	assert.Empty(t, c.jar[AccessTokenCookie])

	_, err = h.users.FindUserBySubjectID(t.Context(), h.idp.Subject())
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Redirects.WithLabelValues(ReasonCallbackFailed)))
}

func TestMiddleware_ProviderErrorOnCallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.browser()

	state := c.startLogin(t).Query().Get("state")
	resp := c.get(fmt.Sprintf("/api/auth/callback?error=access_denied&state=%s", url.QueryEscape(state)))
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, 0, h.idp.TokenRequests())
}

func TestMiddleware_ValidToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	token, err := h.idp.AccessToken(time.Now().Add(time.Hour))
	require.NoError(t, err)

	t.Run("authorization header", func(t *testing.T) {
		t.Parallel()
		resp := h.api().getWithToken(protectedPath, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, h.idp.Subject(), resp.Header.Get("X-Subject"))
		assert.Equal(t, "Bearer "+token, resp.Header.Get("X-Authorization"))
	})

	t.Run("cookie with active refresh token", func(t *testing.T) {
		t.Parallel()
		c := h.api()
		c.jar[AccessTokenCookie] = "Bearer " + token
		c.jar[RefreshTokenCookie] = h.idp.IssueRefreshToken()

		resp := c.get(protectedPath)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Bearer "+token, resp.Header.Get("X-Authorization"), "cookie token is forwarded as a header")
	})
}

func TestMiddleware_AccessTokenForAnotherAudience(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testkit.WithAccessTokenAudience("account"))
	c := h.browser()

	resp := c.login(t)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	for range 3 {
		resp = c.get(protectedPath)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, h.idp.Subject(), resp.Header.Get("X-Subject"))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Classifications.WithLabelValues("valid_token")))
	assert.Equal(t, 1, h.idp.TokenRequests(), "no further logins")
}

func TestMiddleware_Refresh(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.api()

	expired, err := h.idp.AccessToken(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	refreshToken := h.idp.IssueRefreshToken()
	c.jar[AccessTokenCookie] = "Bearer " + expired
	c.jar[RefreshTokenCookie] = refreshToken
	c.jar[IDTokenCookie] = "previous-id-token"

	resp := c.get(protectedPath)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	newToken := strings.TrimPrefix(c.jar[AccessTokenCookie], "Bearer ")
	assert.NotEqual(t, expired, newToken)
	assert.Equal(t, "Bearer "+newToken, resp.Header.Get("X-Authorization"))
	assert.NotEqual(t, refreshToken, c.jar[RefreshTokenCookie], "rotated refresh token is stored")
	assert.NotEqual(t, "previous-id-token", c.jar[IDTokenCookie])

	claims, err := h.gateway.verifier.Verify(t.Context(), newToken)
	require.NoError(t, err)
	assert.Equal(t, h.idp.Subject(), claims["sub"])
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Classifications.WithLabelValues("expired_refreshable")))
}

func TestMiddleware_RefreshWithoutRotationKeepsTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testkit.WithoutRefreshRotation())
	c := h.api()

	expired, err := h.idp.AccessToken(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	refreshToken := h.idp.IssueRefreshToken()
	c.jar[AccessTokenCookie] = "Bearer " + expired
	c.jar[RefreshTokenCookie] = refreshToken
	c.jar[IDTokenCookie] = "previous-id-token"

	resp := c.get(protectedPath)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, refreshToken, c.jar[RefreshTokenCookie])
	assert.Equal(t, "previous-id-token", c.jar[IDTokenCookie])
}

func TestMiddleware_RejectsAndRedirects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	valid, err := h.idp.AccessToken(time.Now().Add(time.Hour))
	require.NoError(t, err)
	expired, err := h.idp.AccessToken(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	revoked := h.idp.IssueRefreshToken()
	h.idp.Revoke(revoked)

	tests := []struct {
		name    string
		access  string
		refresh string
	}{
		{"garbage token", "Bearer not-a-jwt", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ""},
		{"expired without refresh token", "Bearer " + expired, ""},
		{"expired with revoked refresh token", "Bearer " + expired, revoked},
		{"valid with revoked refresh token", "Bearer " + valid, revoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := h.browser()
			c.jar[AccessTokenCookie] = tt.access
			if tt.refresh != "" {
				c.jar[RefreshTokenCookie] = tt.refresh
			}

			resp := c.get(protectedPath)
			require.Equal(t, http.StatusFound, resp.StatusCode)
			assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), h.idp.URL+"/authorize"))
			assert.NotContains(t, c.jar, AccessTokenCookie, "credential cookies are cleared")
			assert.NotContains(t, c.jar, RefreshTokenCookie)
		})
	}
}

func TestMiddleware_WithoutIntrospection(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testkit.WithoutIntrospection())
	c := h.api()

	token, err := h.idp.AccessToken(time.Now().Add(time.Hour))
	require.NoError(t, err)
	c.jar[AccessTokenCookie] = "Bearer " + token
	c.jar[RefreshTokenCookie] = "opaque"

	resp := c.get(protectedPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, h.idp.Introspections())
}

func TestClassify(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	valid, err := h.idp.AccessToken(time.Now().Add(time.Hour))
	require.NoError(t, err)
	expired, err := h.idp.AccessToken(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	active := h.idp.IssueRefreshToken()
	revoked := h.idp.IssueRefreshToken()
	h.idp.Revoke(revoked)

	// A session with a pending flow.
	rec := httptest.NewRecorder()
	sessionID, err := h.cookies.Ensure(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sessionCookie := rec.Result().Cookies()[0]
	flow, err := session.NewFlowState()
	require.NoError(t, err)
	require.NoError(t, h.sessions.PutFlow(ctx, sessionID, flow))

	callbackQuery := "?code=abc&state=" + flow.State

	tests := []struct {
		name      string
		target    string
		header    string
		access    string
		refresh   string
		pending   bool
		wantState State
	}{
		{name: "nothing", target: "/", wantState: NeedsLogin},
		{name: "callback without flow", target: "/" + callbackQuery, wantState: NeedsLogin},
		{name: "pending flow", target: "/", pending: true, wantState: NoToken},
		{name: "pending flow with callback", target: "/" + callbackQuery, pending: true, wantState: CallbackPending},
		{name: "pending flow with error callback", target: "/?error=access_denied&state=x", pending: true, wantState: CallbackPending},
		{name: "valid header", target: "/", header: "Bearer " + valid, wantState: ValidToken},
		{name: "valid cookie", target: "/", access: "Bearer " + valid, wantState: ValidToken},
		{name: "valid with active refresh", target: "/", header: "Bearer " + valid, refresh: active, wantState: ValidToken},
		{name: "valid with revoked refresh", target: "/", header: "Bearer " + valid, refresh: revoked, wantState: Invalid},
		{name: "expired with active refresh", target: "/", header: "Bearer " + expired, refresh: active, wantState: ExpiredRefreshable},
		{name: "expired alone", target: "/", header: "Bearer " + expired, wantState: Invalid},
		{name: "expired with revoked refresh", target: "/", header: "Bearer " + expired, refresh: revoked, wantState: Invalid},
		{name: "garbage", target: "/", header: "Bearer garbage", wantState: Invalid},
		{name: "garbage with pending flow", target: "/", header: "Bearer garbage", pending: true, wantState: Invalid},
		{name: "garbage during callback", target: "/" + callbackQuery, header: "Bearer garbage", pending: true, wantState: CallbackPending},
		{name: "header wins over cookie", target: "/", header: "Bearer garbage", access: "Bearer " + valid, wantState: Invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.access != "" {
				req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: tt.access})
			}
			if tt.refresh != "" {
				req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: tt.refresh})
			}
			id := ""
			if tt.pending {
				req.AddCookie(sessionCookie)
				id = sessionID
			}

			c := h.gateway.Classify(ctx, req, id)
			assert.Equal(t, tt.wantState, c.State, "reason: %v", c.Reason)
			switch c.State {
			case ValidToken, ExpiredRefreshable:
				assert.Equal(t, h.idp.Subject(), c.Claims["sub"])
			case Invalid:
				assert.Error(t, c.Reason)
			case CallbackPending, NoToken:
				assert.Equal(t, flow.State, c.Flow.State)
			}
		})
	}

	t.Cleanup(func() {
		got, err := h.sessions.GetFlow(context.Background(), sessionID)
		if assert.NoError(t, err, "classification changes nothing") {
			assert.Equal(t, flow.State, got.State)
		}
	})
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "valid_token", ValidToken.String())
	assert.Equal(t, "callback_pending", CallbackPending.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	assert.ErrorContains(t, err, "provider is required")
}

func TestRoutes_CurrentUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.browser()
	c.login(t)

	resp := c.get("/api/auth/user")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		User map[string]any `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, h.idp.Subject(), body.User["sub"])
	assert.Equal(t, "ada@example.com", body.User["email"])
}

func TestRoutes_Login(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.browser()
	c.login(t)

	resp := c.get("/api/auth/login")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/api/auth/user", resp.Header.Get("Location"))
}

func TestRoutes_GetUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.browser()
	c.login(t)

	user, err := h.users.FindUserBySubjectID(t.Context(), h.idp.Subject())
	require.NoError(t, err)

	resp := c.get("/api/users/" + user.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, user.ID, got["id"])
	assert.Equal(t, h.idp.Subject(), got["auth_subject_id"])

	resp = c.get("/api/users/does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutes_Logout(t *testing.T) {
	t.Parallel()

	t.Run("end session", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		c := h.browser()
		c.login(t)
		idToken := c.jar[IDTokenCookie]
		require.NotEmpty(t, idToken)

		resp := c.get("/api/auth/logout")
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		target, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, h.idp.URL+"/logout", target.Scheme+"://"+target.Host+target.Path)
		assert.Equal(t, idToken, target.Query().Get("id_token_hint"))
		assert.Equal(t, testPostLogoutURI, target.Query().Get("post_logout_redirect_uri"))

		assert.Empty(t, c.jar, "session and credential cookies are cleared")
	})

	t.Run("no end session endpoint", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testkit.WithoutEndSession())
		c := h.browser()
		c.startLogin(t)
		sessionID := c.sessionID(t)

		resp := c.get("/api/auth/logout")
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))

		_, err := h.sessions.GetFlow(t.Context(), sessionID)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})
}
