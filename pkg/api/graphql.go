// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/gqlgate/pkg/auth"
	"github.com/stacklok/gqlgate/pkg/logger"
)

// Hasura session headers set on proxied requests when an admin secret is configured.
const (
	HeaderHasuraAdminSecret = "X-Hasura-Admin-Secret"
	HeaderHasuraRole        = "X-Hasura-Role"
	HeaderHasuraUserID      = "X-Hasura-User-Id"

	hasuraUserRole = "user"
)

// GraphQLConfig configures the GraphQL proxy.
type GraphQLConfig struct {
	// Endpoint is the full URL of the upstream GraphQL endpoint.
	Endpoint string
	// AdminSecret, when set, is sent with the caller's role and user id.
	AdminSecret string
	// Timeout bounds waiting for upstream response headers.
	Timeout time.Duration
}

// NewGraphQLProxy returns a handler forwarding requests to the GraphQL
// endpoint. It must run behind the gateway middleware: the caller's
// identity and bearer token are taken from the request.
func NewGraphQLProxy(cfg GraphQLConfig) (http.Handler, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("graphql endpoint is required")
	}
	target, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid graphql endpoint: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid graphql endpoint %q: scheme and host are required", cfg.Endpoint)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = target.Path
			pr.Out.URL.RawPath = target.RawPath
			pr.Out.Host = target.Host
			pr.SetXForwarded()

			// Credentials travel in Authorization only.
			pr.Out.Header.Del("Cookie")
			for name := range pr.Out.Header {
				if strings.HasPrefix(strings.ToLower(name), "x-hasura-") {
					pr.Out.Header.Del(name)
				}
			}

			if cfg.AdminSecret == "" {
				return
			}
			identity, ok := auth.IdentityFromContext(pr.In.Context())
			if !ok {
				return
			}
			pr.Out.Header.Set(HeaderHasuraAdminSecret, cfg.AdminSecret)
			pr.Out.Header.Set(HeaderHasuraRole, hasuraUserRole)
			pr.Out.Header.Set(HeaderHasuraUserID, identity.Subject)
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Errorw("graphql upstream request failed", "path", r.URL.Path, "error", err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}, nil
}
