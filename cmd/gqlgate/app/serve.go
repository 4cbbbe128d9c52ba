// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/stacklok/gqlgate/pkg/api"
	v1 "github.com/stacklok/gqlgate/pkg/api/v1"
	"github.com/stacklok/gqlgate/pkg/auth"
	"github.com/stacklok/gqlgate/pkg/auth/oidc"
	"github.com/stacklok/gqlgate/pkg/config"
	"github.com/stacklok/gqlgate/pkg/gateway"
	"github.com/stacklok/gqlgate/pkg/logger"
	"github.com/stacklok/gqlgate/pkg/networking"
	"github.com/stacklok/gqlgate/pkg/session"
	"github.com/stacklok/gqlgate/pkg/storage"
	"github.com/stacklok/gqlgate/pkg/storage/postgres"
	"github.com/stacklok/gqlgate/pkg/storage/sqlite"
	"github.com/stacklok/gqlgate/pkg/telemetry"
	"github.com/stacklok/gqlgate/pkg/users"
	"github.com/stacklok/gqlgate/pkg/versions"
)

// newServeCmd creates the serve command for starting the gateway
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway HTTP server.

The identity provider is discovered before the server starts listening; the
command fails if the provider cannot be reached. The server shuts down
gracefully on SIGINT or SIGTERM.`,
		RunE: runServe,
	}
}

// runServe implements the serve command logic
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		return err
	}

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warnf("Failed to release resource: %v", err)
			}
		}
	}()

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		ServiceName:    telemetry.DefaultServiceName,
		ServiceVersion: versions.GetVersionInfo().Version,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		Headers:        cfg.Telemetry.Headers,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("Failed to shut down telemetry: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := gateway.NewMetrics(reg)

	store, storeHealth, err := openUserStore(ctx, storage.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN}, reg)
	if err != nil {
		return err
	}
	closers = append(closers, store)

	sessions, err := session.NewStore(ctx, session.Config{
		Backend: cfg.Session.Backend,
		FlowTTL: cfg.Session.FlowTTL,
		Redis: session.RedisConfig{
			Address:  cfg.Session.RedisAddress,
			Username: cfg.Session.RedisUsername,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	closers = append(closers, sessions)

	sessionCookies, err := session.NewCookieManager(session.CookieConfig{
		Secret: []byte(cfg.Session.Secret),
		Secure: cfg.Cookie.Secure,
		Path:   cfg.Cookie.Path,
		Domain: cfg.Cookie.Domain,
	})
	if err != nil {
		return fmt.Errorf("failed to create session cookies: %w", err)
	}

	g, err := newGateway(ctx, cfg, gatewayDeps{
		metrics:        metrics,
		sessions:       sessions,
		sessionCookies: sessionCookies,
		store:          store,
	})
	if err != nil {
		return err
	}

	serverCfg := api.ServerConfig{
		Address:      cfg.ListenAddress,
		Gateway:      g,
		Gatherer:     reg,
		HealthChecks: []v1.HealthCheck{storeHealth},
		Tracing:      tracing.Middleware(),
		EnableDocs:   cfg.EnableDocs,
	}
	if cfg.GraphQL.Endpoint != "" {
		serverCfg.GraphQL, err = api.NewGraphQLProxy(api.GraphQLConfig{
			Endpoint:    cfg.GraphQL.Endpoint,
			AdminSecret: cfg.GraphQL.AdminSecret,
			Timeout:     cfg.GraphQL.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create graphql proxy: %w", err)
		}
	} else {
		logger.Warn("No GraphQL endpoint configured, only the auth routes are served")
	}

	return api.Serve(ctx, serverCfg)
}

type gatewayDeps struct {
	metrics        *gateway.Metrics
	sessions       session.Store
	sessionCookies *session.CookieManager
	store          storage.UserStore
}

// newGateway discovers the provider and assembles the token verification
// chain around it.
func newGateway(ctx context.Context, cfg *config.Config, deps gatewayDeps) (*gateway.Gateway, error) {
	httpClient, err := networking.NewHttpClientBuilder().
		WithTimeout(cfg.OIDC.Timeout).
		WithCABundle(cfg.OIDC.CABundle).
		WithPrivateIPs(cfg.OIDC.AllowPrivateIPs).
		WithInsecureHTTP(cfg.OIDC.AllowHTTP).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create provider HTTP client: %w", err)
	}

	logger.Infof("Discovering OIDC provider %s", cfg.OIDC.Issuer)
	provider, err := oidc.NewProvider(ctx, oidc.Config{
		Issuer:       cfg.OIDC.Issuer,
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURI:  cfg.OIDC.RedirectURI,
		Scopes:       cfg.OIDC.ScopeList(),
		Timeout:      cfg.OIDC.Timeout,
		HTTPClient:   httpClient,
		Observer:     deps.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	jwksURL := cfg.OIDC.JWKSURL
	if jwksURL == "" {
		jwksURL = provider.Metadata().JWKSURI
	}
	if jwksURL == "" {
		return nil, errors.New("provider does not advertise a jwks_uri and oidc.jwks_url is not set")
	}
	keys := auth.NewKeyCache(&auth.HTTPKeySetFetcher{URL: jwksURL, Client: httpClient}, auth.KeyCacheConfig{
		MaxEntries:   cfg.Keys.MaxEntries,
		TTL:          cfg.Keys.TTL,
		FetchTimeout: cfg.OIDC.Timeout,
	})

	return gateway.New(gateway.Config{
		Provider:       provider,
		Verifier:       auth.NewVerifier(keys, auth.VerifierConfig{Issuer: provider.Metadata().Issuer, Audience: cfg.OIDC.Audience}),
		Sessions:       deps.sessions,
		SessionCookies: deps.sessionCookies,
		Reconciler:     users.NewReconciler(deps.store, users.WithObserver(deps.metrics), users.WithLogger(logger.Get())),
		Users:          deps.store,
		Cookies: gateway.CookieConfig{
			Secure: cfg.Cookie.Secure,
			Path:   cfg.Cookie.Path,
			Domain: cfg.Cookie.Domain,
		},
		PostLogoutRedirectURI: cfg.OIDC.PostLogoutRedirectURI,
		Metrics:               deps.metrics,
		Logger:                logger.Get(),
	})
}

// openUserStore opens the configured user store and returns it with a
// health check for the underlying database.
func openUserStore(
	ctx context.Context,
	cfg storage.Config,
	reg prometheus.Registerer,
) (storage.UserStore, v1.HealthCheck, error) {
	switch cfg.Driver {
	case storage.DriverSQLite:
		store, err := sqlite.NewUserStoreFromPath(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite user store: %w", err)
		}
		return store, func(ctx context.Context) error { return store.DB().PingContext(ctx) }, nil
	case storage.DriverPostgres:
		store, pool, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres user store: %w", err)
		}
		if err := postgres.RegisterPoolMetrics(reg, pool); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("failed to register pool metrics: %w", err)
		}
		return store, pool.Ping, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
