// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api assembles the gqlgate HTTP server: operational routes, the
// authentication routes and the guarded GraphQL proxy.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/stacklok/gqlgate/pkg/api/v1"
	"github.com/stacklok/gqlgate/pkg/gateway"
	"github.com/stacklok/gqlgate/pkg/logger"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout  = 60 * time.Second
	readHeaderTimeout  = 10 * time.Second
	shutdownTimeout    = 15 * time.Second
	defaultMaxBodySize = 1 << 20
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address string
	// BasePath is the prefix of the auth and GraphQL routes. Defaults to gateway.DefaultBasePath.
	BasePath string
	Gateway  *gateway.Gateway
	// GraphQL is mounted at BasePath+"/graphql" behind the gateway when set.
	GraphQL http.Handler
	// Gatherer serves /metrics when set.
	Gatherer     prometheus.Gatherer
	HealthChecks []v1.HealthCheck
	// MaxRequestBodySize defaults to 1 MiB.
	MaxRequestBodySize int64
	// Tracing wraps every request when set, see telemetry.NewHTTPMiddleware.
	Tracing func(http.Handler) http.Handler
	// EnableDocs serves BasePath+"/docs/openapi.json" and BasePath+"/docs/doc".
	EnableDocs bool
}

// NewRouter builds the server's routes.
func NewRouter(cfg ServerConfig) (http.Handler, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = gateway.DefaultBasePath
	}
	maxBodySize := cfg.MaxRequestBodySize
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}

	r := chi.NewRouter()
	r.Use(
		requestIDMiddleware,
		middleware.RealIP,
		loggingMiddleware,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
		requestBodySizeLimitMiddleware(maxBodySize),
	)
	if cfg.Tracing != nil {
		r.Use(cfg.Tracing)
	}

	r.Mount("/health", v1.HealthcheckRouter(cfg.HealthChecks...))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route(basePath, func(r chi.Router) {
		// Only mount docs router if enabled
		if cfg.EnableDocs {
			r.Mount("/docs", DocsRouter())
		}
		if cfg.GraphQL != nil {
			r.With(cfg.Gateway.Middleware).Handle("/graphql", cfg.GraphQL)
		}
		r.Mount("/", cfg.Gateway.Router())
	})

	return r, nil
}

// Serve starts the server on cfg.Address and blocks until ctx is done, then
// shuts down gracefully. It is assumed that the caller sets up appropriate
// signal handling.
func Serve(ctx context.Context, cfg ServerConfig) error {
	handler, err := NewRouter(cfg)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}
	return serve(ctx, listener, handler)
}

func serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting HTTP server on %s", listener.Addr())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("HTTP server stopped")
	return nil
}
