// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName is the service.name resource attribute.
const DefaultServiceName = "gqlgate"

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// Endpoint is the OTLP/HTTP endpoint (host:port). Empty disables export.
	Endpoint string `json:"endpoint"`

	// ServiceName is the service name for telemetry
	ServiceName string `json:"serviceName"`

	// ServiceVersion is the service version for telemetry
	ServiceVersion string `json:"serviceVersion"`

	// SamplingRate is the trace sampling rate (0.0-1.0)
	SamplingRate float64 `json:"samplingRate"`

	// Headers contains authentication headers for the OTLP endpoint
	Headers map[string]string `json:"headers"`

	// Insecure indicates whether to use HTTP instead of HTTPS for the OTLP endpoint
	Insecure bool `json:"insecure"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig(version string) Config {
	return Config{
		ServiceName:    DefaultServiceName,
		ServiceVersion: version,
		SamplingRate:   0.05, // 5% sampling by default
		Headers:        make(map[string]string),
	}
}

// Provider encapsulates the tracer provider and its shutdown.
type Provider struct {
	config         Config
	tracerProvider trace.TracerProvider
	shutdown       func(context.Context) error
}

// NewProvider creates the tracer provider and installs it, together with the
// W3C trace-context propagator, as the global OpenTelemetry provider.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if err := validateOtelConfig(config); err != nil {
		return nil, err
	}
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry resource: %w", err)
	}

	tracerProvider, shutdown, err := newTracerProviderWithShutdown(ctx, config, res)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		config:         config,
		tracerProvider: tracerProvider,
		shutdown:       shutdown,
	}, nil
}

// Shutdown flushes and stops the exporter, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown != nil {
		return p.shutdown(ctx)
	}
	return nil
}

// TracerProvider returns the configured tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// Middleware returns an HTTP middleware tracing requests with this provider.
func (p *Provider) Middleware() func(http.Handler) http.Handler {
	return NewHTTPMiddleware(p.tracerProvider)
}

// validateOtelConfig validates the otel configuration
func validateOtelConfig(config Config) error {
	if config.SamplingRate < 0 || config.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be between 0.0 and 1.0, got %v", config.SamplingRate)
	}
	return nil
}
