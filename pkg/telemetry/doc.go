// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry configures OpenTelemetry tracing for gqlgate: an OTLP/HTTP
// exporter when an endpoint is configured, a no-op provider otherwise, and an
// HTTP middleware that opens a server span per request.
package telemetry
