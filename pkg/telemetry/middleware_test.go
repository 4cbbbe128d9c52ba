// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func attributeValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestHTTPMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		status     int
		wantName   string
		wantStatus codes.Code
	}{
		{
			name:       "route pattern names the span",
			path:       "/api/users/42",
			status:     http.StatusOK,
			wantName:   "GET /api/users/{id}",
			wantStatus: codes.Unset,
		},
		{
			name:       "server errors mark the span",
			path:       "/api/users/500",
			status:     http.StatusBadGateway,
			wantName:   "GET /api/users/{id}",
			wantStatus: codes.Error,
		},
		{
			name:       "client errors do not",
			path:       "/api/users/404",
			status:     http.StatusNotFound,
			wantName:   "GET /api/users/{id}",
			wantStatus: codes.Unset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tp, recorder := newRecordingProvider(t)

			r := chi.NewRouter()
			r.Use(NewHTTPMiddleware(tp))
			r.Get("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
				assert.True(t, trace.SpanContextFromContext(r.Context()).IsValid())
				w.WriteHeader(tt.status)
			})

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, tt.wantName, span.Name())
			assert.Equal(t, trace.SpanKindServer, span.SpanKind())
			assert.Equal(t, tt.wantStatus, span.Status().Code)

			status, ok := attributeValue(span.Attributes(), "http.response.status_code")
			require.True(t, ok)
			assert.Equal(t, int64(tt.status), status.AsInt64())
			route, ok := attributeValue(span.Attributes(), "http.route")
			require.True(t, ok)
			assert.Equal(t, "/api/users/{id}", route.AsString())
		})
	}
}

func TestHTTPMiddleware_ContinuesIncomingTrace(t *testing.T) {
	t.Parallel()
	tp, recorder := newRecordingProvider(t)

	// Create a parent span and inject it into the request headers.
	parentCtx, parent := tp.Tracer("test").Start(context.Background(), "parent")
	req := httptest.NewRequest(http.MethodPost, "/api/graphql", nil)
	propagation.TraceContext{}.Inject(parentCtx, propagation.HeaderCarrier(req.Header))
	parent.End()

	handler := newHTTPMiddlewareWithPropagator(tp, propagation.TraceContext{})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	child := spans[1]
	assert.Equal(t, "POST", child.Name())
	assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), child.Parent().SpanID())
}
