// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed openapi.json
var openapiSpec []byte

// DocsRouter creates a new router for documentation endpoints.
func DocsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/openapi.json", ServeOpenAPI)
	r.Get("/doc", ServeScalar)
	return r
}

// ServeOpenAPI serves the OpenAPI document describing the gateway's routes.
func ServeOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(openapiSpec)
}
