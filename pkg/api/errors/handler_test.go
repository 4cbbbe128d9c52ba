// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/toolhive-core/httperr"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "no error leaves the response alone",
			wantCode: http.StatusOK,
			wantBody: "ok",
		},
		{
			name:     "client errors are shown",
			err:      httperr.WithCode(errors.New("user not found"), http.StatusNotFound),
			wantCode: http.StatusNotFound,
			wantBody: "user not found\n",
		},
		{
			name:     "wrapped codes survive",
			err:      fmt.Errorf("lookup: %w", httperr.WithCode(errors.New("bad id"), http.StatusBadRequest)),
			wantCode: http.StatusBadRequest,
			wantBody: "lookup: bad id\n",
		},
		{
			name:     "server errors are hidden",
			err:      httperr.WithCode(errors.New("dial tcp 10.0.0.1:5432: refused"), http.StatusBadGateway),
			wantCode: http.StatusBadGateway,
			wantBody: "Bad Gateway\n",
		},
		{
			name:     "errors without a code are internal",
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
			wantBody: "Internal Server Error\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := ErrorHandler(func(w http.ResponseWriter, _ *http.Request) error {
				if tt.err != nil {
					return tt.err
				}
				_, _ = w.Write([]byte("ok"))
				return nil
			})

			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, "/api/users/1", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}
