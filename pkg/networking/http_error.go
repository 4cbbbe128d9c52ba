// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBodyPreview bounds how much of an error response body is kept.
const maxErrorBodyPreview = 256

// HTTPError represents a non-2xx response from a remote endpoint.
type HTTPError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is a preview of the response body.
	Message string

	// URL is the requested URL, without query or credentials.
	URL string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// CheckResponse returns an *HTTPError for non-2xx responses and nil otherwise.
// The body is only read on error.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyPreview))
	u := ""
	if resp.Request != nil && resp.Request.URL != nil {
		cp := *resp.Request.URL
		cp.RawQuery = ""
		cp.User = nil
		u = cp.String()
	}
	return NewHTTPError(resp.StatusCode, u, strings.TrimSpace(string(preview)))
}

// IsHTTPError checks if an error is an HTTPError with the specified status code.
// If statusCode is 0, it matches any HTTPError.
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	if statusCode == 0 {
		return true
	}
	return httpErr.StatusCode == statusCode
}
