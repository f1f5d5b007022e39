// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package hcloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError represents a non-2xx response from the provider API. The
// provider returns structured JSON error bodies with a machine-readable
// code and a human-readable message.
type APIError struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Code is the provider's machine-readable error code (for
	// example "not_found", "rate_limit_exceeded"). Empty when the
	// body could not be decoded.
	Code string

	// Message is the provider's error description. Falls back to the
	// HTTP status text when the body could not be decoded.
	Message string

	// Endpoint is the method and path of the failing request, for
	// diagnostics (e.g. "DELETE /servers/42").
	Endpoint string
}

func (err *APIError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "hcloud: %s: HTTP %d", err.Endpoint, err.StatusCode)
	if err.Code != "" {
		fmt.Fprintf(&builder, " (%s)", err.Code)
	}
	if err.Message != "" {
		fmt.Fprintf(&builder, ": %s", err.Message)
	}
	return builder.String()
}

// IsNotFound reports whether err is a provider 404 response. Cleanup
// paths treat this as "resource already absent".
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err is a provider 429 response.
func IsRateLimited(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusTooManyRequests
}

// retryable reports whether the request that produced err may be
// retried: 429 and 5xx are transient, everything else in the 4xx range
// is a permanent request error.
func retryable(err error) bool {
	var apiError *APIError
	if errors.As(err, &apiError) {
		return apiError.StatusCode == http.StatusTooManyRequests || apiError.StatusCode >= 500
	}
	// Transport-level errors (connection refused, timeouts) are
	// transient.
	return true
}

// wireError is the provider's JSON error envelope.
type wireError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseAPIError builds an *APIError from a response body, falling back
// to the HTTP status text when the body is not the expected envelope.
func parseAPIError(statusCode int, endpoint string, body []byte) *APIError {
	apiError := &APIError{
		StatusCode: statusCode,
		Endpoint:   endpoint,
		Message:    http.StatusText(statusCode),
	}

	var decoded wireError
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		apiError.Code = decoded.Error.Code
		apiError.Message = decoded.Error.Message
	}
	return apiError
}
