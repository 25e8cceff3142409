// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// MatrixError represents a structured error response from the Matrix
// homeserver. Callers can use errors.As to extract the structured
// information:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeLimitExceeded { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN", "M_LIMIT_EXCEEDED").
	Code string `json:"errcode"`
	// Message is the human-readable error description from the server.
	Message string `json:"error"`
	// RetryAfterMs is the server's rate-limit backoff hint in
	// milliseconds. Only set on M_LIMIT_EXCEEDED responses.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
)

// IsMatrixError checks whether err is a *MatrixError with the given
// error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsTransient reports whether err is worth retrying: rate limits
// (429), server errors (5xx), and non-Matrix transport failures
// (connection refused, timeout, EOF). Client errors (4xx except 429)
// indicate a permanent problem and return false.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		if matrixErr.StatusCode == 429 {
			return true
		}
		if matrixErr.StatusCode >= 500 {
			return true
		}
		if matrixErr.StatusCode >= 400 {
			return false
		}
	}

	// Non-Matrix errors (connection refused, timeout, EOF) are transient.
	return true
}
