// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// APIError is a structured error response from the helpdesk REST API:
//
//	var apiErr *APIError
//	if errors.As(err, &apiErr) && apiErr.Code == ErrCodeForbidden { ... }
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helpdesk api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Error codes returned by the helpdesk API.
const (
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInvalid      = "INVALID_REQUEST"
	ErrCodeInternal     = "INTERNAL"
)

// IsAPIError reports whether err wraps an *APIError with code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
