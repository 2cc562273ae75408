// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/manthan/internal/util"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes backend failures for display and handling.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindNotFound    ErrorKind = "not_found"
	KindUnavailable ErrorKind = "unavailable"
	KindProtocol    ErrorKind = "protocol"
	KindUnknown     ErrorKind = "unknown"
)

// BackendError is a classified provider failure.
type BackendError struct {
	Provider string
	Kind     ErrorKind
	// Status is the HTTP status, or 0 when no response was received.
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(kindLabel(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func kindLabel(k ErrorKind) string {
	switch k {
	case KindAuth:
		return "authentication failed"
	case KindRateLimited:
		return "rate limited"
	case KindNotFound:
		return "model not found"
	case KindUnavailable:
		return "service unavailable"
	case KindProtocol:
		return "malformed stream"
	default:
		return "request failed"
	}
}

// KindOf returns the kind of err, or KindUnknown when err is not a BackendError.
func KindOf(err error) ErrorKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// =============================================================================
// STATUS CLASSIFICATION
// =============================================================================

// apiErrorResponse covers the error envelopes of the supported providers:
// {"error":{"message":...}} and {"error":"..."}.
type apiErrorResponse struct {
	Error json.RawMessage `json:"error"`
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body []byte) string {
	var env apiErrorResponse
	if err := json.Unmarshal(body, &env); err == nil && len(env.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
		var s string
		if json.Unmarshal(env.Error, &s) == nil && s != "" {
			return s
		}
	}
	return util.TruncateRunes(strings.TrimSpace(string(body)), 200)
}

// classifyStatus converts an HTTP error response into a BackendError.
func classifyStatus(provider string, status int, body []byte) *BackendError {
	kind := KindUnknown
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusPaymentRequired:
		kind = KindAuth
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 500:
		kind = KindUnavailable
	}
	return &BackendError{
		Provider: provider,
		Kind:     kind,
		Status:   status,
		Message:  errorMessage(body),
	}
}

func protocolError(provider, format string, args ...any) *BackendError {
	return &BackendError{
		Provider: provider,
		Kind:     KindProtocol,
		Message:  fmt.Sprintf(format, args...),
	}
}
