package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// InvalidInputError indicates the caller supplied unusable input
// (empty or oversized batch, placeholder token, versioned path).
type InvalidInputError struct {
	Reason string
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// TransportError indicates the batch call never produced a usable
// HTTP response (connection failure, timeout, cancelled context).
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("graph transport error: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError indicates the upstream answered with something other
// than the expected batch response array (non-JSON payload, wrong
// top-level shape, wrong element count).
type ProtocolError struct {
	Reason string
	Raw    string // truncated raw payload for diagnostics
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("graph protocol error: %s (raw: %s)", e.Reason, e.Raw)
	}
	return "graph protocol error: " + e.Reason
}

// APIError represents a top-level error object returned by the Graph
// API instead of a batch response array.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Subcode int    `json:"error_subcode,omitempty"`
	TraceID string `json:"fbtrace_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error: %s (type=%s, code=%d)", e.Message, e.Type, e.Code)
}

// HTTPStatus maps a SendBatch error to the response status the façade
// should answer with: 400 for caller mistakes, 502 for anything the
// upstream caused, 500 otherwise.
func HTTPStatus(err error) int {
	var invalid *InvalidInputError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest
	}

	var transport *TransportError
	var protocol *ProtocolError
	var api *APIError
	if errors.As(err, &transport) || errors.As(err, &protocol) || errors.As(err, &api) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
