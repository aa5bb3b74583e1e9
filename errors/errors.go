// Package errors provides the relay's error taxonomy and its JSON error
// responses.
//
// Two kinds of failure flow through the relay. Failures of the relay's own
// HTTP surface (unknown routes, wrong methods, panics, rejected metrics
// scrapes) are written to the caller as structured JSON. Failures of the
// outbound calls (completion, delivery) never reach the platform: they are
// classified as a RelayError, logged with their type, and turned into a
// fallback reply or a dropped send.
//
// Basic usage:
//
//	// Simple error response
//	errors.Error(w, "Something went wrong", http.StatusInternalServerError)
//
//	// Type-specific error
//	errors.ErrorWithType(w, "Not found", errors.NotFoundError, http.StatusNotFound)
//
// Outbound failures use the constructors in types.go:
//
//	err := errors.NewUpstreamStatusError("completion", http.StatusTooManyRequests, cause)
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// Nil is ignored.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType categorises a failure. The value is used as a log field and as
// the "type" label of relay_errors_total.
type ErrorType string

const (
	// ConfigError: a credential or setting needed for the call is missing
	ConfigError ErrorType = "config_error"

	// InvalidPayload: an inbound webhook body could not be decoded or is
	// not a page event
	InvalidPayload ErrorType = "invalid_payload"

	// UpstreamStatusError: the remote service answered with a non-success status
	UpstreamStatusError ErrorType = "upstream_status_error"

	// TimeoutError: the outbound call exceeded its deadline
	TimeoutError ErrorType = "timeout_error"

	// TransportError: connection-level failure (DNS, refused, reset, TLS)
	TransportError ErrorType = "transport_error"

	// InvalidResponse: the remote body did not have the expected shape
	InvalidResponse ErrorType = "invalid_response"

	// EmptyReply: the completion succeeded but produced only whitespace
	EmptyReply ErrorType = "empty_reply"

	// CircuitOpen: the completion breaker rejected the call
	CircuitOpen ErrorType = "circuit_open"

	// InternalError represents unexpected internal failures, including panics
	InternalError ErrorType = "internal_error"

	AuthenticationError ErrorType = "api_key_error"
	NotFoundError       ErrorType = "not_found"
	MethodNotAllowed    ErrorType = "method_not_allowed"
)

// RelayError carries a classified failure. It is serialised to JSON for the
// relay's own error responses and logged for outbound failures.
type RelayError struct {
	// Type categorizes the error for client handling
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Code is the HTTP status code for the relay's own response (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface. It returns a string that
// combines the error type, message, and underlying error (if any).
func (e *RelayError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.err
}

// Is matches on Type only, so errors.Is(err, &RelayError{Type: TimeoutError})
// works regardless of message or cause.
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// UpstreamStatus returns the remote status code recorded on the error, or 0.
func (e *RelayError) UpstreamStatus() int {
	if e == nil || e.Details == nil {
		return 0
	}
	status, _ := e.Details["upstream_status"].(int)
	return status
}

// WriteError writes err as a JSON response with err.Code as the status.
func WriteError(w http.ResponseWriter, err *RelayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	json.NewEncoder(w).Encode(err)
}

// Error is a drop-in replacement for http.Error that writes a RelayError
// with the InternalError type. The request ID is taken from the response
// headers when present.
func Error(w http.ResponseWriter, message string, code int) {
	ErrorWithType(w, message, InternalError, code)
}

// ErrorWithType is like Error but allows specifying the error type.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	requestID := w.Header().Get("X-Request-ID")
	err := &RelayError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
	}
	WriteError(w, err)
}
