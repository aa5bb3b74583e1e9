package errors

import (
	"net/http"
)

// NewError creates a new RelayError with the given parameters.
// For most cases, use one of the specialized constructors below.
//
// Example:
//
//	err := NewError(InternalError, "encode failed", 500, "req_123", nil, encErr)
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *RelayError {
	return &RelayError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewAuthError creates an authentication error for a rejected API key.
func NewAuthError(requestID, message string, err error) *RelayError {
	return &RelayError{
		Type:      AuthenticationError,
		Message:   message,
		Code:      http.StatusUnauthorized,
		RequestID: requestID,
		err:       err,
		Details: map[string]interface{}{
			"suggestion": "Please check your authentication credentials",
		},
	}
}

// NewInvalidPayloadError reports an inbound webhook body that was not
// decodable or not addressed to a page.
func NewInvalidPayloadError(requestID, message string, err error) *RelayError {
	return &RelayError{
		Type:      InvalidPayload,
		Message:   message,
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// NewConfigError reports a missing credential or setting for the named
// outbound service.
func NewConfigError(service, message string) *RelayError {
	return &RelayError{
		Type:    ConfigError,
		Message: message,
		Code:    http.StatusServiceUnavailable,
		Details: map[string]interface{}{"service": service},
	}
}

// NewUpstreamStatusError records a non-success status from the named
// service. The remote status is kept in Details["upstream_status"].
//
// Example:
//
//	err := NewUpstreamStatusError("delivery", 400, nil)
func NewUpstreamStatusError(service string, status int, err error) *RelayError {
	return &RelayError{
		Type:    UpstreamStatusError,
		Message: service + " returned " + http.StatusText(status),
		Code:    http.StatusBadGateway,
		err:     err,
		Details: map[string]interface{}{
			"service":         service,
			"upstream_status": status,
		},
	}
}

// NewTimeoutError reports that a call to the named service hit its deadline.
func NewTimeoutError(service string, err error) *RelayError {
	return &RelayError{
		Type:    TimeoutError,
		Message: service + " timed out",
		Code:    http.StatusGatewayTimeout,
		err:     err,
		Details: map[string]interface{}{"service": service},
	}
}

// NewTransportError reports a connection-level failure reaching the named service.
func NewTransportError(service string, err error) *RelayError {
	return &RelayError{
		Type:    TransportError,
		Message: service + " unreachable",
		Code:    http.StatusBadGateway,
		err:     err,
		Details: map[string]interface{}{"service": service},
	}
}

// NewInvalidResponseError reports a response body with an unexpected shape.
func NewInvalidResponseError(service, message string, err error) *RelayError {
	return &RelayError{
		Type:    InvalidResponse,
		Message: message,
		Code:    http.StatusBadGateway,
		err:     err,
		Details: map[string]interface{}{"service": service},
	}
}

// NewEmptyReplyError reports a completion whose content was blank.
func NewEmptyReplyError() *RelayError {
	return &RelayError{
		Type:    EmptyReply,
		Message: "completion returned empty content",
		Code:    http.StatusBadGateway,
		Details: map[string]interface{}{"service": "completion"},
	}
}

// NewCircuitOpenError reports a call rejected by an open circuit breaker.
func NewCircuitOpenError(service string, err error) *RelayError {
	return &RelayError{
		Type:    CircuitOpen,
		Message: service + " circuit breaker is open",
		Code:    http.StatusServiceUnavailable,
		err:     err,
		Details: map[string]interface{}{"service": service},
	}
}

// NewInternalError creates an internal server error with appropriate defaults.
// Use this for panics and other unexpected failures.
func NewInternalError(requestID string, err error) *RelayError {
	return &RelayError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
