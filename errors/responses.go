package errors

import (
	"errors"
)

// ErrorResponse is the JSON shape written by WriteError.
type ErrorResponse struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// As is a wrapper around errors.As for better error type assertion
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// TypeOf returns the ErrorType of the first RelayError in err's chain, or
// InternalError when there is none.
func TypeOf(err error) ErrorType {
	var re *RelayError
	if As(err, &re) {
		return re.Type
	}
	return InternalError
}
