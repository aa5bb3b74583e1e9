package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/teilomillet/relay/errors"
)

// Authentication middleware requires the X-API-Key header to equal token.
// An empty token disables the check.
func Authentication(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				errors.WriteError(w, errors.NewAuthError(GetRequestID(r.Context()), "Missing API key", nil))
				return
			}
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(token)) != 1 {
				errors.WriteError(w, errors.NewAuthError(GetRequestID(r.Context()), "Invalid API key", nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
