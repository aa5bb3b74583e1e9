package errors

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler recovers panics from next, logs them with the stack and
// answers 500 with a JSON internal error.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					requestID := w.Header().Get("X-Request-ID")
					if requestID == "" {
						requestID = r.Header.Get("X-Request-ID")
					}
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.ByteString("stacktrace", debug.Stack()),
						zap.String("request_id", requestID),
					)

					WriteError(w, NewInternalError(requestID, nil))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogError logs an error with its context. RelayErrors are logged with
// their type and details; anything else as an unexpected error.
func LogError(logger *zap.Logger, err error, requestID string) {
	var re *RelayError
	if As(err, &re) {
		fields := []zap.Field{
			zap.String("error_type", string(re.Type)),
			zap.String("message", re.Message),
			zap.String("request_id", requestID),
			zap.Any("details", re.Details),
		}
		if cause := re.Unwrap(); cause != nil {
			fields = append(fields, zap.NamedError("cause", cause))
		}
		logger.Error("request error", fields...)
		return
	}
	logger.Error("unexpected error",
		zap.Error(err),
		zap.String("request_id", requestID),
	)
}
