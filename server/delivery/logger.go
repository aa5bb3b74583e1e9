package delivery

import (
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// leveledLogger adapts zap to retryablehttp.LeveledLogger. URL values and
// URLs inside errors are stripped of their query string before logging.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, redactKV(keysAndValues)...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, redactKV(keysAndValues)...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, redactKV(keysAndValues)...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, redactKV(keysAndValues)...)
}

func redactKV(kv []interface{}) []interface{} {
	out := make([]interface{}, len(kv))
	copy(out, kv)
	for i := 1; i < len(out); i += 2 {
		if err, ok := out[i].(error); ok {
			out[i] = scrub(err)
			continue
		}
		if key, ok := out[i-1].(string); !ok || key != "url" {
			continue
		}
		switch v := out[i].(type) {
		case string:
			out[i] = redact(v)
		case *url.URL:
			out[i] = redact(v.String())
		case fmt.Stringer:
			out[i] = redact(v.String())
		}
	}
	return out
}
