package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger writes one http_request line per request once it completes.
// Preview fetches are logged at debug since the UI polls them.
func RequestLogger(l zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			var event *zerolog.Event
			switch {
			case ww.Status() >= 500:
				event = l.Error()
			case ww.Status() >= 400:
				event = l.Warn()
			case r.Method == http.MethodGet:
				event = l.Debug()
			default:
				event = l.Info()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Str("request_id", GetRequestID(r.Context())).
				Str("session_id", GetSessionID(r.Context())).
				Str("ip", r.RemoteAddr).
				Msg("http_request")
		})
	}
}
