package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger returns a request logging middleware using zerolog. Health checks and
// metric scrapes are logged at debug level.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ev := logger.Info()
				switch r.URL.Path {
				case "/health", "/metrics":
					ev = logger.Debug()
				}
				msg := "request completed"
				if isUpgrade(r) {
					msg = "websocket session ended"
				}
				ev.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status(ww, r)).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg(msg)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// status reports the response code. A hijacked connection never calls
// WriteHeader on the wrapper.
func status(ww middleware.WrapResponseWriter, r *http.Request) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	if isUpgrade(r) {
		return http.StatusSwitchingProtocols
	}
	return http.StatusOK
}
