// Package middleware provides HTTP middleware for the status server.
package middleware

import (
	"net/http"
	"time"

	"github.com/gamelibtools/igdbmirror/internal/logging"
)

// Logger emits one structured log line per request: method, path, response
// status and duration. Entries carry the request id through
// logging.FromContext, and RemoteAddr is already rewritten by the RealIP
// middleware ahead of this one.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logging.FromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
		)
	})
}

// statusRecorder captures the response status for the log line.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
