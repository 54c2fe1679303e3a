package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// quiet paths are polled by health checks and scrapers
var quiet = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Logging middleware logs HTTP requests. Probe and scrape requests log at
// debug level unless they fail.
func Logging(next http.Handler, logger *logrus.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(wrapped, r)

		entry := logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		})
		switch {
		case wrapped.statusCode >= http.StatusInternalServerError:
			entry.Error("HTTP request")
		case quiet[r.URL.Path] && wrapped.statusCode < http.StatusBadRequest:
			entry.Debug("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	})
}
