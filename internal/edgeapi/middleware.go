package edgeapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bifrost-flags/bifrost/internal/observability"
)

// RequestLogger creates a middleware that logs the completion of each request
// and records HTTP latency metrics. It integrates with slog to provide
// structured logs including RequestID, Method, Path, Status, and Duration.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Get RequestID set by Chi's RequestID middleware
		reqID := middleware.GetReqID(r.Context())

		// Wrap the ResponseWriter to capture the status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()

		observability.HTTPReqDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
		observability.HTTPReqTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(status)).Inc()

		// Info for success, Warn for 4xx, Error for 5xx
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		slog.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", duration.String(),
			"request_id", reqID,
			"remote_ip", r.RemoteAddr,
		)
	})
}
