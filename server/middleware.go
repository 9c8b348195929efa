// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// LoggingMiddleware logs every request with its status and duration and counts
// responses on the recorder when one is given
func LoggingMiddleware(enableLogging bool, recorder *PrometheusRecorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			if recorder != nil {
				recorder.responses.WithLabelValues(routeLabel(r), strconv.Itoa(wrapped.statusCode)).Inc()
			}
			if !enableLogging {
				return
			}
			logger.Info("HTTP Request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"content_length", r.ContentLength,
				"status", wrapped.statusCode,
				"bytes", wrapped.written,
				"duration", time.Since(start).String(),
			)
		})
	}
}

// routeLabel keeps metric cardinality bounded: API calls share one label per method
func routeLabel(r *http.Request) string {
	switch r.URL.Path {
	case "/health", "/metrics":
		return r.URL.Path
	}
	return r.Method + " api"
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.written += n
	return n, err
}

// HandleHealth provides a simple health check endpoint
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "healthy", "service": "gweb"}`))
}
