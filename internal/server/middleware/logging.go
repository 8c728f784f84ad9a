package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// LicenseStatusHeader carries the outcome of a license operation so that
// logging and clients can see it without parsing the body.
const LicenseStatusHeader = "X-License-Status"

// Logger returns an HTTP middleware that logs every request using structured
// logging. License operations additionally log their outcome status and the
// caller identity. 4xx answers that carry a license outcome log at Info.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			fields := &logFields{}
			r = r.WithContext(context.WithValue(r.Context(), logFieldsKey, fields))

			next.ServeHTTP(ww, r)

			outcome := ww.Header().Get(LicenseStatusHeader)
			level := slog.LevelInfo
			switch {
			case ww.status >= 500:
				level = slog.LevelError
			case ww.status >= 400 && outcome == "":
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", ww.bytes,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if outcome != "" {
				attrs = append(attrs, "outcome", outcome)
			}
			if fields.caller != "" {
				attrs = append(attrs, "caller", fields.caller)
			}
			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

// logFields is filled in by inner middleware for the request log line.
type logFields struct {
	caller string
}

const logFieldsKey contextKey = "log_fields"

func setLogCaller(ctx context.Context, identity string) {
	if f, ok := ctx.Value(logFieldsKey).(*logFields); ok {
		f.caller = identity
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// bytes written for logging purposes.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter, required for http.Flusher
// and other interface assertions through middleware chains.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
