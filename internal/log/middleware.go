package log

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
	// RequestIDContextKey is the context key for the request id
	RequestIDContextKey ContextKey = "request_id"
)

// ToContext stores a logger in ctx
func ToContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the request context, falling back to
// the process default.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: defaultSlog(), component: "unknown"}
}

// RequestID returns the request id stored by RequestMiddleware
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return id
	}
	return ""
}

// RequestMiddleware attaches a request-scoped logger carrying the request id
// and logs each request's completion.
func RequestMiddleware(logger *Logger, newID func() string, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := newID()
			reqLogger := logger.WithComponent(ComponentHTTP).With(FieldRequestID, requestID)

			ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
			ctx = ToContext(ctx, reqLogger)

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			fields := NewFields()
			fields[FieldMethod] = r.Method
			fields[FieldPath] = r.URL.Path
			fields[FieldStatusCode] = rw.status
			fields[FieldDuration] = time.Since(start).Milliseconds()
			fields[FieldClientIP] = clientIP(r)
			reqLogger.Fields(ctx, levelForStatus(rw.status), "HTTP request completed", fields)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func defaultSlog() *slog.Logger {
	return slog.Default()
}
