package types

import (
	"context"
	"log/slog"
)

// Context Keys
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	loggerKey     contextKey = "logger"
	locationIDKey contextKey = "location_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the logger from the context.
// The returned logger is expected to have been pre-enriched with request-scoped
// fields (e.g., RequestID) by middleware before storage.
// Falls back to slog.Default() if no logger has been set.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithLocationID stores the monitored location being operated on.
func WithLocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, locationIDKey, id)
}

// GetLocationID retrieves the location ID from the context.
func GetLocationID(ctx context.Context) string {
	id, _ := ctx.Value(locationIDKey).(string)
	return id
}
