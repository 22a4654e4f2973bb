package middleware

import (
	"context"
)

// Key types for context values
type contextKey string

const (
	// CorrelationIDKey is the key for audit correlation IDs in contexts
	CorrelationIDKey contextKey = "correlationID"
)

// CorrelationIDHeader echoes the audit correlation ID to the client
const CorrelationIDHeader = "X-Correlation-ID"

// WithCorrelationID returns a copy of ctx carrying id
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// GetCorrelationID extracts the correlation ID from a context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}

	return ""
}
