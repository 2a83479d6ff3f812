package logging

import (
	"context"
)

// Context keys for logging values.
// Using private types to avoid key collisions.
type contextKey int

const (
	sessionIDKey contextKey = iota
	toolUseIDKey
	componentKey
	requestIDKey
)

// WithSession adds a session ID to the context.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithToolUse adds a tool use ID to the context.
func WithToolUse(ctx context.Context, toolUseID string) context.Context {
	return context.WithValue(ctx, toolUseIDKey, toolUseID)
}

// WithComponent adds a component name to the context.
// Component names identify the subsystem generating logs
// (e.g., "procscan", "reposcan", "hookstore", "server").
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithRequest adds an HTTP request ID to the context.
func WithRequest(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns empty string if not set.
func SessionIDFromContext(ctx context.Context) string {
	if v := ctx.Value(sessionIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ComponentFromContext extracts the component name from the context.
// Returns empty string if not set.
func ComponentFromContext(ctx context.Context) string {
	if v := ctx.Value(componentKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
