package scribelog

import (
	"context"

	"github.com/google/uuid"
)

/*
Request-scoped correlation. The ambient store is the context.Context of the
surrounding call tree; the core only reads it opportunistically (LogCtx
metadata, profiler key namespacing, measurement events) and never requires
an id to be present.
*/

type requestIDKey struct{}

// requestIDField is the metadata key under which LogCtx and the profiler
// attach the ambient request id.
const requestIDField = "request_id"

// NewRequestID returns a fresh random correlation id.
func NewRequestID() string { return uuid.NewString() }

// WithRequestID returns a context carrying the given correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// EnsureRequestID returns the context's correlation id, generating and
// attaching one when absent. Typical middleware usage:
//
//	ctx, id := scribelog.EnsureRequestID(r.Context())
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id, ok := RequestIDFromContext(ctx); ok {
		return ctx, id
	}
	id := NewRequestID()
	return WithRequestID(ctx, id), id
}

// RequestIDFromContext reads the correlation id from the context, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
