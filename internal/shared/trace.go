package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceIDKey struct{}

// WithTraceID returns a context carrying traceID, retrievable with TraceID.
// One trace_id is generated per logical operation — a ticket create, an
// agent loop run — and threaded through every log line emitted while
// handling it.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID returns the trace_id carried by ctx, or "-" if none was set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID mints a fresh trace_id for a new logical operation.
func NewTraceID() string {
	return uuid.NewString()
}
