// Package trace tags each chat request with an ID that follows it through
// logs from the gateway, into the orchestrator and down to the provider.
package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Prefix marks Ely trace IDs in logs.
const Prefix = "t_"

type traceKey struct{}

// GenerateID returns a fresh random trace ID.
func GenerateID() string {
	return Prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithTraceID returns a child of ctx carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext returns the trace ID in ctx, or "" if there is none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// Ensure returns ctx unchanged if it already carries a trace ID, otherwise
// a child with a new one. The ID in effect is returned alongside.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateID()
	return WithTraceID(ctx, id), id
}
