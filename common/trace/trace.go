// Package trace provides correlation IDs and context propagation so a single
// HTTP request or flush can be followed through the logs.
package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Prefixes distinguish the origin of an ID in log output.
const (
	PrefixRequest = "r_"
	PrefixFlush   = "f_"
	PrefixSession = "s_"
)

type traceKey struct{}

// NewID returns prefix followed by a random UUID without dashes.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithID returns a child context carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Ensure returns ctx unchanged when it already carries an ID, otherwise a
// child context with a fresh ID using prefix.
func Ensure(ctx context.Context, prefix string) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID(prefix)
	return WithID(ctx, id), id
}
