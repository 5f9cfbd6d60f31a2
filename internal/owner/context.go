// Package owner carries the id of the user a request acts for.
package owner

import "context"

type contextKey struct{}

func WithOwner(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// ID returns the owner id, or "" when the context has none.
func ID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id
}
