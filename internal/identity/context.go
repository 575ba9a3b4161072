package identity

import (
	"context"
	"strings"
)

type accountIDKey struct{}

// ContextWithAccountID records the signed-in account behind a request.
func ContextWithAccountID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, accountIDKey{}, id)
}

// AccountIDFromContext returns the account recorded by ContextWithAccountID.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(accountIDKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
