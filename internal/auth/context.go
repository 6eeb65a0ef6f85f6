package auth

import (
	"context"

	"github.com/dukerupert/tracklist/internal/model"
)

type contextKey struct{}

type AuthContext struct {
	Username string
	IsDemo   bool
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// Owner returns the data owner for the authenticated request, or "" when the
// request is unauthenticated.
func Owner(ctx context.Context) model.Owner {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return model.Owner(ac.Username)
}

func IsDemo(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.IsDemo
}
