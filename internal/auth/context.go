// ABOUTME: Authenticated-user context propagation for HTTP handlers
// ABOUTME: Provides WithUser/UserFromContext for carrying the user id via context

package auth

import (
	"context"
)

// userContextKey is the key type for storing the user id in context.Context.
type userContextKey struct{}

// WithUser returns a new context with the authenticated user id attached.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserFromContext retrieves the authenticated user id from the context,
// returning "" if not present.
func UserFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userContextKey{}).(string)
	return userID
}
