// Package auth carries the caller identity resolved from the request.
// Identity is always passed explicitly into service operations; there is
// no ambient security context.
package auth

import "context"

// Role is the coarse authorization level of a caller.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Caller identifies who is invoking an operation.
type Caller struct {
	UserID int64
	Role   Role
}

// IsAdmin reports whether the caller holds the admin role.
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

type contextKey struct{}

// WithCaller attaches the caller to the context. Used by the auth
// middleware after token verification.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext extracts the caller placed by WithCaller.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(contextKey{}).(Caller)
	return c, ok
}
