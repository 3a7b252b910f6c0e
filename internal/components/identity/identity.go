// Package identity authenticates /lox_api requests against an external
// OAuth-style verification endpoint and carries the acting user in the
// request context.
package identity

import (
	"context"
	"fmt"
)

// Failure reasons.
const (
	ReasonMissing     = "missing"
	ReasonRejected    = "rejected"
	ReasonUnreachable = "unreachable"
)

// AuthFailure reports why a request could not be authenticated.
type AuthFailure struct {
	Reason string
	Err    error
}

func (f *AuthFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", f.Reason, f.Err)
	}
	return "authentication failed (" + f.Reason + ")"
}

func (f *AuthFailure) Unwrap() error { return f.Err }

type userKey struct{}

// WithUser stores the authenticated username in ctx.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the authenticated username, or "" outside the gate.
func UserFromContext(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}
