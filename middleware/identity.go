package middleware

import (
	"context"

	"github.com/MrEthical07/authcore"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	User      *authcore.User
	SessionID string
	TokenID   string
	Mode      authcore.AuthMode
}

type identityContextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity attached by the Authorizer.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok && id.User != nil
}
