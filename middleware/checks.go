package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// RequireRole rejects callers for whom allowed returns false. It must run after Require.
func RequireRole(allowed func(*authcore.User) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, authcore.ErrAccessRequired)
				return
			}
			if !allowed(id.User) {
				WriteError(w, authcore.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OwnershipCheck reports whether the caller owns the resource addressed by r.
type OwnershipCheck func(ctx context.Context, id Identity, r *http.Request) (bool, error)

// RequireOwnership rejects callers that do not own the resource. A failing check is a
// server error, not a denial.
func RequireOwnership(check OwnershipCheck) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, authcore.ErrAccessRequired)
				return
			}
			owned, err := check(r.Context(), id, r)
			if err != nil {
				WriteError(w, fmt.Errorf("%w: %v", authcore.ErrResourceCheck, err))
				return
			}
			if !owned {
				WriteError(w, authcore.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
