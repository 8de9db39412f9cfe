package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/strategy"
)

// TokenVerifier is the part of authcore.Engine the middleware needs.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string, opts authcore.VerifyOptions) (*authcore.VerifiedToken, error)
}

// rateObserver is implemented by authcore.Engine.
type rateObserver interface {
	ObserveRateLimited()
}

// Policy is the per-route authorization requirement.
type Policy struct {
	AdminOnly bool
	// AllowedSources restricts the route to users of these sources. Empty allows all.
	AllowedSources []authcore.AuthSource
}

// Authorizer builds authentication middleware around a TokenVerifier.
//
// Authorizer is safe for concurrent use.
type Authorizer struct {
	verifier   TokenVerifier
	strategies *strategy.Selector
	rateMaxKey int

	mu       sync.Mutex
	limiters []*rate.SlidingWindow
}

// NewAuthorizer returns an Authorizer that selects strategies with sel.
func NewAuthorizer(v TokenVerifier, sel *strategy.Selector) *Authorizer {
	return &Authorizer{verifier: v, strategies: sel}
}

// Require rejects unauthenticated requests and enforces p.
func (a *Authorizer) Require(p Policy) func(http.Handler) http.Handler {
	return a.guard(p, false)
}

// Optional attaches an Identity when the request carries a valid token and passes the
// request through unauthenticated when it carries none. A present but invalid token is
// still rejected.
func (a *Authorizer) Optional() func(http.Handler) http.Handler {
	return a.guard(Policy{}, true)
}

func (a *Authorizer) guard(p Policy, optional bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil || a.verifier == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}

			st := a.strategies.Select(r)
			token := st.ExtractToken(r)
			if token == "" {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, authcore.ErrAccessRequired)
				return
			}

			mode := st.Mode()
			if mode == authcore.ModeCookie && stateChanging(r.Method) {
				if err := a.checkCSRF(r); err != nil {
					WriteError(w, err)
					return
				}
			}

			v, err := a.verifier.VerifyAccessToken(r.Context(), token, authcore.VerifyOptions{
				SkipBlacklist: mode == authcore.ModeCookie,
			})
			if err != nil {
				WriteError(w, err)
				return
			}
			if err := p.check(v.User); err != nil {
				WriteError(w, err)
				return
			}

			ctx := WithIdentity(r.Context(), Identity{
				User:      v.User,
				SessionID: v.SessionID,
				TokenID:   v.TokenID,
				Mode:      mode,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CheckCSRF validates the double-submit token of a cookie-mode request.
func (a *Authorizer) CheckCSRF(r *http.Request) error {
	return a.checkCSRF(r)
}

func (a *Authorizer) checkCSRF(r *http.Request) error {
	header := r.Header.Get(strategy.CSRFHeader)
	cookie := a.strategies.Cookie.CSRFToken(r)
	if header == "" || cookie == "" {
		return authcore.ErrCSRFInvalid
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) != 1 {
		return authcore.ErrCSRFInvalid
	}
	return nil
}

func stateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func (p Policy) check(u *authcore.User) error {
	if u == nil {
		return authcore.ErrAccessInvalid
	}
	if !u.IsActive {
		return authcore.ErrAccountInactive
	}
	if p.AdminOnly && !u.IsAdmin {
		return authcore.ErrAdminRequired
	}
	if len(p.AllowedSources) == 0 {
		return nil
	}
	for _, src := range p.AllowedSources {
		if u.Source == src {
			return nil
		}
	}
	return authcore.ErrSourceNotAllowed
}
