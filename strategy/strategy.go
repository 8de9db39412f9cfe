// Package strategy encodes authentication results on the wire.
//
// Two strategies share one contract. [Stateless] reads a bearer header and returns both
// tokens in the response body. [Cookie] keeps the tokens in httpOnly cookies, scopes the
// refresh cookie to the refresh path, and only exposes the CSRF token to client code.
//
// [Selector.Select] picks a strategy from the request alone: a session marker cookie
// selects [Cookie], anything else selects [Stateless].
package strategy

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// Cookie and header names shared by the strategies and the middleware.
const (
	AccessCookie  = "ac_access"
	RefreshCookie = "ac_refresh"
	CSRFCookie    = "ac_csrf"
	SessionCookie = "ac_session"

	CSRFHeader = "X-CSRF-Token"
)

// Strategy extracts credentials from requests and writes them to responses.
type Strategy interface {
	Mode() authcore.AuthMode
	// ExtractToken returns the access token, or "" when the request carries none.
	ExtractToken(r *http.Request) string
	// ExtractRefreshToken returns a refresh token carried outside the body, or "".
	ExtractRefreshToken(r *http.Request) string
	EncodeSuccess(w http.ResponseWriter, status int, b *authcore.TokenBundle) error
	ClearCredentials(w http.ResponseWriter)
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// Selector holds one instance of each strategy.
type Selector struct {
	Stateless *Stateless
	Cookie    *Cookie
}

// NewSelector builds both strategies from the engine configuration.
func NewSelector(cfg authcore.Config) *Selector {
	return &Selector{
		Stateless: &Stateless{},
		Cookie:    NewCookie(CookieConfigFrom(cfg)),
	}
}

// Select returns the cookie strategy when the session marker cookie is present and the
// stateless strategy otherwise.
func (s *Selector) Select(r *http.Request) Strategy {
	if _, err := r.Cookie(SessionCookie); err == nil {
		return s.Cookie
	}
	return s.Stateless
}

// ForMode returns the strategy for an explicit mode.
func (s *Selector) ForMode(m authcore.AuthMode) Strategy {
	if m == authcore.ModeCookie {
		return s.Cookie
	}
	return s.Stateless
}
