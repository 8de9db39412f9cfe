package strategy

import (
	"net/http"

	"github.com/MrEthical07/authcore"
)

// Stateless carries tokens in the Authorization header and the response body.
type Stateless struct{}

var _ Strategy = (*Stateless)(nil)

func (*Stateless) Mode() authcore.AuthMode { return authcore.ModeStateless }

// ExtractToken reads the bearer header only.
func (*Stateless) ExtractToken(r *http.Request) string {
	return BearerToken(r)
}

// ExtractRefreshToken always returns "": stateless clients send the refresh token in the body.
func (*Stateless) ExtractRefreshToken(*http.Request) string { return "" }

// EncodeSuccess writes the whole bundle as JSON.
func (*Stateless) EncodeSuccess(w http.ResponseWriter, status int, b *authcore.TokenBundle) error {
	return writeJSON(w, status, b)
}

// ClearCredentials is a no-op; the client discards its tokens.
func (*Stateless) ClearCredentials(http.ResponseWriter) {}
