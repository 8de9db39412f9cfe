package strategy

import (
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
)

// CookieConfig controls cookie attributes.
type CookieConfig struct {
	Domain      string
	Secure      bool
	SameSite    http.SameSite
	RefreshPath string
	// CSRFHTTPOnly hides the CSRF cookie from scripts. Clients then read the token from
	// the login and refresh response bodies.
	CSRFHTTPOnly bool
	// RefreshTTL is the lifetime of every cookie. The access cookie outlives its token so
	// that an expired token still reaches logout and names the session to end.
	RefreshTTL time.Duration
}

// CookieConfigFrom derives cookie attributes from the engine configuration.
func CookieConfigFrom(cfg authcore.Config) CookieConfig {
	return CookieConfig{
		Domain:       cfg.Cookie.Domain,
		Secure:       cfg.Cookie.Secure,
		SameSite:     parseSameSite(cfg.Cookie.SameSite),
		RefreshPath:  cfg.Cookie.RefreshPath,
		CSRFHTTPOnly: cfg.Cookie.CSRFHTTPOnly,
		RefreshTTL:   cfg.JWT.RefreshTTL,
	}
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// Cookie carries tokens in httpOnly cookies.
type Cookie struct {
	config CookieConfig
}

var _ Strategy = (*Cookie)(nil)

// NewCookie returns a cookie strategy. An empty RefreshPath defaults to "/auth/refresh".
func NewCookie(cfg CookieConfig) *Cookie {
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = "/auth/refresh"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteStrictMode
	}
	return &Cookie{config: cfg}
}

func (*Cookie) Mode() authcore.AuthMode { return authcore.ModeCookie }

// ExtractToken prefers the access cookie and falls back to a bearer header.
func (c *Cookie) ExtractToken(r *http.Request) string {
	if ck, err := r.Cookie(AccessCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	return BearerToken(r)
}

// ExtractRefreshToken reads the refresh cookie.
func (c *Cookie) ExtractRefreshToken(r *http.Request) string {
	if ck, err := r.Cookie(RefreshCookie); err == nil {
		return ck.Value
	}
	return ""
}

// CSRFToken returns the double-submit cookie value.
func (c *Cookie) CSRFToken(r *http.Request) string {
	if ck, err := r.Cookie(CSRFCookie); err == nil {
		return ck.Value
	}
	return ""
}

type cookieBody struct {
	User      *authcore.User `json:"user"`
	CSRFToken string         `json:"csrfToken,omitempty"`
	ExpiresIn int64          `json:"expiresIn"`
}

// EncodeSuccess sets the token cookies and writes the user and CSRF token as JSON.
// The CSRF cookie is only replaced when the bundle carries a new token.
func (c *Cookie) EncodeSuccess(w http.ResponseWriter, status int, b *authcore.TokenBundle) error {
	http.SetCookie(w, c.cookie(AccessCookie, b.AccessToken, "/", c.config.RefreshTTL, true))
	http.SetCookie(w, c.cookie(RefreshCookie, b.RefreshToken, c.config.RefreshPath, c.config.RefreshTTL, true))
	http.SetCookie(w, c.cookie(SessionCookie, "1", "/", c.config.RefreshTTL, true))
	if b.CSRFToken != "" {
		http.SetCookie(w, c.cookie(CSRFCookie, b.CSRFToken, "/", c.config.RefreshTTL, c.config.CSRFHTTPOnly))
	}

	return writeJSON(w, status, cookieBody{
		User:      b.User,
		CSRFToken: b.CSRFToken,
		ExpiresIn: b.ExpiresIn,
	})
}

// ClearCredentials expires all four auth cookies.
func (c *Cookie) ClearCredentials(w http.ResponseWriter) {
	for _, ck := range []*http.Cookie{
		c.cookie(AccessCookie, "", "/", 0, true),
		c.cookie(RefreshCookie, "", c.config.RefreshPath, 0, true),
		c.cookie(SessionCookie, "", "/", 0, true),
		c.cookie(CSRFCookie, "", "/", 0, c.config.CSRFHTTPOnly),
	} {
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		http.SetCookie(w, ck)
	}
}

func (c *Cookie) cookie(name, value, path string, ttl time.Duration, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.config.Domain,
		MaxAge:   int(ttl / time.Second),
		Secure:   c.config.Secure,
		HttpOnly: httpOnly,
		SameSite: c.config.SameSite,
	}
}
