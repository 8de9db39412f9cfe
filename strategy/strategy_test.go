package strategy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore"
)

func testBundle(csrf string) *authcore.TokenBundle {
	return &authcore.TokenBundle{
		User:         &authcore.User{ID: 7, Username: "alice", Source: authcore.SourceLocal, IsActive: true},
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		CSRFToken:    csrf,
		ExpiresIn:    3600,
	}
}

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestSelect(t *testing.T) {
	sel := NewSelector(authcore.DefaultConfig())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, authcore.ModeStateless, sel.Select(r).Mode())

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, authcore.ModeStateless, sel.Select(r).Mode())

	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "1"})
	assert.Equal(t, authcore.ModeCookie, sel.Select(r).Mode())

	assert.Equal(t, authcore.ModeCookie, sel.ForMode(authcore.ModeCookie).Mode())
	assert.Equal(t, authcore.ModeStateless, sel.ForMode("").Mode())
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":              "",
		"Basic abc":     "",
		"Bearer":        "",
		"Bearer abc":    "abc",
		"bearer  abc  ": "abc",
	}
	for header, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, BearerToken(r), "header %q", header)
	}
}

func TestStatelessEncodesTokensInBody(t *testing.T) {
	s := &Stateless{}
	rec := httptest.NewRecorder()

	require.NoError(t, s.EncodeSuccess(rec, http.StatusOK, testBundle("")))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "access-token", body["accessToken"])
	assert.Equal(t, "refresh-token", body["refreshToken"])
	assert.EqualValues(t, 3600, body["expiresIn"])
	assert.NotContains(t, body, "csrfToken")
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	s.ClearCredentials(rec)
	assert.Empty(t, rec.Result().Cookies())
}

func TestCookieEncodesTokensInCookies(t *testing.T) {
	c := NewCookie(CookieConfig{
		Secure:      true,
		RefreshPath: "/auth/refresh",
		RefreshTTL:  7 * 24 * time.Hour,
	})
	rec := httptest.NewRecorder()

	require.NoError(t, c.EncodeSuccess(rec, http.StatusOK, testBundle("csrf-token")))

	cookies := cookiesByName(rec)
	require.Len(t, cookies, 4)

	access := cookies[AccessCookie]
	assert.Equal(t, "access-token", access.Value)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
	assert.Equal(t, 7*24*3600, access.MaxAge, "access cookie lives as long as the session")

	refresh := cookies[RefreshCookie]
	assert.Equal(t, "/auth/refresh", refresh.Path)
	assert.True(t, refresh.HttpOnly)

	csrf := cookies[CSRFCookie]
	assert.Equal(t, "csrf-token", csrf.Value)
	assert.False(t, csrf.HttpOnly)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "csrf-token", body["csrfToken"])
	assert.NotContains(t, body, "accessToken")
	assert.NotContains(t, body, "refreshToken")
}

func TestCookieWithoutCSRFKeepsExistingCookie(t *testing.T) {
	c := NewCookie(CookieConfig{})
	rec := httptest.NewRecorder()

	require.NoError(t, c.EncodeSuccess(rec, http.StatusOK, testBundle("")))
	assert.NotContains(t, cookiesByName(rec), CSRFCookie)
}

func TestCookieExtract(t *testing.T) {
	c := NewCookie(CookieConfig{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", c.ExtractToken(r))

	r.AddCookie(&http.Cookie{Name: AccessCookie, Value: "cookie-token"})
	r.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "refresh"})
	r.AddCookie(&http.Cookie{Name: CSRFCookie, Value: "csrf"})
	assert.Equal(t, "cookie-token", c.ExtractToken(r))
	assert.Equal(t, "refresh", c.ExtractRefreshToken(r))
	assert.Equal(t, "csrf", c.CSRFToken(r))
}

func TestCookieClearCredentials(t *testing.T) {
	c := NewCookie(CookieConfig{RefreshPath: "/auth/refresh"})
	rec := httptest.NewRecorder()

	c.ClearCredentials(rec)

	cookies := cookiesByName(rec)
	require.Len(t, cookies, 4)
	for name, ck := range cookies {
		assert.Equal(t, "", ck.Value, name)
		assert.Equal(t, -1, ck.MaxAge, name)
	}
	assert.Equal(t, "/auth/refresh", cookies[RefreshCookie].Path)
}

func TestCookieConfigFrom(t *testing.T) {
	cfg := authcore.DefaultConfig()
	cfg.Cookie.SameSite = "lax"
	cfg.Cookie.Domain = "example.com"

	cc := CookieConfigFrom(cfg)
	assert.Equal(t, http.SameSiteLaxMode, cc.SameSite)
	assert.Equal(t, "example.com", cc.Domain)
	assert.Equal(t, cfg.JWT.RefreshTTL, cc.RefreshTTL)
}
