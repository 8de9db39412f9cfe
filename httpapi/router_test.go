package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/MrEthical07/authcore/strategy"
)

const testPassword = "correct-horse-battery"

type directory struct {
	mu   sync.Mutex
	down bool
	pass map[string]string
}

func (d *directory) Source() credential.Source { return credential.SourceDirectory }

func (d *directory) Authenticate(_ context.Context, username, pass string) (*credential.UserInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, credential.ErrServiceUnavailable
	}
	want, ok := d.pass[username]
	if !ok {
		return nil, credential.ErrUserNotFound
	}
	if want != pass {
		return nil, credential.ErrInvalidCredentials
	}
	return &credential.UserInfo{
		Username:    username,
		DisplayName: strings.ToUpper(username),
		ExternalID:  "dir-" + username,
		Source:      credential.SourceDirectory,
	}, nil
}

func (d *directory) GetUser(context.Context, string) (*credential.UserInfo, error) {
	return nil, credential.ErrUserNotFound
}

func (d *directory) TestConnection(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return credential.ErrServiceUnavailable
	}
	return nil
}

func (d *directory) setDown(down bool) {
	d.mu.Lock()
	d.down = down
	d.mu.Unlock()
}

type server struct {
	engine    *authcore.Engine
	router    http.Handler
	directory *directory
}

func newServer(t *testing.T, mutate ...func(*authcore.Config)) *server {
	t.Helper()
	return newServerAt(t, nil, mutate...)
}

// newServerAt builds a server whose engine reads time from now when it is non-nil.
func newServerAt(t *testing.T, now func() time.Time, mutate ...func(*authcore.Config)) *server {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.Security.Profile = authcore.ProfileTest
	cfg.JWT.AccessSecret = "access-secret-0123456789abcdef0123"
	cfg.JWT.RefreshSecret = "refresh-secret-0123456789abcdef012"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.LoginRate = 0
	for _, m := range mutate {
		m(&cfg)
	}

	dir := &directory{pass: map[string]string{"dave": "directory-pass"}}
	b := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memory.New()).
		WithVerifier(dir)
	if now != nil {
		b = b.WithClock(now)
	}
	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	_, err = engine.CreateLocalUser(context.Background(), authcore.NewLocalUser{
		Username: "alice",
		Password: testPassword,
	})
	require.NoError(t, err)

	return &server{
		engine:    engine,
		router:    httpapi.NewRouter(httpapi.NewHandler(engine, nil)),
		directory: dir,
	}
}

type reqOpt func(*http.Request)

func withBearer(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookies(cookies []*http.Cookie) reqOpt {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
}

// withBrowserCookies sends only the cookies whose Path covers path, as a browser would.
func withBrowserCookies(cookies []*http.Cookie, path string) reqOpt {
	return func(r *http.Request) {
		for _, c := range cookies {
			p := c.Path
			if p == "" {
				p = "/"
			}
			if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
				r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
			}
		}
	}
}

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (s *server) do(method, path, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *server) loginStateless(t *testing.T) (access, refresh string) {
	t.Helper()
	rec := s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	return body["accessToken"].(string), body["refreshToken"].(string)
}

// liveCookies returns the cookies set on rec that were not cleared.
func liveCookies(rec *httptest.ResponseRecorder) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			out = append(out, c)
		}
	}
	return out
}

func cookieValue(cookies []*http.Cookie, name string) string {
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestHealthAndReadiness(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = s.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	s.directory.setDown(true)
	rec = s.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := decode(t, rec)["checks"].(map[string]any)
	assert.Equal(t, "unavailable", checks["source:directory"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", withHeader("X-Request-Id", "req-42"))
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}

func TestStatelessFlow(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Result().Cookies())
	body := decode(t, rec)
	assert.EqualValues(t, 3600, body["expiresIn"])
	assert.NotContains(t, body, "csrfToken")
	access := body["accessToken"].(string)
	refresh := body["refreshToken"].(string)

	rec = s.do(http.MethodGet, "/auth/verify", "", withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decode(t, rec)
	assert.Equal(t, true, verified["valid"])
	assert.Equal(t, "alice", verified["user"].(map[string]any)["username"])
	assert.Equal(t, "stateless", verified["authMode"])

	rec = s.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"`+refresh+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decode(t, rec)
	assert.NotEqual(t, refresh, rotated["refreshToken"])

	// The old refresh token is now a replay.
	rec = s.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"`+refresh+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "refresh_invalid", decode(t, rec)["code"])

	// Reuse ended every session, including the rotated one.
	rec = s.do(http.MethodGet, "/auth/verify", "", withBearer(rotated["accessToken"].(string)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginErrors(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"wrong password", `{"username":"alice","password":"wrong-password"}`, http.StatusUnauthorized, "invalid_credentials"},
		{"unknown user", `{"username":"mallory","password":"wrong-password"}`, http.StatusUnauthorized, "invalid_credentials"},
		{"missing password", `{"username":"alice"}`, http.StatusBadRequest, "validation_failed"},
		{"unknown field", `{"username":"alice","password":"x","extra":1}`, http.StatusBadRequest, "validation_failed"},
		{"trailing data", `{"username":"alice","password":"x"}{}`, http.StatusBadRequest, "validation_failed"},
		{"bad source", `{"username":"alice","password":"x","authSource":"kerberos"}`, http.StatusBadRequest, "invalid_source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/auth/login", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}
}

func TestLoginLockoutReturnsRetryAfter(t *testing.T) {
	s := newServer(t, func(c *authcore.Config) { c.Lockout.Threshold = 2 })

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"wrong-password"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"`+testPassword+`"}`)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "account_locked", decode(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestDirectoryOutageIsServiceUnavailable(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/auth/login", `{"username":"dave","password":"directory-pass","authSource":"directory"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "directory", decode(t, rec)["user"].(map[string]any)["authSource"])

	s.directory.setDown(true)
	rec = s.do(http.MethodPost, "/auth/login", `{"username":"dave","password":"directory-pass","authSource":"directory"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "service_unavailable", body["code"])
	assert.NotContains(t, body["error"], "redis")
}

func TestCookieFlow(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"`+testPassword+`","mode":"cookie","generateCSRF":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.NotContains(t, body, "accessToken")
	assert.NotContains(t, body, "refreshToken")
	csrf := body["csrfToken"].(string)
	require.NotEmpty(t, csrf)

	cookies := liveCookies(rec)
	assert.NotEmpty(t, cookieValue(cookies, strategy.AccessCookie))
	assert.NotEmpty(t, cookieValue(cookies, strategy.RefreshCookie))
	assert.Equal(t, csrf, cookieValue(cookies, strategy.CSRFCookie))
	assert.Equal(t, "1", cookieValue(cookies, strategy.SessionCookie))

	rec = s.do(http.MethodGet, "/auth/verify", "", withCookies(cookies))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cookie", decode(t, rec)["authMode"])

	// State-changing cookie requests need the CSRF header.
	rec = s.do(http.MethodPut, "/auth/profile", `{"displayName":"Alice A."}`, withCookies(cookies))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "csrf_invalid", decode(t, rec)["code"])

	rec = s.do(http.MethodPut, "/auth/profile", `{"displayName":"Alice A."}`,
		withCookies(cookies), withHeader(strategy.CSRFHeader, csrf))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Alice A.", decode(t, rec)["user"].(map[string]any)["displayName"])

	// Refresh without the header is refused and keeps the cookies.
	rec = s.do(http.MethodPost, "/auth/refresh", "", withCookies(cookies))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = s.do(http.MethodPost, "/auth/refresh", "", withCookies(cookies), withHeader(strategy.CSRFHeader, csrf))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := liveCookies(rec)
	assert.NotEqual(t, cookieValue(cookies, strategy.RefreshCookie), cookieValue(rotated, strategy.RefreshCookie))
	assert.NotEqual(t, csrf, cookieValue(rotated, strategy.CSRFCookie))

	rec = s.do(http.MethodPost, "/auth/logout", "", withCookies(rotated))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	for _, c := range rec.Result().Cookies() {
		assert.Negative(t, c.MaxAge, c.Name)
	}

	rec = s.do(http.MethodGet, "/auth/verify", "", withCookies(rotated))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCookieLoginWithoutCSRFFlagCanRefresh(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"`+testPassword+`","mode":"cookie"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	csrf, _ := decode(t, rec)["csrfToken"].(string)
	require.NotEmpty(t, csrf)
	cookies := liveCookies(rec)
	require.Equal(t, csrf, cookieValue(cookies, strategy.CSRFCookie))

	rec = s.do(http.MethodPost, "/auth/refresh", "", withCookies(cookies), withHeader(strategy.CSRFHeader, csrf))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, cookieValue(liveCookies(rec), strategy.CSRFCookie))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCookieLogoutAfterAccessExpiryEndsSession(t *testing.T) {
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	s := newServerAt(t, clock.Now)

	rec := s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"`+testPassword+`","mode":"cookie","generateCSRF":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookies := liveCookies(rec)
	csrf := cookieValue(cookies, strategy.CSRFCookie)

	clock.Advance(2 * time.Hour)

	rec = s.do(http.MethodGet, "/auth/verify", "", withBrowserCookies(cookies, "/auth/verify"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The refresh cookie is scoped to /auth/refresh, so only the expired access cookie
	// reaches logout.
	rec = s.do(http.MethodPost, "/auth/logout", "", withBrowserCookies(cookies, "/auth/logout"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/auth/refresh", "",
		withBrowserCookies(cookies, "/auth/refresh"), withHeader(strategy.CSRFHeader, csrf))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, []any{"refresh_invalid", "session_expired"}, decode(t, rec)["code"])
}

func TestRefreshFailureClearsCookies(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"`+testPassword+`","mode":"cookie","generateCSRF":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := liveCookies(rec)
	csrf := cookieValue(cookies, strategy.CSRFCookie)

	rec = s.do(http.MethodPost, "/auth/logout", "", withCookies(cookies))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/auth/refresh", "", withCookies(cookies), withHeader(strategy.CSRFHeader, csrf))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Result().Cookies())
	for _, c := range rec.Result().Cookies() {
		assert.Negative(t, c.MaxAge, c.Name)
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodPost, "/auth/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "refresh_required", decode(t, rec)["code"])
}

func TestLogoutIsAlwaysSuccessful(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/auth/logout", "", withBearer("garbage"))
	assert.Equal(t, http.StatusOK, rec.Code)

	access, refresh := s.loginStateless(t)
	rec = s.do(http.MethodPost, "/auth/logout", `{"refreshToken":"`+refresh+`"}`, withBearer(access))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/auth/verify", "", withBearer(access))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"`+refresh+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutAll(t *testing.T) {
	s := newServer(t)
	first, _ := s.loginStateless(t)
	second, _ := s.loginStateless(t)

	rec := s.do(http.MethodPost, "/auth/logout-all", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "access_required", decode(t, rec)["code"])

	rec = s.do(http.MethodPost, "/auth/logout-all", "", withBearer(first))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, tok := range []string{first, second} {
		rec = s.do(http.MethodGet, "/auth/verify", "", withBearer(tok))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestListSessionsMarksCurrent(t *testing.T) {
	s := newServer(t)
	first, _ := s.loginStateless(t)
	_, _ = s.loginStateless(t)

	rec := s.do(http.MethodGet, "/auth/sessions", "", withBearer(first))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sessions := decode(t, rec)["sessions"].([]any)
	require.Len(t, sessions, 2)
	current := 0
	for _, raw := range sessions {
		sess := raw.(map[string]any)
		assert.NotEmpty(t, sess["sessionId"])
		assert.Equal(t, "local", sess["authSource"])
		if sess["current"] == true {
			current++
		}
	}
	assert.Equal(t, 1, current)
}

func TestChangePasswordEndsSessions(t *testing.T) {
	s := newServer(t)
	access, _ := s.loginStateless(t)

	rec := s.do(http.MethodPost, "/auth/change-password",
		`{"currentPassword":"wrong-password","newPassword":"a-brand-new-secret"}`, withBearer(access))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/change-password",
		`{"currentPassword":"`+testPassword+`","newPassword":"short"}`, withBearer(access))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password_policy", decode(t, rec)["code"])

	rec = s.do(http.MethodPost, "/auth/change-password",
		`{"currentPassword":"`+testPassword+`","newPassword":"a-brand-new-secret"}`, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/auth/verify", "", withBearer(access))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"a-brand-new-secret"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	_, err := s.engine.CreateLocalUser(ctx, authcore.NewLocalUser{
		Username: "root",
		Password: testPassword,
		IsAdmin:  true,
	})
	require.NoError(t, err)

	userAccess, _ := s.loginStateless(t)
	rec := s.do(http.MethodPost, "/auth/admin/users", `{"username":"bob","password":"`+testPassword+`"}`, withBearer(userAccess))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin_required", decode(t, rec)["code"])

	rec = s.do(http.MethodPost, "/auth/login", `{"username":"root","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	adminAccess := decode(t, rec)["accessToken"].(string)

	rec = s.do(http.MethodPost, "/auth/admin/users", `{"username":"bob","password":"`+testPassword+`"}`, withBearer(adminAccess))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bob := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "local", bob["authSource"])
	assert.NotContains(t, bob, "PasswordHash")

	rec = s.do(http.MethodPost, "/auth/admin/users", `{"username":"bob","password":"`+testPassword+`"}`, withBearer(adminAccess))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/auth/login", `{"username":"bob","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	bobAccess := decode(t, rec)["accessToken"].(string)

	rec = s.do(http.MethodPost, "/auth/admin/users/abc/deactivate", "", withBearer(adminAccess))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/auth/admin/users/9999/deactivate", "", withBearer(adminAccess))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := int64(bob["id"].(float64))
	rec = s.do(http.MethodPost, "/auth/admin/users/"+strconv.FormatInt(id, 10)+"/deactivate", "", withBearer(adminAccess))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/auth/verify", "", withBearer(bobAccess))
	assert.Contains(t, []int{http.StatusUnauthorized, http.StatusForbidden}, rec.Code)

	rec = s.do(http.MethodPost, "/auth/login", `{"username":"bob","password":"`+testPassword+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatedRoutesAreRateLimited(t *testing.T) {
	s := newServer(t, func(c *authcore.Config) {
		c.RateLimit.Max = 2
		c.RateLimit.Window = time.Minute
	})
	access, _ := s.loginStateless(t)

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodGet, "/auth/verify", "", withBearer(access))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(http.MethodGet, "/auth/verify", "", withBearer(access))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.EqualValues(t, 1, s.engine.MetricsSnapshot().Counters[authcore.MetricRateLimitHit])
}

func TestLoginThrottlePerIP(t *testing.T) {
	s := newServer(t, func(c *authcore.Config) {
		c.RateLimit.LoginRate = 0.01
		c.RateLimit.LoginBurst = 1
	})

	rec := s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"`+testPassword+`"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// chi's RealIP middleware makes X-Forwarded-For the client address.
	rec = s.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"`+testPassword+`"}`,
		withHeader("X-Forwarded-For", "198.51.100.9"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	_, _ = s.loginStateless(t)

	rec := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "authcore_login_success_total 1")

	off := newServer(t, func(c *authcore.Config) { c.Metrics.Enabled = false })
	rec = off.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
