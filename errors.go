package authcore

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/credential"
)

var (
	// ErrValidation is returned when a request is malformed or missing required fields.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidSource is returned when the requested auth source is unknown or not configured.
	ErrInvalidSource = errors.New("invalid auth source")

	// ErrAccessRequired is returned when a protected route is called without an access token.
	ErrAccessRequired = errors.New("access token required")
	// ErrRefreshRequired is returned when refresh is called without a refresh token.
	ErrRefreshRequired = errors.New("refresh token required")
	// ErrInvalidCredentials is the generic login failure. It is also what the caller sees
	// for unknown and inactive users so usernames cannot be enumerated.
	ErrInvalidCredentials = credential.ErrInvalidCredentials
	// ErrAccessInvalid covers bad signatures, blacklisted tokens and dead sessions.
	ErrAccessInvalid = errors.New("invalid access token")
	// ErrAccessExpired is returned for a well-formed access token past its expiry.
	ErrAccessExpired = errors.New("access token expired")
	// ErrRefreshInvalid covers tampered, orphaned, blacklisted and replayed refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshExpired is returned for a well-formed refresh token past its expiry.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrSessionExpired is returned by refresh when the backing session is gone.
	ErrSessionExpired = errors.New("session expired")

	// ErrCSRFInvalid is returned when a cookie-mode state-changing request has no matching CSRF token.
	ErrCSRFInvalid = errors.New("invalid csrf token")
	// ErrAccountInactive is returned when an authenticated user has been deactivated.
	ErrAccountInactive = errors.New("account inactive")
	// ErrAdminRequired is returned when a route requires an administrator.
	ErrAdminRequired = errors.New("admin required")
	// ErrSourceNotAllowed is returned when the user's auth source is not accepted by a route.
	ErrSourceNotAllowed = errors.New("auth source not allowed")
	// ErrForbidden is the generic authorization failure.
	ErrForbidden = errors.New("forbidden")

	// ErrAccountLocked is returned while the lockout window for a username+IP pair is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrUserNotFound is returned by user lookups. Login collapses it into ErrInvalidCredentials.
	ErrUserNotFound = credential.ErrUserNotFound
	// ErrUserInactive is the internal cause recorded when a deactivated user attempts to log in.
	ErrUserInactive = credential.ErrUserInactive
	// ErrUserExists is returned when creating a user whose username+source is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrNotLocalUser is returned by password operations on directory or cloud users.
	ErrNotLocalUser = errors.New("operation requires a local user")
	// ErrPasswordPolicy is returned when a new password is rejected by the hasher.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrServiceUnavailable is returned when a directory or cloud identity provider cannot be reached.
	ErrServiceUnavailable = credential.ErrServiceUnavailable
	// ErrRateLimited is returned when a per-user route limit is exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrResourceCheck is returned when an ownership predicate itself fails.
	ErrResourceCheck = errors.New("resource check failed")
	// ErrInternal is returned for backend failures that cannot be attributed to the caller.
	ErrInternal = errors.New("internal auth failure")
	// ErrEngineNotReady is returned when an Engine method is called on a nil or partially built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError carries the remaining lockout window. It matches ErrAccountLocked with errors.Is.
type LockedError struct {
	RetryAfter time.Duration
	Reason     string
}

func (e *LockedError) Error() string { return ErrAccountLocked.Error() }

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// RateLimitError carries the retry-after hint of a rejected request.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts a retry-after hint from a lockout or rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var locked *LockedError
	if errors.As(err, &locked) {
		return locked.RetryAfter, true
	}
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return limited.RetryAfter, true
	}
	return 0, false
}

// RetryAfterHeader formats a retry-after duration as whole seconds, rounding up.
func RetryAfterHeader(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

type errorClass struct {
	err    error
	status int
	code   string
}

// Order matters: the first matching entry wins.
var errorClasses = []errorClass{
	{ErrValidation, http.StatusBadRequest, "validation_failed"},
	{ErrInvalidSource, http.StatusBadRequest, "invalid_source"},
	{ErrPasswordPolicy, http.StatusBadRequest, "password_policy"},
	{ErrNotLocalUser, http.StatusBadRequest, "not_local_user"},
	{ErrAccessRequired, http.StatusUnauthorized, "access_required"},
	{ErrRefreshRequired, http.StatusUnauthorized, "refresh_required"},
	{ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{ErrAccessInvalid, http.StatusUnauthorized, "access_invalid"},
	{ErrAccessExpired, http.StatusUnauthorized, "access_expired"},
	{ErrRefreshInvalid, http.StatusUnauthorized, "refresh_invalid"},
	{ErrRefreshExpired, http.StatusUnauthorized, "refresh_expired"},
	{ErrSessionExpired, http.StatusUnauthorized, "session_expired"},
	{ErrCSRFInvalid, http.StatusForbidden, "csrf_invalid"},
	{ErrAccountInactive, http.StatusForbidden, "account_inactive"},
	{ErrUserInactive, http.StatusForbidden, "account_inactive"},
	{ErrAdminRequired, http.StatusForbidden, "admin_required"},
	{ErrSourceNotAllowed, http.StatusForbidden, "source_not_allowed"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{ErrUserExists, http.StatusConflict, "user_exists"},
	{ErrAccountLocked, http.StatusLocked, "account_locked"},
	{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
	{ErrResourceCheck, http.StatusInternalServerError, "resource_check_error"},
}

// HTTPStatus maps an engine error to the HTTP status the wire contract uses.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}

// PublicCode returns a stable machine-readable code for err.
func PublicCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}
