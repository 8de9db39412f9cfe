package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed logins."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins rejected by lockout."},
	{ID: authcore.MetricLoginServiceError, Name: "authcore_login_service_error_total", Help: "Logins failed by an unavailable identity provider."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful token refreshes."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Refresh token reuse detections."},
	{ID: authcore.MetricVerifySuccess, Name: "authcore_verify_success_total", Help: "Accepted access tokens."},
	{ID: authcore.MetricVerifyFailure, Name: "authcore_verify_failure_total", Help: "Rejected access tokens."},
	{ID: authcore.MetricUserCacheHit, Name: "authcore_user_cache_hit_total", Help: "User cache hits."},
	{ID: authcore.MetricUserCacheMiss, Name: "authcore_user_cache_miss_total", Help: "User cache misses."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionInvalidated, Name: "authcore_session_invalidated_total", Help: "Invalidated sessions."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricUserCreated, Name: "authcore_user_created_total", Help: "Provisioned local users."},
	{ID: authcore.MetricUserDeactivated, Name: "authcore_user_deactivated_total", Help: "Deactivated users."},
	{ID: authcore.MetricProfileUpdated, Name: "authcore_profile_updated_total", Help: "Profile updates."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeFailure, Name: "authcore_password_change_failure_total", Help: "Failed password changes."},
	{ID: authcore.MetricPasswordRehashed, Name: "authcore_password_rehashed_total", Help: "Local password hashes upgraded at login."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Requests denied by rate limiting."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricVerifyLatency, Name: "authcore_verify_latency_seconds", Help: "Access token verification latency."},
}

// HistogramBounds are the upper bounds of the engine's fixed latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix spells HistogramBounds in instrument-name-safe form.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-slot array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
