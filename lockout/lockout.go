// Package lockout tracks failed login attempts per (username, client IP) and locks the
// pair out once a threshold is reached inside a rolling window.
//
// Usernames are compared case-insensitively. A lock lasts Config.Duration and clears
// itself; Clear removes it early after a successful login.
package lockout

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnavailable indicates the lockout backend is unreachable.
var ErrUnavailable = errors.New("lockout backend unavailable")

// Kind classifies a failed attempt.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUserNotFound       Kind = "user_not_found"
	KindUserInactive       Kind = "user_inactive"
	// KindServiceError is an identity provider failure. It is recorded but only counts
	// toward the threshold when Config.CountServiceErrors is set.
	KindServiceError Kind = "service_error"
)

// ReasonTooManyFailures is the Status.Reason of a threshold lock.
const ReasonTooManyFailures = "too_many_failed_attempts"

// Status is the lockout state of one (username, ip) pair.
type Status struct {
	Locked            bool
	FailedAttempts    int
	RemainingAttempts int
	LockedUntil       time.Time
	Reason            string
}

// RetryAfter returns how long until the lock lifts, or zero when unlocked.
func (s Status) RetryAfter(now time.Time) time.Duration {
	if !s.Locked || !s.LockedUntil.After(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// Attempt describes one failed login.
type Attempt struct {
	Username  string
	IP        string
	UserAgent string
	Source    string
	Kind      Kind
}

// Tracker is consulted before credential verification and updated after every attempt.
type Tracker interface {
	Status(ctx context.Context, username, ip string) (Status, error)
	RecordFailure(ctx context.Context, a Attempt) (Status, error)
	Clear(ctx context.Context, username, ip string) error
}

// Config holds lockout thresholds.
type Config struct {
	// Threshold is the number of counted failures that triggers a lock. Zero disables locking.
	Threshold int
	// Window is how long failures are remembered before the counter resets.
	Window time.Duration
	// Duration is how long a lock lasts.
	Duration           time.Duration
	CountServiceErrors bool
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 15 * time.Minute
	}
	if c.Duration <= 0 {
		c.Duration = 15 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) counts(k Kind) bool {
	return k != KindServiceError || c.CountServiceErrors
}

func (c Config) status(failed int, lockedUntil, now time.Time) Status {
	st := Status{FailedAttempts: failed}
	if lockedUntil.After(now) {
		st.Locked = true
		st.LockedUntil = lockedUntil
		st.Reason = ReasonTooManyFailures
		return st
	}
	if c.Threshold > 0 {
		st.RemainingAttempts = c.Threshold - failed
		if st.RemainingAttempts < 0 {
			st.RemainingAttempts = 0
		}
	}
	return st
}

func subjectKey(username, ip string) string {
	if ip == "" {
		ip = "-"
	}
	return strings.ToLower(strings.TrimSpace(username)) + ":" + ip
}
