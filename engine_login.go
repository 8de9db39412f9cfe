package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/lockout"
)

// Authenticate verifies credentials against the requested source and opens a session.
//
// Wrong passwords, unknown users and deactivated users all return ErrInvalidCredentials;
// the distinction is kept for lockout accounting and audit. An unreachable directory or
// cloud provider returns ErrServiceUnavailable, as does a lockout backend error. While the username+IP pair is locked the
// call returns a *LockedError without touching the credential source.
//
// The client IP and User-Agent are read from ctx (see WithClient).
func (e *Engine) Authenticate(ctx context.Context, req LoginRequest) (*TokenBundle, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrValidation
	}
	src := req.Source
	if src == "" {
		src = AuthSource(e.config.Credential.DefaultSource)
	}
	src, err := ParseAuthSource(string(src))
	if err != nil {
		return nil, err
	}
	verifier, ok := e.verifiers.Lookup(src)
	if !ok {
		return nil, ErrInvalidSource
	}
	mode := normalizeMode(req.Mode)
	ip := clientFrom(ctx).IP

	status, err := e.lockout.Status(ctx, username, ip)
	if err != nil {
		e.logger.ErrorContext(ctx, "lockout status unavailable", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if status.Locked {
		retry := status.RetryAfter(e.now())
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEvent{
			kind:     auditEventLoginLocked,
			username: username,
			source:   src,
			err:      ErrAccountLocked,
		}, func() map[string]string {
			return map[string]string{"retry_after": RetryAfterHeader(retry)}
		})
		return nil, &LockedError{RetryAfter: retry, Reason: status.Reason}
	}

	info, err := verifier.Authenticate(ctx, username, req.Password)
	if err != nil {
		return nil, e.loginFailed(ctx, username, src, err)
	}

	u, err := e.resolveLoginUser(ctx, src, info)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.loginFailed(ctx, username, src, err)
		}
		e.metricInc(MetricLoginFailure)
		return nil, err
	}
	if !u.IsActive {
		return nil, e.loginFailed(ctx, username, src, ErrUserInactive)
	}

	if err := e.lockout.Clear(ctx, username, ip); err != nil {
		e.logger.WarnContext(ctx, "lockout clear failed", "username", username, "error", err)
	}

	if src == SourceLocal && e.config.Password.UpgradeOnLogin {
		e.rehashIfNeeded(ctx, u, req.Password)
	}

	now := e.now()
	if err := e.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		e.logger.WarnContext(ctx, "last login update failed", "user_id", u.ID, "error", err)
	} else {
		u.LastLogin = now
	}

	bundle, err := e.issueSession(ctx, u, mode)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEvent{kind: auditEventLoginFailure, userID: u.ID, username: u.Username, source: src, err: err}, nil)
		return nil, err
	}

	e.cache.Put(u.ID, u.Clone())
	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEvent{
		kind:      auditEventLoginSuccess,
		success:   true,
		userID:    u.ID,
		username:  u.Username,
		sessionID: bundle.SessionID,
		source:    src,
	}, func() map[string]string {
		return map[string]string{"mode": string(mode)}
	})
	return bundle, nil
}

// loginFailed records the attempt and returns what the caller is allowed to see.
func (e *Engine) loginFailed(ctx context.Context, username string, src AuthSource, cause error) error {
	kind := failureKind(cause)

	caller := clientFrom(ctx)
	status, err := e.lockout.RecordFailure(ctx, lockout.Attempt{
		Username:  username,
		IP:        caller.IP,
		UserAgent: caller.UserAgent,
		Source:    string(src),
		Kind:      kind,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "lockout record failed", "username", username, "error", err)
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEvent{
		kind:     auditEventLoginFailure,
		username: username,
		source:   src,
		failure:  string(kind),
	}, func() map[string]string {
		return map[string]string{
			"failed_attempts":    strconv.Itoa(status.FailedAttempts),
			"remaining_attempts": strconv.Itoa(status.RemainingAttempts),
			"locked":             strconv.FormatBool(status.Locked),
		}
	})

	if kind != lockout.KindServiceError {
		return ErrInvalidCredentials
	}
	e.metricInc(MetricLoginServiceError)
	if errors.Is(cause, ErrServiceUnavailable) {
		e.logger.WarnContext(ctx, "identity provider unavailable", "source", string(src), "error", cause)
		return ErrServiceUnavailable
	}
	e.logger.ErrorContext(ctx, "credential verification failed", "source", string(src), "error", cause)
	return fmt.Errorf("%w: %v", ErrInternal, cause)
}

func failureKind(err error) lockout.Kind {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return lockout.KindInvalidCredentials
	case errors.Is(err, ErrUserNotFound):
		return lockout.KindUserNotFound
	case errors.Is(err, ErrUserInactive):
		return lockout.KindUserInactive
	default:
		return lockout.KindServiceError
	}
}

// resolveLoginUser maps a verified identity to the stored user. Remote identities are
// upserted so profile changes made in the directory show up on the next login.
func (e *Engine) resolveLoginUser(ctx context.Context, src AuthSource, info *credential.UserInfo) (*User, error) {
	var (
		u   *User
		err error
	)
	if src == SourceLocal {
		u, err = e.users.GetByUsername(ctx, info.Username, SourceLocal)
	} else {
		info.Source = src
		u, err = e.users.Upsert(ctx, *info)
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: resolve user: %v", ErrInternal, err)
	}
	return u, nil
}

func (e *Engine) rehashIfNeeded(ctx context.Context, u *User, pass string) {
	needs, err := e.passwordHash.NeedsUpgrade(u.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return
	}
	if err := e.users.SetPassword(ctx, u.ID, hash); err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "user_id", u.ID, "error", err)
		return
	}
	u.PasswordHash = hash
	e.metricInc(MetricPasswordRehashed)
}
