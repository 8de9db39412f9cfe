package authcore

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginLocked          = "login_locked"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshFailure       = "refresh_failure"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogout               = "logout"
	auditEventLogoutAll            = "logout_all"
	auditEventPasswordChange       = "password_change"
	auditEventUserCreated          = "user_created"
	auditEventUserDeactivated      = "user_deactivated"
	auditEventProfileUpdated       = "profile_updated"
)

// AuditErrorCode is the failure field of an audit event.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrSessionExpired     AuditErrorCode = "session_expired"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrNotLocalUser       AuditErrorCode = "not_local_user"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

type auditEvent struct {
	kind      string
	success   bool
	userID    int64
	username  string
	sessionID string
	source    AuthSource
	// failure overrides the code derived from err.
	failure string
	err     error
}

func (e *Engine) emitAudit(ctx context.Context, ev auditEvent, metadataBuilder func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	caller := clientFrom(ctx)
	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		Kind:       ev.kind,
		UserID:     ev.userID,
		Username:   ev.username,
		SessionID:  ev.sessionID,
		IP:         caller.IP,
		UserAgent:  caller.UserAgent,
		AuthSource: string(ev.source),
		Success:    ev.success,
		Failure:    ev.failure,
		Metadata:   metadata,
	}
	if event.Failure == "" {
		event.Failure = string(auditErrorCode(ev.err))
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrUserInactive),
		errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrAccessInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrRefreshExpired),
		errors.Is(err, ErrAccessExpired):
		return auditErrExpiredToken
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrNotLocalUser):
		return auditErrNotLocalUser
	case errors.Is(err, ErrUserExists):
		return auditErrDuplicate
	case errors.Is(err, ErrServiceUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
