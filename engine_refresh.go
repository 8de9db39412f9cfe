package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/family"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
)

// Refresh rotates a refresh token: the presented token is consumed and a new access and
// refresh pair of the same token family is returned.
//
// Presenting a token that was already rotated is treated as theft. The family is revoked,
// every session of the user is logged out, and ErrRefreshInvalid is returned. In cookie
// mode the CSRF token is rotated too.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, mode AuthMode) (*TokenBundle, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if refreshToken == "" {
		return nil, ErrRefreshRequired
	}
	mode = normalizeMode(mode)

	claims, err := e.jwtManager.ParseRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, e.refreshFailed(ctx, 0, "", ErrRefreshExpired)
		}
		return nil, e.refreshFailed(ctx, 0, "", ErrRefreshInvalid)
	}

	listed, err := e.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "blacklist lookup failed", "error", err)
		return nil, e.refreshFailed(ctx, claims.UID, claims.SID, ErrRefreshInvalid)
	}

	fam, err := e.families.Get(ctx, claims.FamilyID)
	if err != nil {
		if errors.Is(err, family.ErrNotFound) {
			return nil, e.refreshFailed(ctx, claims.UID, claims.SID, ErrRefreshInvalid)
		}
		return nil, e.refreshFailed(ctx, claims.UID, claims.SID, fmt.Errorf("%w: %v", ErrInternal, err))
	}
	if fam.UserID != claims.UID || fam.SessionID != claims.SID {
		return nil, e.refreshFailed(ctx, claims.UID, claims.SID, ErrRefreshInvalid)
	}
	// A consumed token is blacklisted; with its family still alive that is a replay.
	if listed || fam.LatestJTI != claims.ID {
		return nil, e.refreshReused(ctx, claims)
	}

	u, err := e.loadUser(ctx, claims.UID)
	if err != nil {
		return nil, e.refreshFailed(ctx, claims.UID, claims.SID, err)
	}
	if !u.IsActive {
		return nil, e.refreshFailed(ctx, claims.UID, claims.SID, ErrUserInactive)
	}

	sess, err := e.sessions.Get(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, e.refreshFailed(ctx, claims.UID, claims.SID, ErrSessionExpired)
		}
		return nil, e.refreshFailed(ctx, claims.UID, claims.SID, fmt.Errorf("%w: %v", ErrInternal, err))
	}

	next, err := e.jwtManager.IssueRefresh(jwt.RefreshSubject{
		UserID:    u.ID,
		SessionID: claims.SID,
		FamilyID:  claims.FamilyID,
	})
	if err != nil {
		return nil, e.refreshFailed(ctx, u.ID, claims.SID, fmt.Errorf("%w: issue refresh: %v", ErrInternal, err))
	}

	ttl := e.jwtManager.RefreshTTL()
	res, err := e.families.Rotate(ctx, claims.FamilyID, claims.ID, next.JTI, e.now(), ttl)
	if err != nil {
		return nil, e.refreshFailed(ctx, u.ID, claims.SID, fmt.Errorf("%w: %v", ErrInternal, err))
	}
	switch res {
	case family.Mismatch:
		// Lost the race against a concurrent rotation of the same token.
		return nil, e.refreshReused(ctx, claims)
	case family.NotFound:
		return nil, e.refreshFailed(ctx, u.ID, claims.SID, ErrRefreshInvalid)
	}

	if err := e.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		e.logger.WarnContext(ctx, "blacklist add failed", "jti", claims.ID, "error", err)
	}

	access, err := e.jwtManager.IssueAccess(accessSubject(u, claims.SID))
	if err != nil {
		return nil, e.refreshFailed(ctx, u.ID, claims.SID, fmt.Errorf("%w: issue access: %v", ErrInternal, err))
	}

	sess.Username = u.Username
	sess.IsAdmin = u.IsAdmin
	sess.ExpiresAt = next.ExpiresAt.Unix()
	alive, err := e.sessions.Extend(ctx, sess, ttl)
	if err != nil {
		e.logger.WarnContext(ctx, "session extend failed", "session_id", claims.SID, "error", err)
	} else if !alive {
		// Logged out while this refresh was in flight.
		return nil, e.refreshFailed(ctx, u.ID, claims.SID, ErrSessionExpired)
	}

	bundle, err := e.bundle(u, claims.SID, access, next, mode)
	if err != nil {
		return nil, e.refreshFailed(ctx, u.ID, claims.SID, err)
	}

	e.cache.Put(u.ID, u.Clone())
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEvent{
		kind:      auditEventRefreshSuccess,
		success:   true,
		userID:    u.ID,
		username:  u.Username,
		sessionID: claims.SID,
		source:    u.Source,
	}, nil)
	return bundle, nil
}

func (e *Engine) refreshFailed(ctx context.Context, userID int64, sessionID string, err error) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEvent{
		kind:      auditEventRefreshFailure,
		userID:    userID,
		sessionID: sessionID,
		err:       err,
	}, nil)
	return err
}

// refreshReused handles a replayed refresh token by logging the user out everywhere.
func (e *Engine) refreshReused(ctx context.Context, claims *jwt.RefreshClaims) error {
	e.metricInc(MetricRefreshReuseDetected)
	e.logger.WarnContext(ctx, "refresh token reuse detected",
		"user_id", claims.UID,
		"session_id", claims.SID,
		"family_id", claims.FamilyID,
	)

	if err := e.families.Revoke(ctx, claims.FamilyID); err != nil {
		e.logger.ErrorContext(ctx, "family revoke failed", "family_id", claims.FamilyID, "error", err)
	}
	if err := e.LogoutAll(ctx, claims.UID); err != nil {
		e.logger.ErrorContext(ctx, "logout all after reuse failed", "user_id", claims.UID, "error", err)
	}

	e.emitAudit(ctx, auditEvent{
		kind:      auditEventRefreshReuseDetected,
		userID:    claims.UID,
		sessionID: claims.SID,
		failure:   string(auditErrRefreshReuse),
	}, func() map[string]string {
		return map[string]string{"family_id": claims.FamilyID}
	})
	return e.refreshFailed(ctx, claims.UID, claims.SID, ErrRefreshInvalid)
}
