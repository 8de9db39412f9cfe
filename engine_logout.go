package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
)

// LogoutRequest identifies what to log out. Any subset may be set. An unparsable token is
// skipped; a correctly signed but expired access token still identifies its session.
type LogoutRequest struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
}

// Logout ends one session. It is best-effort and idempotent: presented tokens are
// blacklisted, the session and its token family are removed, and backend failures are
// logged rather than returned. Only a nil engine yields an error.
func (e *Engine) Logout(ctx context.Context, req LogoutRequest) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sessionID := req.SessionID
	var userID int64

	if req.AccessToken != "" {
		claims, err := e.jwtManager.ParseAccess(req.AccessToken)
		switch {
		case err == nil:
			if err := e.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
				e.logger.WarnContext(ctx, "logout blacklist failed", "error", err)
			}
		case errors.Is(err, jwt.ErrExpired):
			// Cookie clients only send the access cookie here; once it has expired it is
			// still the only handle on the session.
			claims, err = e.jwtManager.ParseExpiredAccess(req.AccessToken)
		}
		if err == nil {
			if sessionID == "" {
				sessionID = claims.SID
			}
			userID = claims.UID
		}
	}
	if req.RefreshToken != "" {
		if claims, err := e.jwtManager.ParseRefresh(req.RefreshToken); err == nil {
			if sessionID == "" {
				sessionID = claims.SID
			}
			userID = claims.UID
			if err := e.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
				e.logger.WarnContext(ctx, "logout blacklist failed", "error", err)
			}
			if err := e.families.Revoke(ctx, claims.FamilyID); err != nil {
				e.logger.WarnContext(ctx, "logout family revoke failed", "error", err)
			}
		}
	}

	if sessionID != "" {
		sess, err := e.sessions.Get(ctx, sessionID)
		switch {
		case err == nil:
			userID = sess.UserID
			if err := e.families.Revoke(ctx, sess.FamilyID); err != nil {
				e.logger.WarnContext(ctx, "logout family revoke failed", "error", err)
			}
		case !errors.Is(err, session.ErrNotFound):
			e.logger.WarnContext(ctx, "logout session lookup failed", "session_id", sessionID, "error", err)
		}

		existed, err := e.sessions.Delete(ctx, sessionID)
		if err != nil {
			e.logger.WarnContext(ctx, "logout session delete failed", "session_id", sessionID, "error", err)
		}
		if existed {
			e.metricInc(MetricSessionInvalidated)
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEvent{
		kind:      auditEventLogout,
		success:   true,
		userID:    userID,
		sessionID: sessionID,
	}, nil)
	return nil
}

// LogoutAll evicts the user from the cache, deletes every session of the user and revokes
// every token family. Both deletions are attempted even if one fails.
func (e *Engine) LogoutAll(ctx context.Context, userID int64) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	e.cache.Invalidate(userID)

	var (
		g        errgroup.Group
		sessions []string
		families int
	)
	g.Go(func() error {
		ids, err := e.sessions.DeleteAllForUser(ctx, userID)
		sessions = ids
		return err
	})
	g.Go(func() error {
		n, err := e.families.RevokeAllForUser(ctx, userID)
		families = n
		return err
	})
	err := g.Wait()

	// A concurrent verify may have repopulated the cache before the sessions were gone.
	e.cache.Invalidate(userID)

	for range sessions {
		e.metricInc(MetricSessionInvalidated)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEvent{
		kind:    auditEventLogoutAll,
		success: err == nil,
		userID:  userID,
		err:     err,
	}, func() map[string]string {
		return map[string]string{
			"sessions": strconv.Itoa(len(sessions)),
			"families": strconv.Itoa(families),
		}
	})

	if err != nil {
		return fmt.Errorf("%w: logout all: %v", ErrInternal, err)
	}
	return nil
}
