package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/jwt"
)

// VerifyAccessToken validates an access token and resolves its user.
//
// A bad signature, a blacklisted jti and a dead session all return ErrAccessInvalid so the
// caller cannot tell which check failed. A deactivated user returns ErrAccountInactive.
func (e *Engine) VerifyAccessToken(ctx context.Context, token string, opts VerifyOptions) (*VerifiedToken, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricVerifyLatency, time.Since(start))
		}()
	}

	v, err := e.verifyAccess(ctx, token, opts)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		return nil, err
	}
	e.metricInc(MetricVerifySuccess)
	return v, nil
}

func (e *Engine) verifyAccess(ctx context.Context, token string, opts VerifyOptions) (*VerifiedToken, error) {
	if token == "" {
		return nil, ErrAccessRequired
	}

	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrAccessExpired
		}
		return nil, ErrAccessInvalid
	}
	// A malformed sid cannot name a session; skip the Redis round trips.
	if _, err := internal.ParseSessionID(claims.SID); err != nil {
		return nil, ErrAccessInvalid
	}

	if !opts.SkipBlacklist {
		listed, err := e.blacklist.Contains(ctx, claims.ID)
		if err != nil {
			e.logger.WarnContext(ctx, "blacklist lookup failed", "error", err)
			return nil, ErrAccessInvalid
		}
		if listed {
			return nil, ErrAccessInvalid
		}
	}

	alive, err := e.sessions.Exists(ctx, claims.SID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if !alive {
		return nil, ErrAccessInvalid
	}

	u, err := e.cachedUser(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrAccessInvalid
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrAccountInactive
	}

	return &VerifiedToken{
		User:      u,
		SessionID: claims.SID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
