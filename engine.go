package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/blacklist"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/credstore"
	"github.com/MrEthical07/authcore/family"
	"github.com/MrEthical07/authcore/internal"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/usercache"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Engine is the authentication service. It is built once with New().Build() and is safe
// for concurrent use.
type Engine struct {
	config       Config
	logger       *slog.Logger
	redis        redis.UniversalClient
	users        UserStore
	verifiers    credential.Set
	lockout      lockout.Tracker
	jwtManager   *jwt.Manager
	passwordHash *password.Argon2
	sessions     *session.Store
	families     *family.Registry
	blacklist    *blacklist.List
	cache        *usercache.Cache[*User]
	credentials  credstore.Store
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	now          func() time.Time
	stop         context.CancelFunc
}

// Close stops the cache sweeper and flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stop != nil {
		e.stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the validated configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Credentials returns the encrypted third-party credential store, or nil when none is attached.
func (e *Engine) Credentials() credstore.Store {
	if e == nil {
		return nil
	}
	return e.credentials
}

// AuditDropped returns how many audit events were dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// UserCacheLen returns the number of cached users.
func (e *Engine) UserCacheLen() int {
	if e == nil || e.cache == nil {
		return 0
	}
	return e.cache.Len()
}

// TestConnections probes Redis, the user store and every credential source, and returns
// the failures keyed by component name. An empty map means everything is reachable.
func (e *Engine) TestConnections(ctx context.Context) map[string]error {
	out := make(map[string]error)
	if err := e.sessions.Ping(ctx); err != nil {
		out["redis"] = err
	}
	if err := e.users.Ping(ctx); err != nil {
		out["user_store"] = err
	}
	for src, err := range e.verifiers.TestAll(ctx) {
		out["source:"+string(src)] = err
	}
	return out
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) lookupLocal(ctx context.Context, username string) (*credential.LocalAccount, error) {
	u, err := e.users.GetByUsername(ctx, username, SourceLocal)
	if err != nil {
		return nil, err
	}
	return &credential.LocalAccount{
		Info:         userInfo(u),
		PasswordHash: u.PasswordHash,
		Active:       u.IsActive,
	}, nil
}

func userInfo(u *User) credential.UserInfo {
	return credential.UserInfo{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Source:      u.Source,
		ExternalID:  u.ExternalID,
		Department:  u.Department,
		Title:       u.Title,
		IsAdmin:     u.IsAdmin,
	}
}

// cachedUser serves from the user cache and repopulates it from the store on a miss.
func (e *Engine) cachedUser(ctx context.Context, userID int64) (*User, error) {
	if u, ok := e.cache.Get(userID); ok {
		e.metricInc(MetricUserCacheHit)
		return u.Clone(), nil
	}
	e.metricInc(MetricUserCacheMiss)

	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.cache.Put(userID, u.Clone())
	return u, nil
}

func (e *Engine) loadUser(ctx context.Context, userID int64) (*User, error) {
	u, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: load user: %v", ErrInternal, err)
	}
	return u, nil
}

// issueSession creates a session with a fresh token family and mints the first token pair.
func (e *Engine) issueSession(ctx context.Context, u *User, mode AuthMode) (*TokenBundle, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("%w: session id: %v", ErrInternal, err)
	}
	sessionID := sid.String()
	familyID := uuid.NewString()

	access, err := e.jwtManager.IssueAccess(accessSubject(u, sessionID))
	if err != nil {
		return nil, fmt.Errorf("%w: issue access: %v", ErrInternal, err)
	}
	refresh, err := e.jwtManager.IssueRefresh(jwt.RefreshSubject{
		UserID:    u.ID,
		SessionID: sessionID,
		FamilyID:  familyID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: issue refresh: %v", ErrInternal, err)
	}

	now := e.now()
	ttl := e.jwtManager.RefreshTTL()
	if err := e.families.Create(ctx, family.Family{
		ID:        familyID,
		UserID:    u.ID,
		SessionID: sessionID,
		LatestJTI: refresh.JTI,
		CreatedAt: now,
		RotatedAt: now,
	}, ttl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	caller := clientFrom(ctx)
	sess := &session.Session{
		SessionID:  sessionID,
		UserID:     u.ID,
		Username:   u.Username,
		AuthSource: string(u.Source),
		IsAdmin:    u.IsAdmin,
		FamilyID:   familyID,
		IP:         caller.IP,
		UserAgent:  caller.UserAgent,
		CreatedAt:  now.Unix(),
		ExpiresAt:  refresh.ExpiresAt.Unix(),
	}
	if err := e.sessions.Save(ctx, sess, ttl); err != nil {
		if revokeErr := e.families.Revoke(ctx, familyID); revokeErr != nil {
			e.logger.WarnContext(ctx, "orphaned token family", "family_id", familyID, "error", revokeErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	return e.bundle(u, sessionID, access, refresh, mode)
}

// bundle mints a CSRF token for every cookie-mode bundle: a cookie session without one
// could never be refreshed.
func (e *Engine) bundle(u *User, sessionID string, access, refresh jwt.Issued, mode AuthMode) (*TokenBundle, error) {
	b := &TokenBundle{
		User:             u.Clone(),
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		ExpiresIn:        int64(e.jwtManager.AccessTTL() / time.Second),
		SessionID:        sessionID,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}
	if mode == ModeCookie {
		token, err := internal.NewCSRFToken()
		if err != nil {
			return nil, fmt.Errorf("%w: csrf token: %v", ErrInternal, err)
		}
		b.CSRFToken = token
	}
	return b, nil
}

func accessSubject(u *User, sessionID string) jwt.AccessSubject {
	return jwt.AccessSubject{
		UserID:     u.ID,
		Username:   u.Username,
		AuthSource: string(u.Source),
		IsAdmin:    u.IsAdmin,
		SessionID:  sessionID,
	}
}

func normalizeMode(m AuthMode) AuthMode {
	if m == ModeCookie {
		return ModeCookie
	}
	return ModeStateless
}

// ObserveRateLimited counts a request rejected by an HTTP rate limiter.
func (e *Engine) ObserveRateLimited() {
	e.metricInc(MetricRateLimitHit)
}
