package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
)

const maxUsernameBytes = 255

// ChangePassword replaces the password of a local user after checking the current one,
// then logs the user out of every session.
func (e *Engine) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if current == "" || next == "" {
		return ErrValidation
	}

	err := e.changePassword(ctx, userID, current, next)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEvent{kind: auditEventPasswordChange, userID: userID, err: err}, nil)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEvent{kind: auditEventPasswordChange, success: true, userID: userID, source: SourceLocal}, nil)

	return e.LogoutAll(ctx, userID)
}

func (e *Engine) changePassword(ctx context.Context, userID int64, current, next string) error {
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Source != SourceLocal {
		return ErrNotLocalUser
	}

	ok, err := password.Verify(current, u.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrTooLong) {
		return fmt.Errorf("%w: verify password: %v", ErrInternal, err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if current == next {
		return fmt.Errorf("%w: new password must differ from the current one", ErrPasswordPolicy)
	}

	hash, err := e.hashPassword(next)
	if err != nil {
		return err
	}
	if err := e.users.SetPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("%w: set password: %v", ErrInternal, err)
	}
	return nil
}

// CreateLocalUser registers a user whose password is held by the engine.
func (e *Engine) CreateLocalUser(ctx context.Context, in NewLocalUser) (*User, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	username := strings.TrimSpace(in.Username)
	if username == "" || len(username) > maxUsernameBytes {
		return nil, ErrValidation
	}
	hash, err := e.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	created, err := e.users.Create(ctx, &User{
		Username:     username,
		DisplayName:  in.DisplayName,
		Email:        in.Email,
		Source:       SourceLocal,
		Department:   in.Department,
		Title:        in.Title,
		IsAdmin:      in.IsAdmin,
		IsActive:     true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if !errors.Is(err, ErrUserExists) {
			err = fmt.Errorf("%w: create user: %v", ErrInternal, err)
		}
		e.emitAudit(ctx, auditEvent{kind: auditEventUserCreated, username: username, source: SourceLocal, err: err}, nil)
		return nil, err
	}

	e.metricInc(MetricUserCreated)
	e.emitAudit(ctx, auditEvent{
		kind:     auditEventUserCreated,
		success:  true,
		userID:   created.ID,
		username: created.Username,
		source:   SourceLocal,
	}, nil)
	return created, nil
}

func (e *Engine) hashPassword(pass string) (string, error) {
	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			return "", fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return "", fmt.Errorf("%w: hash password: %v", ErrInternal, err)
	}
	return hash, nil
}

// UpdateProfile applies the set fields of p and drops the cached copy of the user.
// Directory and cloud users may edit their profile, but the next login overwrites it
// with the provider's values.
func (e *Engine) UpdateProfile(ctx context.Context, userID int64, p ProfileUpdate) (*User, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if p.Empty() {
		return nil, ErrValidation
	}

	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Apply(u)
	u.UpdatedAt = e.now()
	if err := e.users.Update(ctx, u); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: update user: %v", ErrInternal, err)
	}
	e.cache.Invalidate(userID)

	e.metricInc(MetricProfileUpdated)
	e.emitAudit(ctx, auditEvent{
		kind:     auditEventProfileUpdated,
		success:  true,
		userID:   u.ID,
		username: u.Username,
		source:   u.Source,
	}, nil)
	return u, nil
}

// GetUser returns a user through the user cache.
func (e *Engine) GetUser(ctx context.Context, userID int64) (*User, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	return e.cachedUser(ctx, userID)
}

// ListSessions returns the live sessions of a user.
func (e *Engine) ListSessions(ctx context.Context, userID int64) ([]*session.Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	out, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return out, nil
}

// DeactivateUser marks a user inactive, logs them out everywhere and drops any
// third-party credentials held for them. Deactivating an inactive user is a no-op
// apart from the logout.
func (e *Engine) DeactivateUser(ctx context.Context, userID int64) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.IsActive {
		u.IsActive = false
		u.UpdatedAt = e.now()
		if err := e.users.Update(ctx, u); err != nil {
			return fmt.Errorf("%w: update user: %v", ErrInternal, err)
		}
	}

	logoutErr := e.LogoutAll(ctx, userID)

	if e.credentials != nil {
		if err := e.credentials.Delete(ctx, userID); err != nil {
			e.logger.WarnContext(ctx, "credential delete failed", "user_id", userID, "error", err)
		}
	}

	e.metricInc(MetricUserDeactivated)
	e.emitAudit(ctx, auditEvent{
		kind:     auditEventUserDeactivated,
		success:  logoutErr == nil,
		userID:   u.ID,
		username: u.Username,
		source:   u.Source,
		err:      logoutErr,
	}, nil)
	return logoutErr
}
