package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrEthical07/authcore/password"
)

// LocalAccount is what the local verifier needs from the user store.
type LocalAccount struct {
	Info         UserInfo
	PasswordHash string
	Active       bool
}

// LocalAccounts resolves local accounts by username. Implementations return
// ErrUserNotFound when no local account exists.
type LocalAccounts interface {
	LookupLocal(ctx context.Context, username string) (*LocalAccount, error)
}

// LocalAccountsFunc adapts a function to LocalAccounts.
type LocalAccountsFunc func(ctx context.Context, username string) (*LocalAccount, error)

// LookupLocal calls f.
func (f LocalAccountsFunc) LookupLocal(ctx context.Context, username string) (*LocalAccount, error) {
	return f(ctx, username)
}

// Local verifies passwords held by the engine's own user store.
type Local struct {
	accounts LocalAccounts
	hasher   *password.Argon2

	dummyOnce sync.Once
	dummyHash string
}

var _ Verifier = (*Local)(nil)

// NewLocal returns a verifier over accounts. hasher is only used to produce a dummy
// hash so unknown usernames cost the same as wrong passwords.
func NewLocal(accounts LocalAccounts, hasher *password.Argon2) *Local {
	return &Local{accounts: accounts, hasher: hasher}
}

// Source returns SourceLocal.
func (l *Local) Source() Source { return SourceLocal }

// Authenticate compares password against the stored hash.
func (l *Local) Authenticate(ctx context.Context, username, pass string) (*UserInfo, error) {
	username = strings.TrimSpace(username)
	if username == "" || pass == "" {
		return nil, ErrInvalidCredentials
	}

	acct, err := l.accounts.LookupLocal(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			l.burnDummy(pass)
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if acct.PasswordHash == "" {
		l.burnDummy(pass)
		return nil, ErrInvalidCredentials
	}

	ok, err := password.Verify(pass, acct.PasswordHash)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("verify local password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !acct.Active {
		return nil, ErrUserInactive
	}

	info := acct.Info
	info.Source = SourceLocal
	return &info, nil
}

// GetUser returns the stored profile without checking a password.
func (l *Local) GetUser(ctx context.Context, username string) (*UserInfo, error) {
	acct, err := l.accounts.LookupLocal(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	info := acct.Info
	info.Source = SourceLocal
	return &info, nil
}

// TestConnection always succeeds; the local store is checked by the engine's own health probes.
func (l *Local) TestConnection(context.Context) error { return nil }

func (l *Local) burnDummy(pass string) {
	if l.hasher == nil {
		return
	}
	l.dummyOnce.Do(func() {
		l.dummyHash, _ = l.hasher.Hash("timing-equalizer-password")
	})
	if l.dummyHash != "" {
		_, _ = l.hasher.Verify(pass, l.dummyHash)
	}
}
