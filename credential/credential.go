package credential

import (
	"context"
	"errors"
	"strings"
)

// Source identifies where a user's primary credentials live.
type Source string

const (
	// SourceDirectory is a corporate directory service.
	SourceDirectory Source = "directory"
	// SourceCloud is a cloud identity provider.
	SourceCloud Source = "cloud"
	// SourceLocal is the engine's own password store.
	SourceLocal Source = "local"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceDirectory, SourceCloud, SourceLocal:
		return true
	}
	return false
}

// ParseSource normalizes a wire value. The empty string is not a source.
func ParseSource(v string) (Source, bool) {
	s := Source(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

var (
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned when the source has no such user.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserInactive is returned when the source reports the account as disabled.
	ErrUserInactive = errors.New("user inactive")
	// ErrServiceUnavailable is returned when the source cannot be reached in time.
	// It is never used for a wrong password.
	ErrServiceUnavailable = errors.New("identity service unavailable")
)

// UserInfo is the normalized identity payload every source returns on success.
type UserInfo struct {
	Username    string
	DisplayName string
	Email       string
	Source      Source
	ExternalID  string
	Department  string
	Title       string
	// IsAdmin is only honoured for new users; existing users keep the flag held by the user store.
	IsAdmin bool
}

// Verifier checks a username/password against one credential source.
type Verifier interface {
	Source() Source
	Authenticate(ctx context.Context, username, password string) (*UserInfo, error)
	GetUser(ctx context.Context, username string) (*UserInfo, error)
	TestConnection(ctx context.Context) error
}

// Set holds one Verifier per source.
type Set map[Source]Verifier

// NewSet indexes verifiers by their reported source. A later verifier for the same
// source replaces an earlier one.
func NewSet(verifiers ...Verifier) Set {
	s := make(Set, len(verifiers))
	for _, v := range verifiers {
		if v == nil {
			continue
		}
		s[v.Source()] = v
	}
	return s
}

// Lookup returns the verifier for src.
func (s Set) Lookup(src Source) (Verifier, bool) {
	v, ok := s[src]
	return v, ok && v != nil
}

// TestAll checks connectivity of every configured source and returns the failures by source.
func (s Set) TestAll(ctx context.Context) map[Source]error {
	out := make(map[Source]error)
	for src, v := range s {
		if err := v.TestConnection(ctx); err != nil {
			out[src] = err
		}
	}
	return out
}
