// Package memory is an in-process authcore.UserStore for development and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/credential"
)

type nameKey struct {
	username string
	source   authcore.AuthSource
}

func keyOf(username string, source authcore.AuthSource) nameKey {
	return nameKey{username: strings.ToLower(strings.TrimSpace(username)), source: source}
}

// Store keeps users in maps guarded by a mutex. Returned users are copies.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*authcore.User
	byName map[nameKey]int64
	now    func() time.Time
}

var _ authcore.UserStore = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:   make(map[int64]*authcore.User),
		byName: make(map[nameKey]int64),
		now:    time.Now,
	}
}

func (s *Store) Create(_ context.Context, u *authcore.User) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(u)
}

func (s *Store) insertLocked(u *authcore.User) (*authcore.User, error) {
	k := keyOf(u.Username, u.Source)
	if _, ok := s.byName[k]; ok {
		return nil, authcore.ErrUserExists
	}
	s.nextID++
	stored := u.Clone()
	stored.ID = s.nextID
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	s.byID[stored.ID] = stored
	s.byName[k] = stored.ID
	return stored.Clone(), nil
}

// Update replaces every mutable field. Username and source are fixed at creation.
func (s *Store) Update(_ context.Context, u *authcore.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[u.ID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	next := u.Clone()
	next.Username = cur.Username
	next.Source = cur.Source
	next.CreatedAt = cur.CreatedAt
	s.byID[u.ID] = next
	return nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *Store) GetByUsername(_ context.Context, username string, source authcore.AuthSource) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[keyOf(username, source)]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *Store) Upsert(_ context.Context, info credential.UserInfo) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byName[keyOf(info.Username, info.Source)]; ok {
		u := s.byID[id]
		u.DisplayName = info.DisplayName
		u.Email = info.Email
		u.ExternalID = info.ExternalID
		u.Department = info.Department
		u.Title = info.Title
		u.UpdatedAt = s.now()
		return u.Clone(), nil
	}

	return s.insertLocked(&authcore.User{
		Username:    info.Username,
		DisplayName: info.DisplayName,
		Email:       info.Email,
		Source:      info.Source,
		ExternalID:  info.ExternalID,
		Department:  info.Department,
		Title:       info.Title,
		IsAdmin:     info.IsAdmin,
		IsActive:    true,
	})
}

func (s *Store) SetPassword(_ context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now()
	return nil
}

func (s *Store) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.LastLogin = at
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
