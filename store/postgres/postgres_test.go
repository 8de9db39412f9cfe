package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/credential"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("AUTHCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUTHCORE_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("could not ensure schema: %v", err)
	}

	pool.Exec(ctx, "DELETE FROM auth_users") //nolint:errcheck

	return NewStore(pool), func() {
		pool.Exec(ctx, "DELETE FROM auth_users") //nolint:errcheck
		pool.Close()
	}
}

func TestPostgresUserStore(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	var id int64

	t.Run("Create", func(t *testing.T) {
		u, err := s.Create(ctx, &authcore.User{
			Username:     "Alice",
			Source:       authcore.SourceLocal,
			IsActive:     true,
			PasswordHash: "$argon2id$stub",
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		id = u.ID
		if id == 0 || u.CreatedAt.IsZero() {
			t.Fatalf("Create returned %+v", u)
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		_, err := s.Create(ctx, &authcore.User{Username: "alice", Source: authcore.SourceLocal})
		if !errors.Is(err, authcore.ErrUserExists) {
			t.Fatalf("expected ErrUserExists, got %v", err)
		}
	})

	t.Run("Lookup", func(t *testing.T) {
		u, err := s.GetByUsername(ctx, "ALICE", authcore.SourceLocal)
		if err != nil {
			t.Fatalf("GetByUsername failed: %v", err)
		}
		if u.ID != id || u.PasswordHash != "$argon2id$stub" {
			t.Fatalf("unexpected user %+v", u)
		}
		if _, err := s.GetByID(ctx, id+1000); !errors.Is(err, authcore.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("UpdateAndPassword", func(t *testing.T) {
		u, _ := s.GetByID(ctx, id)
		u.DisplayName = "Alice A."
		u.IsActive = false
		if err := s.Update(ctx, u); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if err := s.SetPassword(ctx, id, "new-hash"); err != nil {
			t.Fatalf("SetPassword failed: %v", err)
		}
		at := time.Now().UTC().Truncate(time.Second)
		if err := s.TouchLastLogin(ctx, id, at); err != nil {
			t.Fatalf("TouchLastLogin failed: %v", err)
		}

		got, _ := s.GetByID(ctx, id)
		if got.DisplayName != "Alice A." || got.IsActive || got.PasswordHash != "new-hash" {
			t.Fatalf("unexpected user after update %+v", got)
		}
		if !got.LastLogin.Equal(at) {
			t.Fatalf("LastLogin = %v, want %v", got.LastLogin, at)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		info := credential.UserInfo{Username: "bob", Source: credential.SourceDirectory, DisplayName: "Bob", IsAdmin: true}
		first, err := s.Upsert(ctx, info)
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
		if !first.IsAdmin || !first.IsActive {
			t.Fatalf("unexpected flags %+v", first)
		}

		info.DisplayName = "Bob B."
		info.IsAdmin = false
		second, err := s.Upsert(ctx, info)
		if err != nil {
			t.Fatalf("second Upsert failed: %v", err)
		}
		if second.ID != first.ID || second.DisplayName != "Bob B." || !second.IsAdmin {
			t.Fatalf("unexpected upsert result %+v", second)
		}
	})
}
