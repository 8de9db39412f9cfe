// Package postgres implements authcore.UserStore on PostgreSQL through a pgx pool.
//
// Usernames are unique per auth source, compared case-insensitively.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/credential"
)

const uniqueViolation = "23505"

const userColumns = `id, username, auth_source, display_name, email, external_id, department, title,
	is_admin, is_active, password_hash, last_login, created_at, updated_at`

// Store implements authcore.UserStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ authcore.UserStore = (*Store)(nil)

// NewStore returns a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromDSN opens a pool, ensures the schema exists, and returns a Store.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(pool), nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Create(ctx context.Context, u *authcore.User) (*authcore.User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO auth_users (username, auth_source, display_name, email, external_id, department, title,
			is_admin, is_active, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+userColumns,
		u.Username, string(u.Source), u.DisplayName, u.Email, u.ExternalID, u.Department, u.Title,
		u.IsAdmin, u.IsActive, u.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, authcore.ErrUserExists
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) Update(ctx context.Context, u *authcore.User) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auth_users SET display_name = $2, email = $3, external_id = $4, department = $5, title = $6,
			is_admin = $7, is_active = $8, updated_at = now()
		 WHERE id = $1`,
		u.ID, u.DisplayName, u.Email, u.ExternalID, u.Department, u.Title, u.IsAdmin, u.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*authcore.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM auth_users WHERE id = $1`, id)
	return notFound(scanUser(row))
}

func (s *Store) GetByUsername(ctx context.Context, username string, source authcore.AuthSource) (*authcore.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE lower(username) = lower($1) AND auth_source = $2`,
		username, string(source))
	return notFound(scanUser(row))
}

// Upsert refreshes profile fields of an existing user and leaves is_admin and is_active alone.
func (s *Store) Upsert(ctx context.Context, info credential.UserInfo) (*authcore.User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO auth_users (username, auth_source, display_name, email, external_id, department, title, is_admin)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (lower(username), auth_source) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			external_id = EXCLUDED.external_id,
			department = EXCLUDED.department,
			title = EXCLUDED.title,
			updated_at = now()
		 RETURNING `+userColumns,
		info.Username, string(info.Source), info.DisplayName, info.Email, info.ExternalID,
		info.Department, info.Title, info.IsAdmin)
	return scanUser(row)
}

func (s *Store) SetPassword(ctx context.Context, id int64, hash string) error {
	return s.execOne(ctx, `UPDATE auth_users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, `UPDATE auth_users SET last_login = $2 WHERE id = $1`, id, at)
}

func (s *Store) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*authcore.User, error) {
	var (
		u         authcore.User
		source    string
		lastLogin *time.Time
	)
	err := row.Scan(&u.ID, &u.Username, &source, &u.DisplayName, &u.Email, &u.ExternalID,
		&u.Department, &u.Title, &u.IsAdmin, &u.IsActive, &u.PasswordHash, &lastLogin,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Source = authcore.AuthSource(source)
	if lastLogin != nil {
		u.LastLogin = *lastLogin
	}
	return &u, nil
}

func notFound(u *authcore.User, err error) (*authcore.User, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authcore.ErrUserNotFound
	}
	return u, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
