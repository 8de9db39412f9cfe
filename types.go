package authcore

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/credential"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// AuthSource identifies where a user's primary credentials live.
type AuthSource = credential.Source

const (
	// SourceDirectory is a corporate directory service.
	SourceDirectory = credential.SourceDirectory
	// SourceCloud is a cloud identity provider.
	SourceCloud = credential.SourceCloud
	// SourceLocal is the engine's own password store.
	SourceLocal = credential.SourceLocal
)

// ParseAuthSource normalizes a wire value and returns ErrInvalidSource for anything
// that is not one of the three sources.
func ParseAuthSource(v string) (AuthSource, error) {
	src, ok := credential.ParseSource(v)
	if !ok {
		return "", ErrInvalidSource
	}
	return src, nil
}

// AuthMode selects how credentials travel between client and server.
type AuthMode string

const (
	// ModeStateless carries tokens in the Authorization header and response body.
	ModeStateless AuthMode = "stateless"
	// ModeCookie carries tokens in httpOnly cookies and requires CSRF on state changes.
	ModeCookie AuthMode = "cookie"
)

// User is the persisted user record.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"displayName,omitempty"`
	Email        string     `json:"email,omitempty"`
	Source       AuthSource `json:"authSource"`
	ExternalID   string     `json:"externalId,omitempty"`
	Department   string     `json:"department,omitempty"`
	Title        string     `json:"title,omitempty"`
	IsAdmin      bool       `json:"isAdmin"`
	IsActive     bool       `json:"isActive"`
	PasswordHash string     `json:"-"`
	LastLogin    time.Time  `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Clone returns a copy that can be handed out without sharing the cached value.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// LoginRequest is the input of Engine.Authenticate.
type LoginRequest struct {
	Username string
	Password string
	// Source defaults to Config.Credential.DefaultSource when empty.
	Source AuthSource
	// Mode selects token delivery. Cookie mode always yields a CSRFToken.
	Mode AuthMode
}

// TokenBundle is returned by login and refresh.
type TokenBundle struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	CSRFToken    string `json:"csrfToken,omitempty"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64  `json:"expiresIn"`
	SessionID string `json:"-"`

	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// ProfileUpdate carries the mutable profile fields. Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	Email       *string `json:"email,omitempty"`
	Department  *string `json:"department,omitempty"`
	Title       *string `json:"title,omitempty"`
}

// Empty reports whether no field is set.
func (p ProfileUpdate) Empty() bool {
	return p.DisplayName == nil && p.Email == nil && p.Department == nil && p.Title == nil
}

// Apply copies the set fields onto u.
func (p ProfileUpdate) Apply(u *User) {
	if p.DisplayName != nil {
		u.DisplayName = *p.DisplayName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Department != nil {
		u.Department = *p.Department
	}
	if p.Title != nil {
		u.Title = *p.Title
	}
}

// NewLocalUser is the input of Engine.CreateLocalUser.
type NewLocalUser struct {
	Username    string
	Password    string
	DisplayName string
	Email       string
	Department  string
	Title       string
	IsAdmin     bool
}

// VerifiedToken is the outcome of a successful access token verification.
type VerifiedToken struct {
	User      *User
	SessionID string
	TokenID   string
	ExpiresAt time.Time
}

// VerifyOptions tunes VerifyAccessToken.
type VerifyOptions struct {
	// SkipBlacklist skips the jti blacklist lookup. Cookie mode sets it: a logged-out
	// cookie is cleared client-side and its session is gone anyway.
	SkipBlacklist bool
}

// UserStore persists user records. Implementations live in store/memory and store/postgres.
//
// GetByID and GetByUsername return ErrUserNotFound when no row matches. Create returns
// ErrUserExists when username+source is taken.
type UserStore interface {
	Create(ctx context.Context, u *User) (*User, error)
	Update(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string, source AuthSource) (*User, error)
	// Upsert creates the user described by info, or refreshes its mutable profile
	// fields when it exists. The admin and active flags of an existing user are kept.
	Upsert(ctx context.Context, info credential.UserInfo) (*User, error)
	SetPassword(ctx context.Context, id int64, hash string) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	Ping(ctx context.Context) error
}

// AuditEvent is the structured audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events.
type AuditSink = internalaudit.Sink

// NoOpAuditSink drops audit events.
type NoOpAuditSink = internalaudit.NoOpSink

// ChannelAuditSink writes audit events into a buffered channel.
type ChannelAuditSink = internalaudit.ChannelSink

// JSONWriterAuditSink writes one JSON document per line.
type JSONWriterAuditSink = internalaudit.JSONWriterSink

// SlogAuditSink writes audit events as structured log records.
type SlogAuditSink = internalaudit.SlogSink

// NewChannelAuditSink returns a ChannelAuditSink with the given buffer.
func NewChannelAuditSink(buffer int) *ChannelAuditSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterAuditSink returns a sink writing JSON lines to w.
func NewJSONWriterAuditSink(w io.Writer) *JSONWriterAuditSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogAuditSink returns a sink that logs through logger.
func NewSlogAuditSink(logger *slog.Logger) *SlogAuditSink {
	return internalaudit.NewSlogSink(logger)
}
