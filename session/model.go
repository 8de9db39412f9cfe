package session

// Session is the server-side record backing a login. Its lifetime matches the refresh
// token issued with it.
type Session struct {
	SessionID  string
	UserID     int64
	Username   string
	AuthSource string
	IsAdmin    bool
	FamilyID   string
	IP         string
	UserAgent  string

	CreatedAt int64
	ExpiresAt int64
}

// Expired reports whether the session is past its absolute expiry at unix time now.
func (s *Session) Expired(now int64) bool {
	return s.ExpiresAt > 0 && s.ExpiresAt <= now
}
