package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm for both token kinds.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret (the default).
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrExpired is returned for a well-formed, correctly signed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid covers every other parse or verification failure.
	ErrInvalid = errors.New("token invalid")
)

// KeyPair holds the signing material for one token kind. For HS256 only Private is used
// and holds the shared secret. For Ed25519 Private may be empty on verify-only nodes.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// Config configures a Manager.
//
// Access and refresh tokens are signed with separate keys so a leaked access secret
// cannot mint refresh tokens.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	AccessKeys    KeyPair
	RefreshKeys   KeyPair
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Manager issues and parses access and refresh JWTs.
//
// Manager instances are immutable after NewManager and safe for concurrent use.
type Manager struct {
	config Config
	method jwt.SigningMethod
}

// AccessClaims is the payload of a short-lived access token.
type AccessClaims struct {
	UID        int64  `json:"uid"`
	Username   string `json:"usr"`
	AuthSource string `json:"src"`
	IsAdmin    bool   `json:"adm,omitempty"`
	SID        string `json:"sid"`
	Type       string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	UID      int64  `json:"uid"`
	SID      string `json:"sid"`
	FamilyID string `json:"fid"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// AccessSubject is the identity an access token is minted for.
type AccessSubject struct {
	UserID     int64
	Username   string
	AuthSource string
	IsAdmin    bool
	SessionID  string
}

// RefreshSubject is the lineage a refresh token is minted for.
type RefreshSubject struct {
	UserID    int64
	SessionID string
	FamilyID  string
}

// Issued is a freshly signed token and its unique id.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}

	m := &Manager{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		m.method = jwt.SigningMethodHS256
		if len(cfg.AccessKeys.Private) == 0 || len(cfg.RefreshKeys.Private) == 0 {
			return nil, errors.New("hs256 requires access and refresh secrets")
		}
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		for name, kp := range map[string]KeyPair{"access": cfg.AccessKeys, "refresh": cfg.RefreshKeys} {
			if len(kp.Private) > 0 {
				if _, err := parseEdPrivateKey(kp.Private); err != nil {
					return nil, fmt.Errorf("%s key: %w", name, err)
				}
			}
			if len(kp.Public) == 0 {
				return nil, fmt.Errorf("ed25519 requires %s public key", name)
			}
			if _, err := parseEdPublicKey(kp.Public); err != nil {
				return nil, fmt.Errorf("%s key: %w", name, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// IssueAccess signs an access token for sub with a fresh jti.
func (j *Manager) IssueAccess(sub AccessSubject) (Issued, error) {
	now := j.config.Now()
	jti := uuid.NewString()
	exp := now.Add(j.config.AccessTTL)

	claims := AccessClaims{
		UID:              sub.UserID,
		Username:         sub.Username,
		AuthSource:       sub.AuthSource,
		IsAdmin:          sub.IsAdmin,
		SID:              sub.SessionID,
		Type:             typeAccess,
		RegisteredClaims: j.registered(jti, now, exp),
	}
	token, err := j.sign(claims, j.config.AccessKeys)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, JTI: jti, ExpiresAt: exp}, nil
}

// IssueRefresh signs a refresh token for sub with a fresh jti.
func (j *Manager) IssueRefresh(sub RefreshSubject) (Issued, error) {
	now := j.config.Now()
	jti := uuid.NewString()
	exp := now.Add(j.config.RefreshTTL)

	claims := RefreshClaims{
		UID:              sub.UserID,
		SID:              sub.SessionID,
		FamilyID:         sub.FamilyID,
		Type:             typeRefresh,
		RegisteredClaims: j.registered(jti, now, exp),
	}
	token, err := j.sign(claims, j.config.RefreshKeys)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, JTI: jti, ExpiresAt: exp}, nil
}

// ParseAccess verifies tokenStr as an access token. Errors wrap ErrExpired or ErrInvalid.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims, j.config.AccessKeys); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess || claims.SID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: not an access token", ErrInvalid)
	}
	return claims, nil
}

// ParseExpiredAccess verifies the signature, algorithm, kid, issuer, audience and type
// of an access token but accepts it past its expiry. It exists for logout, where an expired
// access token still names the session to end. Never use it to authorize a request.
func (j *Manager) ParseExpiredAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := j.verify(tokenStr, claims, j.config.AccessKeys, jwt.WithoutClaimsValidation()); err != nil {
		return nil, err
	}
	if j.config.Issuer != "" && claims.Issuer != j.config.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalid)
	}
	if j.config.Audience != "" && !slices.Contains(claims.Audience, j.config.Audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalid)
	}
	if claims.Type != typeAccess || claims.SID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: not an access token", ErrInvalid)
	}
	return claims, nil
}

// ParseRefresh verifies tokenStr as a refresh token. Errors wrap ErrExpired or ErrInvalid.
func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims, j.config.RefreshKeys); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh || claims.FamilyID == "" || claims.SID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalid)
	}
	return claims, nil
}

func (j *Manager) registered(jti string, now, exp time.Time) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		ID:        jti,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    j.config.Issuer,
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

func (j *Manager) sign(claims jwt.Claims, keys KeyPair) (string, error) {
	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	signKey, err := j.signKey(keys)
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

func (j *Manager) parse(tokenStr string, claims jwt.Claims, keys KeyPair) error {
	options := []jwt.ParserOption{
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	if err := j.verify(tokenStr, claims, keys, options...); err != nil {
		return err
	}

	iat, _ := claims.GetIssuedAt()
	if iat != nil && iat.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return fmt.Errorf("%w: token iat too far in the future", ErrInvalid)
	}
	return nil
}

// verify checks the signature with keys and applies the parser options.
func (j *Manager) verify(tokenStr string, claims jwt.Claims, keys KeyPair, options ...jwt.ParserOption) error {
	if tokenStr == "" {
		return fmt.Errorf("%w: empty token", ErrInvalid)
	}
	options = append(options, jwt.WithValidMethods([]string{j.method.Alg()}))
	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return j.verifyKey(keys)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid {
		return ErrInvalid
	}
	return nil
}

func (j *Manager) signKey(keys KeyPair) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return keys.Private, nil
	default:
		if len(keys.Private) == 0 {
			return nil, errors.New("ed25519 signing key not configured")
		}
		return parseEdPrivateKey(keys.Private)
	}
}

func (j *Manager) verifyKey(keys KeyPair) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return keys.Private, nil
	default:
		return parseEdPublicKey(keys.Public)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
