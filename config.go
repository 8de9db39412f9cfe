package authcore

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
//
// Config values are built from defaults, optionally overlaid by LoadConfig, and treated as
// immutable once passed to the Builder.
type Config struct {
	JWT        JWTConfig        `yaml:"jwt"`
	Session    SessionConfig    `yaml:"session"`
	Cache      CacheConfig      `yaml:"cache"`
	Lockout    LockoutConfig    `yaml:"lockout"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Cookie     CookieConfig     `yaml:"cookie"`
	Credential CredentialConfig `yaml:"credential"`
	Password   PasswordConfig   `yaml:"password"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Security   SecurityConfig   `yaml:"security"`
	Server     ServerConfig     `yaml:"server"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing. HS256 uses two distinct secrets; Ed25519 uses
// one PEM key pair for both token kinds.
type JWTConfig struct {
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	SigningMethod string        `yaml:"signing_method"` // "hs256" (default) or "ed25519"
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	PrivateKey    string        `yaml:"private_key"`
	PublicKey     string        `yaml:"public_key"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	Leeway        time.Duration `yaml:"leeway"`
	KeyID         string        `yaml:"key_id"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the Redis namespace shared by sessions, families,
// the blacklist, lockout and stored credentials.
type SessionConfig struct {
	RedisPrefix string `yaml:"redis_prefix"`
}

// CacheConfig configures the in-process user cache.
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxSize       int           `yaml:"max_size"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// LockoutConfig configures failed-login lockout per username and client IP.
type LockoutConfig struct {
	// Threshold of counted failures inside Window. Zero disables lockout.
	Threshold          int           `yaml:"threshold"`
	Window             time.Duration `yaml:"window"`
	Duration           time.Duration `yaml:"duration"`
	CountServiceErrors bool          `yaml:"count_service_errors"`
	// Backend is "redis" (default) or "memory".
	Backend string `yaml:"backend"`
}

// RateLimitConfig configures the per-user route limiter and the per-IP login throttle.
type RateLimitConfig struct {
	Window        time.Duration `yaml:"window"`
	Max           int           `yaml:"max"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxKeys       int           `yaml:"max_keys"`
	// LoginRate is the sustained per-IP login rate in requests per second. Zero disables the throttle.
	LoginRate  float64 `yaml:"login_rate"`
	LoginBurst int     `yaml:"login_burst"`
}

// CookieConfig configures cookie mode.
type CookieConfig struct {
	Domain       string `yaml:"domain"`
	Secure       bool   `yaml:"secure"`
	SameSite     string `yaml:"same_site"` // "strict", "lax" or "none"
	RefreshPath  string `yaml:"refresh_path"`
	CSRFHTTPOnly bool   `yaml:"csrf_http_only"`
}

// SecurityConfig holds the deployment profile.
type SecurityConfig struct {
	// Profile is "dev", "test" or "production". Anything but dev and test validates strictly.
	Profile string `yaml:"profile"`
}

// Strict reports whether the profile requires production-grade settings.
func (s SecurityConfig) Strict() bool {
	return s.Profile != ProfileDev && s.Profile != ProfileTest
}

const (
	ProfileDev        = "dev"
	ProfileTest       = "test"
	ProfileProduction = "production"
)

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig configures the credential sources.
type CredentialConfig struct {
	DefaultSource string             `yaml:"default_source"`
	Timeout       time.Duration      `yaml:"timeout"`
	Directory     RemoteSourceConfig `yaml:"directory"`
	Cloud         RemoteSourceConfig `yaml:"cloud"`
}

// RemoteSourceConfig points at an identity bridge. An empty URL leaves the source unconfigured.
type RemoteSourceConfig struct {
	URL         string `yaml:"url"`
	BearerToken string `yaml:"bearer_token"`
}

// PasswordConfig holds argon2id parameters for local accounts.
type PasswordConfig struct {
	Memory         uint32 `yaml:"memory_kb"`
	Time           uint32 `yaml:"time"`
	Parallelism    uint8  `yaml:"parallelism"`
	SaltLength     uint32 `yaml:"salt_length"`
	KeyLength      uint32 `yaml:"key_length"`
	UpgradeOnLogin bool   `yaml:"upgrade_on_login"`
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`

	// SinkTimeout bounds one sink delivery.
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"latency_histograms"`
}

// ServerConfig is only read by cmd/authcore.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
	// CredentialKey is the hex-encoded 32-byte key of the encrypted credential store.
	CredentialKey string `yaml:"credential_key"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the defaults every other source overlays.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			RedisPrefix: "ac",
		},
		Cache: CacheConfig{
			TTL:           60 * time.Second,
			MaxSize:       1000,
			SweepInterval: 30 * time.Second,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
			Duration:  15 * time.Minute,
			Backend:   "redis",
		},
		RateLimit: RateLimitConfig{
			Window:        time.Minute,
			Max:           100,
			SweepInterval: time.Minute,
			MaxKeys:       100_000,
			LoginRate:     5,
			LoginBurst:    10,
		},
		Cookie: CookieConfig{
			Secure:      true,
			SameSite:    "strict",
			RefreshPath: "/auth/refresh",
		},
		Credential: CredentialConfig{
			DefaultSource: string(SourceLocal),
			Timeout:       5 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			Profile: ProfileProduction,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

func cloneConfig(cfg Config) Config {
	// Every field is a value type or an immutable string.
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

const minSecretBytes = 32

// Validate checks cfg. Outside the dev and test profiles it also requires production-grade
// secrets and secure cookies.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than RefreshTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
			return errors.New("hs256 requires AccessSecret and RefreshSecret")
		}
		if c.Security.Strict() {
			if len(c.JWT.AccessSecret) < minSecretBytes || len(c.JWT.RefreshSecret) < minSecretBytes {
				return fmt.Errorf("JWT secrets must be at least %d bytes", minSecretBytes)
			}
			if c.JWT.AccessSecret == c.JWT.RefreshSecret {
				return errors.New("JWT AccessSecret and RefreshSecret must differ")
			}
		}
	case "ed25519":
		if c.JWT.PrivateKey == "" || c.JWT.PublicKey == "" {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Session and cache
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("Cache TTL must be > 0")
	}
	if c.Cache.MaxSize <= 0 {
		return errors.New("Cache MaxSize must be > 0")
	}
	if c.Cache.SweepInterval <= 0 {
		return errors.New("Cache SweepInterval must be > 0")
	}

	// Lockout
	if c.Lockout.Threshold < 0 {
		return errors.New("Lockout Threshold must be >= 0")
	}
	if c.Lockout.Threshold > 0 && (c.Lockout.Window <= 0 || c.Lockout.Duration <= 0) {
		return errors.New("Lockout Window and Duration must be > 0")
	}
	if c.Lockout.Backend != "redis" && c.Lockout.Backend != "memory" {
		return errors.New("Lockout Backend must be 'redis' or 'memory'")
	}

	// Rate limits
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if c.RateLimit.Max <= 0 {
		return errors.New("RateLimit Max must be > 0")
	}
	if c.RateLimit.SweepInterval <= 0 {
		return errors.New("RateLimit SweepInterval must be > 0")
	}
	if c.RateLimit.LoginRate < 0 || (c.RateLimit.LoginRate > 0 && c.RateLimit.LoginBurst <= 0) {
		return errors.New("RateLimit LoginBurst must be > 0 when LoginRate is set")
	}

	// Cookie
	if !strings.HasPrefix(c.Cookie.RefreshPath, "/") {
		return errors.New("Cookie RefreshPath must start with '/'")
	}
	switch c.Cookie.SameSite {
	case "strict", "lax":
	case "none":
		if !c.Cookie.Secure {
			return errors.New("Cookie SameSite=none requires Secure")
		}
	default:
		return errors.New("Cookie SameSite must be 'strict', 'lax' or 'none'")
	}
	if c.Security.Strict() && !c.Cookie.Secure {
		return errors.New("Cookie Secure is required outside dev and test profiles")
	}

	// Credential sources
	if _, err := ParseAuthSource(c.Credential.DefaultSource); err != nil {
		return errors.New("Credential DefaultSource must be 'directory', 'cloud' or 'local'")
	}
	if c.Credential.Timeout <= 0 {
		return errors.New("Credential Timeout must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	switch c.Security.Profile {
	case ProfileDev, ProfileTest, ProfileProduction:
	default:
		return errors.New("Security Profile must be 'dev', 'test' or 'production'")
	}
	return nil
}

/*
====================================
LOADING
====================================
*/

// LoadConfig resolves defaults, then the YAML file at path (a missing file is not an
// error), then AUTHCORE_* environment overrides, and validates the result.
func LoadConfig(path string) (Config, error) {
	return loadConfig(path, os.LookupEnv)
}

func loadConfig(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
		return nil
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}

	str("AUTHCORE_ACCESS_SECRET", &cfg.JWT.AccessSecret)
	str("AUTHCORE_REFRESH_SECRET", &cfg.JWT.RefreshSecret)
	str("AUTHCORE_PROFILE", &cfg.Security.Profile)
	str("AUTHCORE_REDIS_URL", &cfg.Server.RedisURL)
	str("AUTHCORE_DATABASE_URL", &cfg.Server.DatabaseURL)
	str("AUTHCORE_HTTP_ADDR", &cfg.Server.Addr)
	str("AUTHCORE_CREDENTIAL_KEY", &cfg.Server.CredentialKey)

	for _, d := range []struct {
		name string
		dst  *time.Duration
	}{
		{"AUTHCORE_ACCESS_TTL", &cfg.JWT.AccessTTL},
		{"AUTHCORE_REFRESH_TTL", &cfg.JWT.RefreshTTL},
		{"AUTHCORE_CACHE_TTL", &cfg.Cache.TTL},
		{"AUTHCORE_RATE_WINDOW", &cfg.RateLimit.Window},
	} {
		if err := dur(d.name, d.dst); err != nil {
			return err
		}
	}
	if err := num("AUTHCORE_CACHE_MAX", &cfg.Cache.MaxSize); err != nil {
		return err
	}
	return num("AUTHCORE_RATE_MAX", &cfg.RateLimit.Max)
}
