package authcore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/blacklist"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/credstore"
	"github.com/MrEthical07/authcore/family"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/usercache"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users       UserStore
	verifiers   []credential.Verifier
	lockout     lockout.Tracker
	auditSink   AuditSink
	logger      *slog.Logger
	credentials credstore.Store
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions, token families, the blacklist and,
// unless overridden, lockout counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the persistent user store. Required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithVerifier registers a credential verifier. Directory and cloud verifiers are wrapped
// with the configured timeout. A verifier for a source replaces the one built from config.
func (b *Builder) WithVerifier(v credential.Verifier) *Builder {
	b.verifiers = append(b.verifiers, v)
	return b
}

// WithLockout overrides the lockout tracker selected by Config.Lockout.Backend.
func (b *Builder) WithLockout(t lockout.Tracker) *Builder {
	b.lockout = t
	return b
}

// WithAuditSink sets the audit destination. It only takes effect with Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the operational logger. The default discards.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithCredentialStore attaches the encrypted store of third-party credentials.
func (b *Builder) WithCredentialStore(store credstore.Store) *Builder {
	b.credentials = store
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithClock replaces time.Now for token issuance, session timestamps, lockout windows and
// the user cache. Intended for tests and simulations.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// -------- PASSWORDS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jcfg := jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	}
	if cfg.JWT.SigningMethod == string(jwt.MethodEd25519) {
		kp := jwt.KeyPair{Private: []byte(cfg.JWT.PrivateKey), Public: []byte(cfg.JWT.PublicKey)}
		jcfg.AccessKeys, jcfg.RefreshKeys = kp, kp
	} else {
		jcfg.AccessKeys = jwt.KeyPair{Private: []byte(cfg.JWT.AccessSecret)}
		jcfg.RefreshKeys = jwt.KeyPair{Private: []byte(cfg.JWT.RefreshSecret)}
	}
	jm, err := jwt.NewManager(jcfg)
	if err != nil {
		return nil, err
	}

	prefix := cfg.Session.RedisPrefix

	engine := &Engine{
		config:       cfg,
		logger:       logger,
		redis:        b.redis,
		users:        b.users,
		jwtManager:   jm,
		passwordHash: ph,
		sessions:     session.NewStore(b.redis, prefix).WithClock(now),
		families:     family.NewRegistry(b.redis, prefix),
		blacklist:    blacklist.New(b.redis, prefix),
		cache: usercache.New[*User](usercache.Config{
			TTL:     cfg.Cache.TTL,
			MaxSize: cfg.Cache.MaxSize,
			Now:     now,
		}),
		credentials: b.credentials,
		metrics:     NewMetrics(cfg.Metrics),
		now:         now,
	}

	// -------- LOCKOUT --------
	engine.lockout = b.lockout
	if engine.lockout == nil {
		lcfg := lockout.Config{
			Threshold:          cfg.Lockout.Threshold,
			Window:             cfg.Lockout.Window,
			Duration:           cfg.Lockout.Duration,
			CountServiceErrors: cfg.Lockout.CountServiceErrors,
			Now:                now,
		}
		if cfg.Lockout.Backend == "memory" {
			engine.lockout = lockout.NewMemoryTracker(lcfg)
		} else {
			engine.lockout = lockout.NewRedisTracker(b.redis, prefix, lcfg)
		}
	}

	// -------- CREDENTIAL SOURCES --------
	verifiers := []credential.Verifier{credential.NewLocal(credential.LocalAccountsFunc(engine.lookupLocal), ph)}
	for _, remote := range []struct {
		source credential.Source
		cfg    RemoteSourceConfig
	}{
		{SourceDirectory, cfg.Credential.Directory},
		{SourceCloud, cfg.Credential.Cloud},
	} {
		if remote.cfg.URL == "" {
			continue
		}
		v, err := credential.NewHTTPVerifier(credential.HTTPConfig{
			Source:      remote.source,
			BaseURL:     remote.cfg.URL,
			BearerToken: remote.cfg.BearerToken,
		})
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, v)
	}
	verifiers = append(verifiers, b.verifiers...)
	for i, v := range verifiers {
		if v == nil {
			return nil, fmt.Errorf("verifier %d is nil", i)
		}
		if v.Source() != SourceLocal {
			verifiers[i] = credential.WithTimeout(v, cfg.Credential.Timeout)
		}
	}
	engine.verifiers = credential.NewSet(verifiers...)
	if _, ok := engine.verifiers.Lookup(AuthSource(cfg.Credential.DefaultSource)); !ok {
		return nil, fmt.Errorf("default source %q has no verifier", cfg.Credential.DefaultSource)
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NewSlogSink(logger)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	engine.stop = cancel
	go engine.cache.Run(ctx, cfg.Cache.SweepInterval)

	b.built = true

	return engine, nil
}
