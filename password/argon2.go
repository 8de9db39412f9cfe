package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// DefaultMaxPasswordBytes caps input size so a huge password cannot be used to burn CPU.
	DefaultMaxPasswordBytes = 1024

	minPasswordBytes = 10
	argon2Prefix     = "$argon2id$"
)

var (
	ErrTooShort      = errors.New("password must be at least 10 bytes")
	ErrTooLong       = errors.New("password exceeds maximum length")
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config holds argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// DefaultConfig returns parameters suitable for interactive logins.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// floor is the weakest configuration accepted for hashing and for stored hashes.
var floor = Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}

func (c Config) validate() error {
	switch {
	case c.Memory < floor.Memory:
		return fmt.Errorf("argon2 memory %d KiB is below %d KiB", c.Memory, floor.Memory)
	case c.Time < floor.Time:
		return errors.New("argon2 time cost must be at least 1")
	case c.Parallelism < floor.Parallelism:
		return errors.New("argon2 parallelism must be at least 1")
	case c.SaltLength < floor.SaltLength:
		return fmt.Errorf("argon2 salt of %d bytes is shorter than %d", c.SaltLength, floor.SaltLength)
	case c.KeyLength < floor.KeyLength:
		return fmt.Errorf("argon2 key of %d bytes is shorter than %d", c.KeyLength, floor.KeyLength)
	case c.MaxPasswordBytes < minPasswordBytes:
		return fmt.Errorf("max password bytes must be at least %d", minPasswordBytes)
	}
	return nil
}

// Hasher produces and checks encoded password hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Argon2 hashes passwords with argon2id and encodes them as PHC strings.
// It is safe for concurrent use.
type Argon2 struct {
	cfg Config
}

var _ Hasher = (*Argon2)(nil)

func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

// Hash derives a fresh argon2id key for password. The raw bytes are hashed as given,
// with no Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	switch {
	case len(password) < minPasswordBytes:
		return "", ErrTooShort
	case len(password) > a.cfg.MaxPasswordBytes:
		return "", ErrTooLong
	}

	p := phc{
		memory:      a.cfg.Memory,
		time:        a.cfg.Time,
		parallelism: a.cfg.Parallelism,
		salt:        make([]byte, a.cfg.SaltLength),
	}
	if _, err := rand.Read(p.salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	p.key = p.derive(password, a.cfg.KeyLength)
	return p.String(), nil
}

// Verify compares password against an argon2id PHC string in constant time.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if len(password) > a.cfg.MaxPasswordBytes {
		return false, ErrTooLong
	}
	return verifyArgon2(password, encodedHash)
}

// NeedsUpgrade reports whether encodedHash is weaker than the current parameters,
// has a different key length, or is not argon2id at all.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	if isBcrypt(encodedHash) {
		return true, nil
	}
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return p.memory < a.cfg.Memory ||
		p.time < a.cfg.Time ||
		p.parallelism < a.cfg.Parallelism ||
		uint32(len(p.key)) != a.cfg.KeyLength, nil
}

func verifyArgon2(password, encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	got := p.derive(password, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(got, p.key) == 1, nil
}

// phc is a decoded "$argon2id$v=19$m=<kib>,t=<passes>,p=<lanes>$<salt>$<key>" string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

var b64 = base64.StdEncoding

func (p phc) derive(password string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, keyLen)
}

func (p phc) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version, p.memory, p.time, p.parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func malformed(what string) error {
	return fmt.Errorf("%w: %s", ErrMalformedHash, what)
}

func parsePHC(s string) (phc, error) {
	var p phc
	rest, ok := strings.CutPrefix(s, argon2Prefix)
	if !ok {
		return p, malformed("not an argon2id hash")
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return p, malformed("expected version, params, salt and key")
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil {
		return p, malformed("bad version")
	}
	if version != argon2.Version {
		return p, malformed(fmt.Sprintf("unsupported version %d", version))
	}

	var n int
	if n, _ = fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); n != 3 ||
		fields[1] != fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.time, p.parallelism) {
		return p, malformed("bad parameters")
	}
	if p.memory < floor.Memory || p.time < floor.Time || p.parallelism < floor.Parallelism {
		return p, malformed("parameters below minimum")
	}

	var err error
	if p.salt, err = b64.DecodeString(fields[2]); err != nil || uint32(len(p.salt)) < floor.SaltLength {
		return p, malformed("bad salt")
	}
	if p.key, err = b64.DecodeString(fields[3]); err != nil || len(p.key) == 0 {
		return p, malformed("bad key")
	}
	return p, nil
}
