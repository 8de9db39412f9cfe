// Package credstore keeps third-party credentials (for example OAuth refresh tokens) that
// the application holds on behalf of a user, encrypted at rest.
//
// Encryption is injected through [Cipher]; [XChaChaCipher] is the stock implementation.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every backend failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store holds one encrypted payload per user.
type Store interface {
	Put(ctx context.Context, userID int64, payload []byte) error
	// Get returns nil, nil when nothing is stored for userID.
	Get(ctx context.Context, userID int64) ([]byte, error)
	Delete(ctx context.Context, userID int64) error
}

// RedisStore persists ciphertext under <prefix>:cred:<uid>. Payloads do not expire.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	cipher Cipher
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a Redis-backed Store.
func NewRedisStore(rdb redis.UniversalClient, prefix string, c Cipher) *RedisStore {
	return &RedisStore{redis: rdb, prefix: prefix, cipher: c}
}

func (s *RedisStore) key(userID int64) string {
	return s.prefix + ":cred:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) Put(ctx context.Context, userID int64, payload []byte) error {
	key := s.key(userID)
	sealed, err := s.cipher.Seal(payload, []byte(key))
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	if err := s.redis.Set(ctx, key, sealed, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID int64) ([]byte, error) {
	key := s.key(userID)
	sealed, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.cipher.Open(sealed, []byte(key))
}

// Delete is idempotent.
func (s *RedisStore) Delete(ctx context.Context, userID int64) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
