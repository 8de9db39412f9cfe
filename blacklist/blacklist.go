// Package blacklist records revoked access-token ids in Redis until the token would have
// expired anyway.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every backend failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

const minEntryTTL = time.Second

// List is the Redis-backed jti blacklist.
type List struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a [List] under prefix.
func New(rdb redis.UniversalClient, prefix string) *List {
	return &List{redis: rdb, prefix: prefix, now: time.Now}
}

func (l *List) key(jti string) string {
	return l.prefix + ":bl:" + jti
}

// Add blacklists jti until expiresAt. Entries always live at least one second so a
// token expiring this instant is still rejected.
func (l *List) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("jti required")
	}
	ttl := expiresAt.Sub(l.now())
	if ttl < minEntryTTL {
		ttl = minEntryTTL
	}
	if err := l.redis.Set(ctx, l.key(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Contains reports whether jti is blacklisted. On backend failure it returns an error,
// and callers must treat the token as revoked.
func (l *List) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := l.redis.Exists(ctx, l.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}
