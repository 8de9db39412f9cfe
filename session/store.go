package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps every backend failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is a Redis-backed session store with a per-user index set.
//
// Store is safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{redis: rdb, prefix: prefix, now: time.Now}
}

// WithClock sets the clock used to check the stored expiry. It returns s.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKey(userID int64) string {
	return s.prefix + ":u:" + strconv.FormatInt(userID, 10)
}

// Save persists sess with the given TTL and indexes it under its user.
//
//	Performance: 1 MULTI/EXEC round trip (SET + SADD + EXPIRE).
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess.SessionID == "" {
		return errors.New("session id required")
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	userKey := s.userKey(sess.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		// Every session shares the refresh TTL, so the newest save bounds the index.
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Extend rewrites an existing session with a new TTL. It never recreates a session that
// was deleted concurrently and reports whether the session was still present.
func (s *Store) Extend(ctx context.Context, sess *Session, ttl time.Duration) (bool, error) {
	data, err := Encode(sess)
	if err != nil {
		return false, err
	}

	var updated *redis.BoolCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		updated = pipe.SetXX(ctx, s.key(sess.SessionID), data, ttl)
		pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return updated.Val(), nil
}

// Get returns the session or ErrNotFound. An expired record found before Redis evicts
// it is removed and reported as not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	sess.SessionID = sessionID

	if sess.Expired(s.now().Unix()) {
		if _, err := s.deleteWithIndex(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return sess, nil
}

// Exists reports whether the session key is present.
//
//	Performance: 1 Redis EXISTS.
func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Delete removes a session and its index entry. It reports whether the session existed;
// deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		// Unreadable record: drop the key, the stale index entry expires with the set.
		if delErr := s.redis.Del(ctx, s.key(sessionID)).Err(); delErr != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return true, nil
	}
	return s.deleteWithIndex(ctx, sess.UserID, sessionID)
}

func (s *Store) deleteWithIndex(ctx context.Context, userID int64, sessionID string) (bool, error) {
	existed, err := deleteSessionLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.userKey(userID)},
		sessionID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// ListForUser returns the live sessions of userID. Index entries whose session has
// already expired are pruned.
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]*Session, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := s.now().Unix()
	out := make([]*Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := Decode(data)
		if err != nil || sess.Expired(now) {
			stale = append(stale, ids[i])
			continue
		}
		sess.SessionID = ids[i]
		out = append(out, sess)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return out, nil
}

// DeleteAllForUser removes every session of userID along with the index, and returns
// the ids that were indexed.
//
// ATOMICITY NOTE: the index is read before the MULTI/EXEC delete. A session saved in
// between survives this call; the engine revokes the user's token families in the same
// operation, so such a session cannot be refreshed.
func (s *Store) DeleteAllForUser(ctx context.Context, userID int64) ([]string, error) {
	userKey := s.userKey(userID)

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, userKey)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
