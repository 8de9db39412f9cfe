package lockout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] hash; ARGV: counted, kind, now_ms, window_ms, threshold, lock_ms, locked_until_ms.
const recordFailureScript = `
local key = KEYS[1]
local now = tonumber(ARGV[3])
local locked_until = tonumber(redis.call("HGET", key, "locked_until") or "0")
if locked_until > now then
  return {tonumber(redis.call("HGET", key, "failed") or "0"), locked_until}
end
redis.call("HSET", key, "last_kind", ARGV[2])
if tonumber(ARGV[1]) == 0 then
  redis.call("HINCRBY", key, "service_errors", 1)
  if redis.call("PTTL", key) < 0 then
    redis.call("PEXPIRE", key, ARGV[4])
  end
  return {tonumber(redis.call("HGET", key, "failed") or "0"), 0}
end
local failed = redis.call("HINCRBY", key, "failed", 1)
if failed == 1 then
  redis.call("PEXPIRE", key, ARGV[4])
end
local threshold = tonumber(ARGV[5])
if threshold > 0 and failed >= threshold then
  redis.call("HSET", key, "locked_until", ARGV[7])
  redis.call("PEXPIRE", key, ARGV[6])
  return {failed, tonumber(ARGV[7])}
end
return {failed, 0}
`

var recordFailureLua = redis.NewScript(recordFailureScript)

// RedisTracker stores lockout state in one Redis hash per (username, ip).
type RedisTracker struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

var _ Tracker = (*RedisTracker)(nil)

// NewRedisTracker creates a Redis-backed [Tracker].
func NewRedisTracker(rdb redis.UniversalClient, prefix string, cfg Config) *RedisTracker {
	return &RedisTracker{redis: rdb, prefix: prefix, config: cfg.withDefaults()}
}

func (t *RedisTracker) key(username, ip string) string {
	return t.prefix + ":lo:" + subjectKey(username, ip)
}

// Status reads the current state without mutating it.
func (t *RedisTracker) Status(ctx context.Context, username, ip string) (Status, error) {
	vals, err := t.redis.HMGet(ctx, t.key(username, ip), "failed", "locked_until").Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	failed := hashInt(vals[0])
	lockedUntil := hashInt(vals[1])

	var until time.Time
	if lockedUntil > 0 {
		until = time.UnixMilli(int64(lockedUntil))
	}
	return t.config.status(failed, until, t.config.Now()), nil
}

// RecordFailure counts a failed attempt and locks the pair at the threshold.
func (t *RedisTracker) RecordFailure(ctx context.Context, a Attempt) (Status, error) {
	now := t.config.Now()
	counted := 0
	if t.config.counts(a.Kind) {
		counted = 1
	}
	lockedUntil := now.Add(t.config.Duration)

	res, err := recordFailureLua.Run(ctx, t.redis,
		[]string{t.key(a.Username, a.IP)},
		counted,
		string(a.Kind),
		now.UnixMilli(),
		t.config.Window.Milliseconds(),
		t.config.Threshold,
		t.config.Duration.Milliseconds(),
		strconv.FormatInt(lockedUntil.UnixMilli(), 10),
	).Int64Slice()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return Status{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	var until time.Time
	if res[1] > 0 {
		until = time.UnixMilli(res[1])
	}
	return t.config.status(int(res[0]), until, now), nil
}

// Clear removes all state for the pair.
func (t *RedisTracker) Clear(ctx context.Context, username, ip string) error {
	if err := t.redis.Del(ctx, t.key(username, ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func hashInt(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return int(n)
}
