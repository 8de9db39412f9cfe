package family

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a family does not exist, was revoked, or expired.
var ErrNotFound = errors.New("token family not found")

// ErrRedisUnavailable wraps every backend failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// RotateResult is the outcome of a compare-and-set rotation.
type RotateResult int

const (
	// NotFound means the family is gone.
	NotFound RotateResult = iota
	// Rotated means the presented jti matched and the successor is now current.
	Rotated
	// Mismatch means the presented jti is not the latest: a replayed refresh token.
	Mismatch
)

func (r RotateResult) String() string {
	switch r {
	case Rotated:
		return "rotated"
	case Mismatch:
		return "mismatch"
	default:
		return "not_found"
	}
}

// Family is the decoded lineage record.
type Family struct {
	ID        string
	UserID    int64
	SessionID string
	LatestJTI string
	CreatedAt time.Time
	RotatedAt time.Time
}

const (
	fieldUser    = "uid"
	fieldSession = "sid"
	fieldLatest  = "latest"
	fieldCreated = "created"
	fieldRotated = "rotated"
)

// KEYS[1] family hash, KEYS[2] user index; ARGV: presented jti, next jti, now (unix seconds), ttl (ms).
// A ttl of 0 keeps the remaining TTL.
const rotateScript = `
local latest = redis.call("HGET", KEYS[1], "latest")
if not latest then
  return 0
end
if latest ~= ARGV[1] then
  return 2
end
redis.call("HSET", KEYS[1], "latest", ARGV[2], "rotated", ARGV[3])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var rotateLua = redis.NewScript(rotateScript)

// Registry is the Redis-backed family store.
//
// Registry is safe for concurrent use.
type Registry struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRegistry creates a [Registry] under prefix.
func NewRegistry(rdb redis.UniversalClient, prefix string) *Registry {
	return &Registry{redis: rdb, prefix: prefix}
}

func (r *Registry) key(familyID string) string {
	return r.prefix + ":f:" + familyID
}

func (r *Registry) userKey(userID int64) string {
	return r.prefix + ":fu:" + strconv.FormatInt(userID, 10)
}

// Create records a new family whose current refresh jti is latestJTI.
func (r *Registry) Create(ctx context.Context, f Family, ttl time.Duration) error {
	if f.ID == "" || f.LatestJTI == "" {
		return errors.New("family id and latest jti required")
	}
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	key := r.key(f.ID)
	userKey := r.userKey(f.UserID)

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldUser, f.UserID,
			fieldSession, f.SessionID,
			fieldLatest, f.LatestJTI,
			fieldCreated, created.Unix(),
			fieldRotated, created.Unix(),
		)
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, userKey, f.ID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the family or ErrNotFound.
func (r *Registry) Get(ctx context.Context, familyID string) (*Family, error) {
	vals, err := r.redis.HGetAll(ctx, r.key(familyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}

	uid, err := strconv.ParseInt(vals[fieldUser], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("family %s: invalid uid: %w", familyID, err)
	}
	created, _ := strconv.ParseInt(vals[fieldCreated], 10, 64)
	rotated, _ := strconv.ParseInt(vals[fieldRotated], 10, 64)

	return &Family{
		ID:        familyID,
		UserID:    uid,
		SessionID: vals[fieldSession],
		LatestJTI: vals[fieldLatest],
		CreatedAt: time.Unix(created, 0),
		RotatedAt: time.Unix(rotated, 0),
	}, nil
}

// Rotate atomically replaces presentedJTI with nextJTI when presentedJTI is the latest.
// A positive ttl restarts the family lifetime; zero keeps the remaining TTL.
func (r *Registry) Rotate(ctx context.Context, familyID, presentedJTI, nextJTI string, now time.Time, ttl time.Duration) (RotateResult, error) {
	fam, err := r.redis.HGet(ctx, r.key(familyID), fieldUser).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return NotFound, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	code, err := rotateLua.Run(ctx, r.redis,
		[]string{r.key(familyID), r.userKey(fam)},
		presentedJTI, nextJTI, now.Unix(), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return NotFound, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch code {
	case 1:
		return Rotated, nil
	case 2:
		return Mismatch, nil
	default:
		return NotFound, nil
	}
}

// Revoke deletes one family. Revoking an unknown family is not an error.
func (r *Registry) Revoke(ctx context.Context, familyID string) error {
	f, err := r.Get(ctx, familyID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(familyID))
		pipe.SRem(ctx, r.userKey(f.UserID), familyID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAllForUser deletes every family of userID and returns how many were indexed.
func (r *Registry) RevokeAllForUser(ctx context.Context, userID int64) (int, error) {
	userKey := r.userKey(userID)
	ids, err := r.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.key(id))
	}
	keys = append(keys, userKey)

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(ids), nil
}
