package family

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRegistryTest(t *testing.T) (*Registry, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRegistry(rdb, "ac"), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestCreateAndGet(t *testing.T) {
	reg, mr, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	if err := reg.Create(ctx, Family{ID: "f1", UserID: 3, SessionID: "s1", LatestJTI: "j1"}, time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	f, err := reg.Get(ctx, "f1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if f.UserID != 3 || f.SessionID != "s1" || f.LatestJTI != "j1" {
		t.Fatalf("unexpected family: %+v", f)
	}
	if ttl := mr.TTL("ac:f:f1"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}
}

func TestRotateChain(t *testing.T) {
	reg, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	if err := reg.Create(ctx, Family{ID: "f1", UserID: 1, SessionID: "s1", LatestJTI: "t1"}, time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := reg.Rotate(ctx, "f1", "t1", "t2", now, 0)
	if err != nil || res != Rotated {
		t.Fatalf("t1->t2: res=%v err=%v", res, err)
	}

	// Replaying t1 is detected.
	res, err = reg.Rotate(ctx, "f1", "t1", "t3", now, 0)
	if err != nil || res != Mismatch {
		t.Fatalf("replay t1: res=%v err=%v", res, err)
	}

	f, err := reg.Get(ctx, "f1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if f.LatestJTI != "t2" {
		t.Fatalf("mismatch must not change latest, got %q", f.LatestJTI)
	}
}

func TestRotateMissingFamily(t *testing.T) {
	reg, _, done := newRegistryTest(t)
	defer done()

	res, err := reg.Rotate(context.Background(), "nope", "a", "b", time.Now(), 0)
	if err != nil || res != NotFound {
		t.Fatalf("expected NotFound, got res=%v err=%v", res, err)
	}
}

func TestConcurrentRotateHasSingleWinner(t *testing.T) {
	reg, _, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	if err := reg.Create(ctx, Family{ID: "f1", UserID: 1, SessionID: "s1", LatestJTI: "t1"}, time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		rotated int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := reg.Rotate(ctx, "f1", "t1", "next", time.Now(), 0)
			if err != nil {
				t.Errorf("rotate %d: %v", i, err)
				return
			}
			if res == Rotated {
				mu.Lock()
				rotated++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if rotated != 1 {
		t.Fatalf("expected exactly one winner, got %d", rotated)
	}
}

func TestRevokeAndRevokeAllForUser(t *testing.T) {
	reg, mr, done := newRegistryTest(t)
	defer done()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := reg.Create(ctx, Family{ID: id, UserID: 4, SessionID: "s-" + id, LatestJTI: "j"}, time.Hour); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	if err := reg.Revoke(ctx, "a"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := reg.Revoke(ctx, "a"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if _, err := reg.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}

	n, err := reg.RevokeAllForUser(ctx, 4)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 remaining family, got %d", n)
	}
	if mr.Exists("ac:f:b") || mr.Exists("ac:fu:4") {
		t.Fatal("families and index should be deleted")
	}
}

func TestRegistryWrapsBackendErrors(t *testing.T) {
	reg, mr, done := newRegistryTest(t)
	defer done()
	mr.Close()

	_, err := reg.Rotate(context.Background(), "f", "a", "b", time.Now(), 0)
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
