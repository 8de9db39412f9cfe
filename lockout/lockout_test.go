package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type trackerHarness struct {
	tracker Tracker
	clock   *testClock
	advance func(time.Duration)
}

func harnesses(t *testing.T, cfg Config) map[string]trackerHarness {
	t.Helper()

	memClock := &testClock{now: time.Unix(1700000000, 0)}
	memCfg := cfg
	memCfg.Now = memClock.Now

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	redisClock := &testClock{now: time.Unix(1700000000, 0)}
	redisCfg := cfg
	redisCfg.Now = redisClock.Now

	return map[string]trackerHarness{
		"memory": {
			tracker: NewMemoryTracker(memCfg),
			clock:   memClock,
			advance: memClock.Advance,
		},
		"redis": {
			tracker: NewRedisTracker(rdb, "ac", redisCfg),
			clock:   redisClock,
			advance: func(d time.Duration) {
				redisClock.Advance(d)
				mr.FastForward(d)
			},
		},
	}
}

func TestLockAfterThreshold(t *testing.T) {
	cfg := Config{Threshold: 3, Window: 15 * time.Minute, Duration: 10 * time.Minute}
	for name, h := range harnesses(t, cfg) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := Attempt{Username: "Alice", IP: "1.2.3.4", Kind: KindInvalidCredentials}

			for i := 1; i <= 2; i++ {
				st, err := h.tracker.RecordFailure(ctx, a)
				if err != nil {
					t.Fatalf("record %d: %v", i, err)
				}
				if st.Locked || st.RemainingAttempts != 3-i {
					t.Fatalf("after %d failures: %+v", i, st)
				}
			}

			st, err := h.tracker.RecordFailure(ctx, a)
			if err != nil {
				t.Fatalf("record 3: %v", err)
			}
			if !st.Locked || st.Reason != ReasonTooManyFailures {
				t.Fatalf("expected lock at threshold, got %+v", st)
			}

			// Username match is case-insensitive.
			st, err = h.tracker.Status(ctx, "alice", "1.2.3.4")
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if !st.Locked {
				t.Fatalf("expected locked status, got %+v", st)
			}
			if got := st.RetryAfter(h.clock.Now()); got != 10*time.Minute {
				t.Fatalf("expected 10m retry-after, got %v", got)
			}

			// Other IPs are unaffected.
			st, err = h.tracker.Status(ctx, "alice", "5.6.7.8")
			if err != nil || st.Locked {
				t.Fatalf("other ip should be unlocked: %+v err=%v", st, err)
			}

			h.advance(10*time.Minute + time.Second)
			st, err = h.tracker.Status(ctx, "alice", "1.2.3.4")
			if err != nil || st.Locked {
				t.Fatalf("lock should lift after duration: %+v err=%v", st, err)
			}
		})
	}
}

func TestServiceErrorsDoNotCountByDefault(t *testing.T) {
	cfg := Config{Threshold: 2, Window: time.Minute, Duration: time.Minute}
	for name, h := range harnesses(t, cfg) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := Attempt{Username: "bob", IP: "ip", Kind: KindServiceError}
			for i := 0; i < 5; i++ {
				st, err := h.tracker.RecordFailure(ctx, a)
				if err != nil {
					t.Fatalf("record: %v", err)
				}
				if st.Locked || st.FailedAttempts != 0 {
					t.Fatalf("service errors must not count: %+v", st)
				}
			}
		})
	}
}

func TestServiceErrorsCountWhenConfigured(t *testing.T) {
	cfg := Config{Threshold: 2, Window: time.Minute, Duration: time.Minute, CountServiceErrors: true}
	for name, h := range harnesses(t, cfg) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := Attempt{Username: "bob", IP: "ip", Kind: KindServiceError}
			h.tracker.RecordFailure(ctx, a)
			st, err := h.tracker.RecordFailure(ctx, a)
			if err != nil || !st.Locked {
				t.Fatalf("expected lock, got %+v err=%v", st, err)
			}
		})
	}
}

func TestClearResetsCounter(t *testing.T) {
	cfg := Config{Threshold: 3, Window: time.Minute, Duration: time.Minute}
	for name, h := range harnesses(t, cfg) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := Attempt{Username: "carol", IP: "ip", Kind: KindUserNotFound}
			h.tracker.RecordFailure(ctx, a)
			h.tracker.RecordFailure(ctx, a)
			if err := h.tracker.Clear(ctx, "carol", "ip"); err != nil {
				t.Fatalf("clear: %v", err)
			}
			st, err := h.tracker.Status(ctx, "carol", "ip")
			if err != nil || st.FailedAttempts != 0 || st.RemainingAttempts != 3 {
				t.Fatalf("expected fresh status, got %+v err=%v", st, err)
			}
		})
	}
}

func TestWindowExpiryResetsCounter(t *testing.T) {
	cfg := Config{Threshold: 3, Window: time.Minute, Duration: time.Hour}
	for name, h := range harnesses(t, cfg) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := Attempt{Username: "dave", IP: "ip", Kind: KindInvalidCredentials}
			h.tracker.RecordFailure(ctx, a)
			h.tracker.RecordFailure(ctx, a)
			h.advance(2 * time.Minute)
			st, err := h.tracker.RecordFailure(ctx, a)
			if err != nil || st.Locked || st.FailedAttempts != 1 {
				t.Fatalf("expected counter reset after window, got %+v err=%v", st, err)
			}
		})
	}
}

func TestRedisTrackerWrapsBackendErrors(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	tracker := NewRedisTracker(rdb, "ac", Config{Threshold: 3})
	mr.Close()

	if _, err := tracker.Status(context.Background(), "x", "ip"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
