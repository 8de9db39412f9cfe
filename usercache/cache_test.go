package usercache

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(max int) (*Cache[string], *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return New[string](Config{TTL: time.Minute, MaxSize: max, Now: clock.Now}), clock
}

func TestGetRespectsTTL(t *testing.T) {
	c, clock := newTestCache(10)
	c.Put(1, "alice")

	if v, ok := c.Get(1); !ok || v != "alice" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}
	clock.Advance(time.Minute)
	if _, ok := c.Get(1); ok {
		t.Fatal("expected miss after ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed on read, len=%d", c.Len())
	}
}

func TestFIFOEvictionIgnoresReads(t *testing.T) {
	c, _ := newTestCache(2)
	c.Put(1, "a")
	c.Put(2, "b")

	// Reading 1 does not protect it: eviction is by insertion order.
	c.Get(1)
	c.Put(3, "c")

	if _, ok := c.Get(1); ok {
		t.Fatal("oldest insert should be evicted")
	}
	if _, ok := c.Get(2); !ok {
		t.Fatal("entry 2 should survive")
	}
	if _, ok := c.Get(3); !ok {
		t.Fatal("entry 3 should be present")
	}
}

func TestRePutMovesToBack(t *testing.T) {
	c, _ := newTestCache(2)
	c.Put(1, "a")
	c.Put(2, "b")
	c.Put(1, "a2")
	c.Put(3, "c")

	if _, ok := c.Get(2); ok {
		t.Fatal("entry 2 should be evicted after 1 was re-put")
	}
	if v, ok := c.Get(1); !ok || v != "a2" {
		t.Fatalf("expected refreshed value, got %q %v", v, ok)
	}
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(10)
	c.Put(1, "a")
	c.Invalidate(1)
	c.Invalidate(99)
	if _, ok := c.Get(1); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestSweep(t *testing.T) {
	c, clock := newTestCache(10)
	c.Put(1, "a")
	clock.Advance(30 * time.Second)
	c.Put(2, "b")
	clock.Advance(45 * time.Second)

	if n := c.Sweep(clock.Now()); n != 1 {
		t.Fatalf("expected 1 swept entry, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", c.Len())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	c, _ := newTestCache(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
