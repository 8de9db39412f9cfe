// Package usercache is a bounded in-process cache of user records keyed by id.
//
// Entries expire after a fixed TTL measured from the last Put. When the cache is full the
// oldest inserted entry is evicted first, regardless of how often it was read.
package usercache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Config sizes the cache.
type Config struct {
	TTL     time.Duration
	MaxSize int
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

type entry[V any] struct {
	id       int64
	value    V
	storedAt time.Time
}

// Cache is a FIFO cache with per-entry TTL. The zero value is not usable; call New.
//
// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	order   *list.List
	items   map[int64]*list.Element
}

// New returns an empty cache. A non-positive MaxSize disables the size cap.
func New[V any](cfg Config) *Cache[V] {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     now,
		order:   list.New(),
		items:   make(map[int64]*list.Element),
	}
}

// Get returns the cached value for id. Expired entries are removed and reported as misses.
func (c *Cache[V]) Get(id int64) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[id]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.expired(e, c.now()) {
		c.removeElement(el)
		return zero, false
	}
	return e.value, true
}

// Put stores value under id. Re-putting an id refreshes its timestamp and moves it to the
// back of the eviction order.
func (c *Cache[V]) Put(id int64, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[id]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.storedAt = now
		c.order.MoveToBack(el)
		return
	}

	if c.maxSize > 0 {
		for c.order.Len() >= c.maxSize {
			c.removeElement(c.order.Front())
		}
	}
	c.items[id] = c.order.PushBack(&entry[V]{id: id, value: value, storedAt: now})
}

// Invalidate drops id. Unknown ids are ignored.
func (c *Cache[V]) Invalidate(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		c.removeElement(el)
	}
}

// Sweep removes every entry expired at now and returns how many were dropped.
func (c *Cache[V]) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*entry[V]), now) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Run sweeps every interval until ctx is done.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.now())
		}
	}
}

func (c *Cache[V]) expired(e *entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.storedAt) >= c.ttl
}

func (c *Cache[V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[V])
	delete(c.items, e.id)
}
