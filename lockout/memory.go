package lockout

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	failed        int
	serviceErrors int
	lastKind      Kind
	windowEnds    time.Time
	lockedUntil   time.Time
}

// MemoryTracker is a process-local [Tracker] for development and tests.
type MemoryTracker struct {
	mu      sync.Mutex
	config  Config
	entries map[string]*memoryEntry
}

var _ Tracker = (*MemoryTracker)(nil)

// NewMemoryTracker returns an empty in-memory tracker.
func NewMemoryTracker(cfg Config) *MemoryTracker {
	return &MemoryTracker{config: cfg.withDefaults(), entries: make(map[string]*memoryEntry)}
}

func (t *MemoryTracker) live(key string, now time.Time) *memoryEntry {
	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	if e.lockedUntil.After(now) {
		return e
	}
	if !e.lockedUntil.IsZero() || !now.Before(e.windowEnds) {
		delete(t.entries, key)
		return nil
	}
	return e
}

func (t *MemoryTracker) Status(_ context.Context, username, ip string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.config.Now()
	e := t.live(subjectKey(username, ip), now)
	if e == nil {
		return t.config.status(0, time.Time{}, now), nil
	}
	return t.config.status(e.failed, e.lockedUntil, now), nil
}

func (t *MemoryTracker) RecordFailure(_ context.Context, a Attempt) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.config.Now()
	key := subjectKey(a.Username, a.IP)
	e := t.live(key, now)
	if e == nil {
		e = &memoryEntry{windowEnds: now.Add(t.config.Window)}
		t.entries[key] = e
	}
	if e.lockedUntil.After(now) {
		return t.config.status(e.failed, e.lockedUntil, now), nil
	}

	e.lastKind = a.Kind
	if !t.config.counts(a.Kind) {
		e.serviceErrors++
		return t.config.status(e.failed, time.Time{}, now), nil
	}

	e.failed++
	if t.config.Threshold > 0 && e.failed >= t.config.Threshold {
		e.lockedUntil = now.Add(t.config.Duration)
	}
	return t.config.status(e.failed, e.lockedUntil, now), nil
}

func (t *MemoryTracker) Clear(_ context.Context, username, ip string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, subjectKey(username, ip))
	return nil
}
