package rate

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowConfig configures a [SlidingWindow].
type SlidingWindowConfig struct {
	Max    int
	Window time.Duration
	// MaxKeys caps tracked keys. When full, the least recently seen key is dropped.
	MaxKeys int
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

type hits struct {
	times    []time.Time
	lastSeen time.Time
}

// SlidingWindow is a per-key sliding-window log limiter.
//
// SlidingWindow is safe for concurrent use.
type SlidingWindow struct {
	mu     sync.Mutex
	config SlidingWindowConfig
	keys   map[string]*hits
}

// NewSlidingWindow returns a limiter admitting cfg.Max hits per cfg.Window per key.
func NewSlidingWindow(cfg SlidingWindowConfig) *SlidingWindow {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 100_000
	}
	return &SlidingWindow{config: cfg, keys: make(map[string]*hits)}
}

// Allow records a hit for key when it fits in the window. When it does not, Allow
// returns false and the wait until the oldest hit leaves the window.
func (s *SlidingWindow) Allow(key string) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.config.Now()
	h, ok := s.keys[key]
	if !ok {
		if len(s.keys) >= s.config.MaxKeys {
			s.sweepLocked(now)
			if len(s.keys) >= s.config.MaxKeys {
				s.evictOldestLocked()
			}
		}
		h = &hits{}
		s.keys[key] = h
	}
	h.lastSeen = now
	h.times = trim(h.times, now.Add(-s.config.Window))

	if len(h.times) >= s.config.Max {
		retry := h.times[0].Add(s.config.Window).Sub(now)
		if retry <= 0 {
			retry = time.Millisecond
		}
		return false, retry
	}
	h.times = append(h.times, now)
	return true, 0
}

// Remaining returns how many hits key may still make in the current window.
func (s *SlidingWindow) Remaining(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.keys[key]
	if !ok {
		return s.config.Max
	}
	h.times = trim(h.times, s.config.Now().Add(-s.config.Window))
	return s.config.Max - len(h.times)
}

// Len returns the number of tracked keys.
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Sweep drops keys with no hit inside the window and returns how many were removed.
func (s *SlidingWindow) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.config.Now())
}

// Run sweeps every interval until ctx is done.
func (s *SlidingWindow) Run(ctx context.Context, interval time.Duration) {
	runSweeper(ctx, interval, func() { s.Sweep() })
}

func (s *SlidingWindow) sweepLocked(now time.Time) int {
	cutoff := now.Add(-s.config.Window)
	removed := 0
	for k, h := range s.keys {
		h.times = trim(h.times, cutoff)
		if len(h.times) == 0 {
			delete(s.keys, k)
			removed++
		}
	}
	return removed
}

func (s *SlidingWindow) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, h := range s.keys {
		if !found || h.lastSeen.Before(oldest) {
			oldestKey, oldest, found = k, h.lastSeen, true
		}
	}
	if found {
		delete(s.keys, oldestKey)
	}
}

// trim drops timestamps at or before cutoff. times is sorted ascending.
func trim(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}

func runSweeper(ctx context.Context, interval time.Duration, sweep func()) {
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
			sweep()
		}
	}
}
