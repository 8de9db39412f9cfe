package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BucketsConfig configures [Buckets].
type BucketsConfig struct {
	// Rate is the sustained number of events per second.
	Rate  float64
	Burst int
	// IdleTTL is how long an unused bucket is kept.
	IdleTTL time.Duration
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Buckets is a set of token buckets keyed by an arbitrary string, usually a client IP.
type Buckets struct {
	mu      sync.Mutex
	config  BucketsConfig
	buckets map[string]*bucket
}

// NewBuckets returns an empty bucket set.
func NewBuckets(cfg BucketsConfig) *Buckets {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &Buckets{config: cfg, buckets: make(map[string]*bucket)}
}

// Allow takes one token from key's bucket. When empty it returns false and the delay until
// a token is available.
func (b *Buckets) Allow(key string) (bool, time.Duration) {
	b.mu.Lock()
	now := b.config.Now()
	bk, ok := b.buckets[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(rate.Limit(b.config.Rate), b.config.Burst)}
		b.buckets[key] = bk
	}
	bk.lastSeen = now
	b.mu.Unlock()

	r := bk.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Sweep removes buckets idle for longer than IdleTTL.
func (b *Buckets) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.config.Now().Add(-b.config.IdleTTL)
	removed := 0
	for k, bk := range b.buckets {
		if bk.lastSeen.Before(cutoff) {
			delete(b.buckets, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked buckets.
func (b *Buckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}

// Run sweeps every interval until ctx is done.
func (b *Buckets) Run(ctx context.Context, interval time.Duration) {
	runSweeper(ctx, interval, func() { b.Sweep() })
}
