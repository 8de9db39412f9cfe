package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/rate"
)

// RateLimit admits at most limit requests per window for each caller of route. Callers are
// keyed by user id when an Identity is attached and by client IP otherwise.
func (a *Authorizer) RateLimit(route string, limit int, window time.Duration) func(http.Handler) http.Handler {
	limiter := rate.NewSlidingWindow(rate.SlidingWindowConfig{
		Max:     limit,
		Window:  window,
		MaxKeys: a.rateMaxKey,
	})
	a.mu.Lock()
	a.limiters = append(a.limiters, limiter)
	a.mu.Unlock()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry := limiter.Allow(route + "|" + callerKey(r))
			if !ok {
				if obs, isObs := a.verifier.(rateObserver); isObs {
					obs.ObserveRateLimited()
				}
				WriteError(w, &authcore.RateLimitError{RetryAfter: retry})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetRateLimitMaxKeys caps the keys tracked by each limiter created afterwards.
func (a *Authorizer) SetRateLimitMaxKeys(n int) {
	a.rateMaxKey = n
}

// SweepRateLimits drops idle limiter keys and returns how many were removed.
func (a *Authorizer) SweepRateLimits() int {
	a.mu.Lock()
	limiters := append([]*rate.SlidingWindow(nil), a.limiters...)
	a.mu.Unlock()

	n := 0
	for _, l := range limiters {
		n += l.Sweep()
	}
	return n
}

// Run sweeps the rate limiters every interval until ctx is done.
func (a *Authorizer) Run(ctx context.Context, interval time.Duration) {
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
			a.SweepRateLimits()
		}
	}
}

func callerKey(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return "u:" + strconv.FormatInt(id.User.ID, 10)
	}
	if ip := authcore.ClientIP(r.Context()); ip != "" {
		return "ip:" + ip
	}
	return "addr:" + r.RemoteAddr
}
