package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store/memory"
)

type loadtestOptions struct {
	sessions    int
	concurrency int
	ops         int
	redisAddr   string
}

type sessionState struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func newLoadtestCmd() *cobra.Command {
	opts := loadtestOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure verify and refresh throughput against Redis",
		Long: `loadtest seeds sessions through the engine, then runs a verify phase and a
refresh-rotation phase with concurrent workers and reports latency percentiles.
Without --redis-addr an in-process miniredis is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return errors.New("sessions, concurrency and ops must be > 0")
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.sessions, "sessions", 500, "Number of sessions to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "Number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 20000, "Operations per phase")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "Redis address (default: in-process miniredis)")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, opts loadtestOptions) error {
	var client redis.UniversalClient
	if opts.redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		fmt.Fprintf(out, "using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{opts.redisAddr}})
		fmt.Fprintf(out, "using redis at %s\n", opts.redisAddr)
	}
	defer client.Close()

	engine, err := loadtestEngine(client)
	if err != nil {
		return err
	}
	defer engine.Close()

	const user, pass = "loadtest", "loadtest-password"
	if _, err := engine.CreateLocalUser(ctx, authcore.NewLocalUser{Username: user, Password: pass}); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	states := make([]sessionState, opts.sessions)
	fmt.Fprintf(out, "seeding %d sessions...\n", opts.sessions)
	startSeed := time.Now()
	for i := range states {
		bundle, err := engine.Authenticate(ctx, authcore.LoginRequest{Username: user, Password: pass})
		if err != nil {
			return fmt.Errorf("seed login: %w", err)
		}
		states[i].access = bundle.AccessToken
		states[i].refresh = bundle.RefreshToken
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verify := runPhase(opts.ops, opts.concurrency, func(r *mathrand.Rand) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		token := st.access
		st.mu.Unlock()
		_, err := engine.VerifyAccessToken(ctx, token, authcore.VerifyOptions{})
		return err
	})
	refresh := runPhase(opts.ops, opts.concurrency, func(r *mathrand.Rand) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		bundle, err := engine.Refresh(ctx, st.refresh, authcore.ModeStateless)
		if err != nil {
			return err
		}
		st.access, st.refresh = bundle.AccessToken, bundle.RefreshToken
		return nil
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "verify", verify)
	printStats(out, "refresh", refresh)
	return nil
}

// loadtestEngine uses cheap argon2 parameters so seeding is not dominated by hashing.
func loadtestEngine(client redis.UniversalClient) (*authcore.Engine, error) {
	cfg := authcore.DefaultConfig()
	cfg.Security.Profile = authcore.ProfileTest
	cfg.JWT.AccessSecret = randomSecret()
	cfg.JWT.RefreshSecret = randomSecret()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = false
	cfg.Lockout.Threshold = 0

	return authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(memory.New()).
		Build()
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func runPhase(ops, concurrency int, op func(r *mathrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mathrand.New(mathrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
