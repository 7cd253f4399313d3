package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/directory"
	"github.com/MrEthical07/goGate/internal/logging"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/policy"
)

const loadtestSecret = "loadtest-secret-value"

type loadtestOptions struct {
	principals  int
	concurrency int
	ops         int
	redisAddr   string
}

// caller is one seeded browser: a session and a remember-me cookie that
// rotates on every use.
type caller struct {
	sessionID string
	cookie    string
	mu        sync.Mutex
}

func newLoadtestCmd() *cobra.Command {
	opts := loadtestOptions{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure login, authorize and remember-me throughput",
		Long: `Seed principals, log each one in with remember-me, then run an authorize
phase over live sessions and a remember-me phase that rotates a cookie on
every request. Redis comes from --redis-addr, REDIS_ADDR, or an embedded
in-memory instance.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.principals <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return oops.In("loadtest").Code("CONFIG_INVALID").
					Wrapf(goGate.ErrConfiguration, "principals, concurrency and ops must be > 0")
			}
			if opts.redisAddr == "" {
				opts.redisAddr = os.Getenv("REDIS_ADDR")
			}
			return runLoadtest(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&opts.principals, "principals", 2000, "number of principals to seed and log in")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 50000, "operations per phase")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address; empty uses REDIS_ADDR or an embedded redis")
	return cmd
}

func runLoadtest(ctx context.Context, opts loadtestOptions, out io.Writer) error {
	addr := opts.redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return oops.In("loadtest").Code("REDIS_EMBED_FAILED").Wrap(err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	// cheap hashes: the run measures the gateway, not argon2
	hasher, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(loadtestSecret)
	if err != nil {
		return err
	}
	dir, err := directory.NewStatic()
	if err != nil {
		return err
	}
	for i := 0; i < opts.principals; i++ {
		if err := dir.Put(goGate.Principal{
			ID:             fmt.Sprintf("p-%d", i),
			Username:       fmt.Sprintf("user-%d", i),
			Roles:          []string{"ADMIN"},
			CredentialHash: hash,
		}); err != nil {
			return err
		}
	}

	cfg := goGate.DefaultConfig()
	cfg.RememberMe.Enabled = true
	cfg.RememberMe.SigningKey = []byte("loadtest-signing-key-0123456789")
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Policy.Rules = []policy.RuleSpec{
		{Patterns: []string{"/admin/**"}, Requirement: policy.RoleAny("ADMIN")},
	}

	engine, err := goGate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithDirectory(dir).
		WithVerifier(hasher).
		WithLogger(logging.Discard()).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	callers := make([]caller, opts.principals)
	loginStats := runPhase(opts.principals, opts.concurrency, func(_ *rand.Rand, i int) error {
		res, err := engine.Login(ctx, fmt.Sprintf("user-%d", i), loadtestSecret, goGate.LoginOptions{RememberMe: true})
		if err != nil {
			return err
		}
		callers[i].sessionID = res.SessionID
		callers[i].cookie = res.RememberMeCookie
		return nil
	})

	authorizeStats := runPhase(opts.ops, opts.concurrency, func(r *rand.Rand, _ int) error {
		c := &callers[r.Intn(len(callers))]
		res, err := engine.Authorize(ctx, goGate.AccessRequest{Path: "/admin/reports", SessionID: c.sessionID})
		if err != nil {
			return err
		}
		if res.Decision != policy.DecisionAllow {
			return oops.Errorf("decision %s", res.Decision)
		}
		return nil
	})

	rememberStats := runPhase(opts.ops, opts.concurrency, func(r *rand.Rand, _ int) error {
		c := &callers[r.Intn(len(callers))]
		c.mu.Lock()
		defer c.mu.Unlock()

		res, err := engine.Authorize(ctx, goGate.AccessRequest{Path: "/admin/reports", RememberMeCookie: c.cookie})
		if err != nil {
			return err
		}
		if res.RememberMeCookie == "" {
			return oops.Errorf("remember-me outcome %v", res.RememberMe)
		}
		c.cookie = res.RememberMeCookie
		return nil
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "login", loginStats)
	printStats(out, "authorize", authorizeStats)
	printStats(out, "remember-me", rememberStats)
	return nil
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

// runPhase calls op ops times spread over concurrency workers. op receives
// a per-worker random source and the operation index.
func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
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

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
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
