package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authtrail"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type tokenState struct {
	token   string
	revoked atomic.Bool
}

func main() {
	var (
		tokens      = flag.Int("tokens", 10000, "number of tokens to issue")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "authenticate operations")
		revokeRatio = flag.Float64("revoke-ratio", 0.1, "fraction of tokens revoked before the authenticate phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "", "revocation key prefix")
	)
	flag.Parse()

	if *tokens <= 0 || *concurrency <= 0 || *ops <= 0 || *revokeRatio < 0 || *revokeRatio > 1 {
		fmt.Fprintln(os.Stderr, "tokens, concurrency, and ops must be > 0; revoke-ratio must be within [0, 1]")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authtrail.DefaultConfig()
	cfg.Token.Secret = "revocation-loadtest-secret-revocation-loadtest"
	cfg.Metrics.EnableLatencyHistograms = true
	if *prefix != "" {
		cfg.Revocation.Prefix = *prefix
	}

	manager, err := authtrail.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrincipalProvider(authtrail.NewStaticPrincipalProvider(
			authtrail.PrincipalRecord{Subject: "loadtest", Role: "member"},
		)).
		WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build manager: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	states := make([]tokenState, *tokens)
	fmt.Printf("issuing %d tokens...\n", *tokens)
	startIssue := time.Now()
	for i := range states {
		token, err := manager.Issue(ctx, "loadtest", "member", time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		states[i].token = token
	}
	fmt.Printf("issued in %s\n", time.Since(startIssue).Round(time.Millisecond))

	revokeCount := int(float64(*tokens) * *revokeRatio)
	revokeReport := runPhase("revoke", revokeCount, *concurrency, func(i int, _ *rand.Rand) outcome {
		if err := manager.Revoke(ctx, states[i].token); err != nil {
			return outcomeError
		}
		states[i].revoked.Store(true)
		return outcomeAccepted
	})

	authReport := runPhase("authenticate", *ops, *concurrency, func(_ int, r *rand.Rand) outcome {
		state := &states[r.Intn(len(states))]
		_, err := manager.Authenticate(ctx, state.token)
		return classify(state.revoked.Load(), err)
	})

	fmt.Println("---- results ----")
	if err := writeReports(os.Stdout, revokeReport, authReport); err != nil {
		fmt.Fprintf(os.Stderr, "write report: %v\n", err)
	}
	fmt.Println("---- manager ----")
	if err := writeManagerSummary(os.Stdout, manager.MetricsSnapshot(), manager.AuditActionCounts()); err != nil {
		fmt.Fprintf(os.Stderr, "write summary: %v\n", err)
	}

	if err := manager.VerifyAudit(); err != nil {
		fmt.Fprintf(os.Stderr, "audit chain invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("audit chain verified: %d entries\n", manager.AuditChainLength())
	if authReport.leaked() > 0 {
		fmt.Fprintf(os.Stderr, "revoked tokens accepted: %d\n", authReport.leaked())
		os.Exit(1)
	}
}

func classify(revoked bool, err error) outcome {
	switch {
	case err == nil && revoked:
		return outcomeLeaked
	case err == nil:
		return outcomeAccepted
	case errors.Is(err, authtrail.ErrTokenRevoked) && revoked:
		return outcomeRejectedRevoked
	default:
		return outcomeError
	}
}

// runPhase executes op n times across concurrency workers.
func runPhase(name string, n, concurrency int, op func(i int, r *rand.Rand) outcome) phaseReport {
	var (
		wg      sync.WaitGroup
		cursor  int64
		samples = make([]sample, 0, n)
		mu      sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					return
				}
				t0 := time.Now()
				o := op(i, r)
				s := sample{took: time.Since(t0), outcome: o}
				mu.Lock()
				samples = append(samples, s)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return newPhaseReport(name, time.Since(start), samples)
}
