// Command authcore-loadtest drives concurrent token validation and refresh
// rotation against a Redis instance and reports latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/userstore/memory"
)

// tokenState is one seeded login. mu serializes rotations of its refresh token.
type tokenState struct {
	access  string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		users       = flag.Int("users", 1000, "number of users to seed and log in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (validate + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authcore-lt", "redis key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, states, err := seed(ctx, client, *prefix, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	validateStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) bool {
		return engine.ValidateToken(states[r.Intn(len(states))].access)
	})
	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) bool {
		st := states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		res, err := engine.RefreshToken(ctx, st.refresh)
		if err != nil {
			return false
		}
		st.refresh = res.RefreshToken
		return true
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// seed creates n users in memory and logs each of them in once.
func seed(ctx context.Context, client redis.UniversalClient, prefix string, n int) (*authcore.Engine, []*tokenState, error) {
	hasher := password.NewBcrypt(4)
	store, err := memory.New(hasher)
	if err != nil {
		return nil, nil, err
	}

	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = strings.Repeat("l", 32)
	cfg.Redis.Prefix = prefix
	cfg.MFA.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = true
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(store).
		WithPasswordHasher(hasher).
		WithLogger(log.New(io.Discard, "", 0)).
		Build()
	if err != nil {
		return nil, nil, err
	}

	fmt.Printf("seeding %d users...\n", n)
	start := time.Now()
	states := make([]*tokenState, n)
	for i := range states {
		username := fmt.Sprintf("user-%d", i)
		if _, err := store.CreateUser(ctx, authcore.User{Username: username, Active: true}, "pw"); err != nil {
			engine.Close()
			return nil, nil, err
		}
		res, err := engine.Authenticate(ctx, authcore.LoginRequest{Username: username, Password: "pw"})
		if err != nil {
			engine.Close()
			return nil, nil, fmt.Errorf("login %s: %w", username, err)
		}
		states[i] = &tokenState{access: res.AccessToken, refresh: res.RefreshToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return engine, states, nil
}

// runPhase runs op ops times across concurrency workers.
func runPhase(ops, concurrency int, seedStride int64, op func(*rand.Rand) bool) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedStride))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				ok := op(r)
				d := time.Since(t0)
				if !ok {
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
