package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	require.Equal(t, time.Duration(1), percentile(samples, 0))
	require.Equal(t, time.Duration(5), percentile(samples, 50))
	require.Equal(t, time.Duration(10), percentile(samples, 100))
	require.Zero(t, percentile(nil, 50))
}

func TestComputeStatsSortsSamples(t *testing.T) {
	s := computeStats(time.Second, []time.Duration{9, 1, 5}, 2)
	require.Equal(t, 3, s.ops)
	require.Equal(t, int64(2), s.failures)
	require.Equal(t, time.Duration(5), s.p50)
	require.InDelta(t, 3.0, s.opsPerS, 0.001)
}

func TestSeedAndRotate(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	client, cleanup, err := openRedis("")
	require.NoError(t, err)
	defer cleanup()

	ctx := context.Background()
	engine, states, err := seed(ctx, client, "lt", 3)
	require.NoError(t, err)
	defer engine.Close()
	require.Len(t, states, 3)

	stats := runPhase(30, 4, 1, func(r *rand.Rand) bool {
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
	require.Equal(t, 30, stats.ops)
	require.Zero(t, stats.failures)
}
