package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func TestDoCollapsesConcurrentCalls(t *testing.T) {
	t.Parallel()

	c := New()
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) Result {
		calls.Add(1)
		<-release
		return Result{Observation: tracker.Observation{URL: "u", Price: decimal.NewFromInt(5)}, Attempts: 1}
	}

	var wg sync.WaitGroup
	results := make([]Result, 8)
	shared := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], shared[i] = c.Do(context.Background(), "u", fn)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	executed := 0
	for i, r := range results {
		require.True(t, r.Observation.Price.Equal(decimal.NewFromInt(5)))
		if !shared[i] {
			executed++
		}
	}
	require.Equal(t, 1, executed, "only the executing caller is unshared")

	r, again := c.Do(context.Background(), "u", fn)
	require.True(t, again)
	require.Equal(t, 1, r.Attempts)
	require.Equal(t, int32(1), calls.Load())
}

func TestDoCachesFailures(t *testing.T) {
	t.Parallel()

	c := New()
	var calls int
	fn := func(context.Context) Result {
		calls++
		return Result{Err: errors.New("boom"), Attempts: 3}
	}
	first, shared := c.Do(context.Background(), "u", fn)
	require.False(t, shared)
	second, _ := c.Do(context.Background(), "u", fn)
	require.Equal(t, 1, calls)
	require.EqualError(t, first.Err, "boom")
	require.EqualError(t, second.Err, "boom")
}

func TestDoSkipsCachingAfterCancellation(t *testing.T) {
	t.Parallel()

	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	_, _ = c.Do(ctx, "u", func(context.Context) Result {
		cancel()
		return Result{Err: context.Canceled}
	})
	_, ok := c.Get("u")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestGetPut(t *testing.T) {
	t.Parallel()

	c := New()
	_, ok := c.Get("missing")
	require.False(t, ok)
	c.Put("a", Result{Attempts: 2})
	r, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, r.Attempts)
	require.Equal(t, 1, c.Len())
}
