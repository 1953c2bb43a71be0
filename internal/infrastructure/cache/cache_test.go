package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/caseproof/evidence-backend/internal/infrastructure/config"
)

func setupTestRedis(t *testing.T) (Cache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := &config.CacheConfig{
		URL:          mr.Addr(),
		DB:           0,
		PoolSize:     5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	c, err := NewRedisCache(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c, mr
}

func backends(t *testing.T) map[string]func(t *testing.T) Cache {
	return map[string]func(t *testing.T) Cache{
		"memory": func(t *testing.T) Cache {
			c := NewMemoryCache()
			t.Cleanup(func() { c.Close() })
			return c
		},
		"redis": func(t *testing.T) Cache {
			c, _ := setupTestRedis(t)
			return c
		},
	}
}

func TestCacheSetGetDelete(t *testing.T) {
	for name, setup := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := setup(t)
			ctx := context.Background()

			_, err := c.Get(ctx, "missing")
			assert.True(t, IsMiss(err))

			require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
			got, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v", got)

			require.NoError(t, c.Delete(ctx, "k"))
			_, err = c.Get(ctx, "k")
			assert.True(t, IsMiss(err))

			// Deleting an absent key is not an error.
			assert.NoError(t, c.Delete(ctx, "k"))
		})
	}
}

func TestCacheJSONRoundtrip(t *testing.T) {
	type payload struct {
		Fingerprint string `json:"fingerprint"`
		Violations  int    `json:"violations"`
	}

	for name, setup := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := setup(t)
			ctx := context.Background()

			in := payload{Fingerprint: "abc123", Violations: 3}
			require.NoError(t, c.SetJSON(ctx, "result", in, time.Minute))

			var out payload
			require.NoError(t, c.GetJSON(ctx, "result", &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestMemoryCacheTTLIsAbsolute(t *testing.T) {
	c := NewMemoryCache().(*memoryCache)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Millisecond))

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	_, err = c.Get(ctx, "k")
	assert.True(t, IsMiss(err), "read past TTL must miss")
}

func TestRedisCacheTTL(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, "k")
	assert.True(t, IsMiss(err))
}

func TestLoaderSingleFlight(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	loader := NewLoader(c)
	ctx := context.Background()

	var computes int64
	compute := func(ctx context.Context) (string, error) {
		atomic.AddInt64(&computes, 1)
		time.Sleep(20 * time.Millisecond)
		return "result", nil
	}

	const callers = 32
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := loader.GetOrCompute(ctx, "fp", time.Minute, compute)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&computes), "compute must run at most once per key")
	for _, v := range results {
		assert.Equal(t, "result", v)
	}
}

func TestLoaderRecomputesAfterExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	loader := NewLoader(c)
	ctx := context.Background()

	var computes int64
	compute := func(ctx context.Context) (string, error) {
		atomic.AddInt64(&computes, 1)
		return "v", nil
	}

	_, hit, err := loader.GetOrCompute(ctx, "k", 10*time.Millisecond, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = loader.GetOrCompute(ctx, "k", 10*time.Millisecond, compute)
	require.NoError(t, err)
	assert.True(t, hit, "fresh entry must be a hit")

	time.Sleep(25 * time.Millisecond)

	_, hit, err = loader.GetOrCompute(ctx, "k", 10*time.Millisecond, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	assert.Equal(t, int64(2), atomic.LoadInt64(&computes),
		"exactly one extra compute per key after TTL expiry")
}

func TestLoaderFailedComputeNotCached(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	loader := NewLoader(c)
	ctx := context.Background()

	_, _, err := loader.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "", assert.AnError
	})
	require.Error(t, err)

	v, _, err := loader.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestNewFactory(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("memory", func(t *testing.T) {
		c, err := New(&config.CacheConfig{Backend: "memory"}, logger)
		require.NoError(t, err)
		c.Close()
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := New(&config.CacheConfig{Backend: "memcached"}, logger)
		assert.Error(t, err)
	})
}
