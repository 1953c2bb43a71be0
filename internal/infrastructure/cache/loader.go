package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader couples a Cache with single-flight coordination: concurrent
// callers of GetOrCompute for the same key run the compute function at
// most once and all observe its result.
type Loader struct {
	cache Cache
	group singleflight.Group
}

// NewLoader wraps a cache backend with single-flight semantics.
func NewLoader(c Cache) *Loader {
	return &Loader{cache: c}
}

// Cache exposes the underlying backend for plain reads and writes.
func (l *Loader) Cache() Cache {
	return l.cache
}

// GetOrCompute returns the fresh cached value for key, or runs compute
// exactly once across concurrent callers, stores its result with ttl, and
// returns it. A failed compute is not cached.
//
// Coordination is process-local. With the remote backend two processes can
// compute the same key concurrently; results are required to be
// deterministic per key, so the duplicate write is harmless.
func (l *Loader) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (string, error)) (string, bool, error) {
	if value, err := l.cache.Get(ctx, key); err == nil {
		return value, true, nil
	} else if !IsMiss(err) {
		return "", false, err
	}

	value, err, _ := l.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the key between our miss and acquiring the lease.
		if cached, err := l.cache.Get(ctx, key); err == nil {
			return cached, nil
		}

		computed, err := compute(ctx)
		if err != nil {
			return "", err
		}
		if err := l.cache.Set(ctx, key, computed, ttl); err != nil {
			return "", err
		}
		return computed, nil
	})
	if err != nil {
		return "", false, err
	}

	return value.(string), false, nil
}

// Forget drops any in-flight computation for key so the next caller
// re-executes compute. Used by cancellation to release the lease.
func (l *Loader) Forget(key string) {
	l.group.Forget(key)
}
