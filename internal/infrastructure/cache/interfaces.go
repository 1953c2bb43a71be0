package cache

import (
	"context"
	"time"
)

// Cache is a TTL key/value store. TTLs are absolute: a read past the
// entry's expiry returns a miss. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheKeyNotFound on miss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// GetJSON retrieves and unmarshals JSON data.
	GetJSON(ctx context.Context, key string, dest interface{}) error

	// SetJSON marshals and stores JSON data.
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Close releases any backend resources.
	Close() error
}

// Key prefixes for the pipeline cache namespaces.
const (
	FullResultPrefix = "full:"
	TranscriptPrefix = "transcript:"
	OCRPrefix        = "ocr:"
)

// ErrCacheKeyNotFound is returned when a cache key doesn't exist or has
// expired.
type ErrCacheKeyNotFound struct {
	Key string
}

func (e ErrCacheKeyNotFound) Error() string {
	return "cache key not found: " + e.Key
}

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool {
	_, ok := err.(ErrCacheKeyNotFound)
	return ok
}
