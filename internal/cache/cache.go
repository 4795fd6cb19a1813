// Package cache provides the shared response cache for the corpus engine.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// Key joins parts into a colon-separated cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// SearchKey builds the key for one search request digest in a collection.
func SearchKey(collectionID, digest string) string {
	return Key("search", collectionID, digest)
}

// SearchPrefix is the common prefix of every cached search response for a
// collection. Deleting by this prefix invalidates the collection.
func SearchPrefix(collectionID string) string {
	return Key("search", collectionID) + ":"
}
