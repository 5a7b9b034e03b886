// Package cache provides a bounded LRU cache that loads values on miss and shares
// one load between concurrent callers of the same key.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// LoaderCache caches the result of load per string key. A load error is returned to every
// caller waiting on it and is not cached; to remember a miss, make load return a value that
// says so (e.g. a nil pointer).
type LoaderCache[V any] struct {
	lru   *lru.Cache[string, V]
	group singleflight.Group
	load  func(ctx context.Context, key string) (V, error)
}

// NewLoaderCache creates a loader cache holding at most maxEntries values.
func NewLoaderCache[V any](maxEntries int, load func(ctx context.Context, key string) (V, error)) (*LoaderCache[V], error) {
	lruCache, err := lru.New[string, V](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	return &LoaderCache[V]{lru: lruCache, load: load}, nil
}

// Get returns the cached value for key or loads it.
func (c *LoaderCache[V]) Get(ctx context.Context, key string) (V, error) {
	v, _, err := c.GetWithStats(ctx, key)

	return v, err
}

// GetWithStats is Get that also reports whether the value came from the cache.
func (c *LoaderCache[V]) GetWithStats(ctx context.Context, key string) (V, bool, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, true, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}

		c.lru.Add(key, loaded)

		return loaded, nil
	})
	if err != nil {
		var zero V

		return zero, false, err
	}

	v, _ := val.(V)

	return v, false, nil
}

// Len returns the number of cached values.
func (c *LoaderCache[V]) Len() int {
	return c.lru.Len()
}
