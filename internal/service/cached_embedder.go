package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/turri/tastehub/internal/observability"
)

const embeddingCacheName = observability.CacheEmbedding

// CachedEmbedder memoises embeddings per text. Concurrent misses for the same text share one oracle call,
// which runs detached from the caller that started it and is bounded by loadTimeout instead.
// Texts of a batch that miss the cache are embedded together. Returned vectors are copies.
type CachedEmbedder struct {
	inner       Embedder
	cache       *lru.Cache[string, []float32]
	group       singleflight.Group
	loadTimeout time.Duration
	metrics     observability.CacheMetrics
}

// NewCachedEmbedder wraps inner with an LRU of size entries. loadTimeout bounds a shared load (0 means none).
// metrics may be nil.
func NewCachedEmbedder(
	inner Embedder, size int, loadTimeout time.Duration, metrics observability.CacheMetrics,
) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &CachedEmbedder{inner: inner, cache: cache, loadTimeout: loadTimeout, metrics: metrics}, nil
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var (
		missing []string
		slots   = map[string][]int{}
	)

	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			c.recordHit(ctx)

			out[i] = slices.Clone(vec)

			continue
		}

		if _, seen := slots[text]; !seen {
			missing = append(missing, text)
		}

		slots[text] = append(slots[text], i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	var loaded [][]float32

	if len(missing) == 1 {
		vec, err := c.loadOne(ctx, missing[0])
		if err != nil {
			return nil, err
		}

		loaded = [][]float32{vec}
	} else {
		vecs, err := c.inner.Embed(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("embed batch: %w", err)
		}

		if len(vecs) != len(missing) {
			return nil, fmt.Errorf("embed batch: got %d vectors for %d texts", len(vecs), len(missing))
		}

		for i, text := range missing {
			c.cache.Add(text, vecs[i])
		}

		loaded = vecs
	}

	for i, text := range missing {
		c.recordMiss(ctx)

		for _, slot := range slots[text] {
			out[slot] = slices.Clone(loaded[i])
		}
	}

	return out, nil
}

// loadOne embeds text once for every concurrent caller. A caller that gives up returns its own
// context error while the load carries on for the others and fills the cache.
func (c *CachedEmbedder) loadOne(ctx context.Context, text string) ([]float32, error) {
	ch := c.group.DoChan(text, func() (any, error) {
		lctx, cancel := withOracleTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		vecs, loadErr := c.inner.Embed(lctx, []string{text})
		if loadErr != nil {
			return nil, fmt.Errorf("embed: %w", loadErr)
		}

		if len(vecs) != 1 {
			return nil, fmt.Errorf("embed: got %d vectors for 1 text", len(vecs))
		}

		c.cache.Add(text, vecs[0])

		return vecs[0], nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("cached embedding: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("cached embedding: %w", res.Err)
		}

		vec, _ := res.Val.([]float32)

		return vec, nil
	}
}

func (c *CachedEmbedder) recordHit(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.RecordHit(ctx, embeddingCacheName)
	}
}

func (c *CachedEmbedder) recordMiss(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.RecordMiss(ctx, embeddingCacheName)
	}
}
