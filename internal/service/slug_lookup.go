package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/models"
	"github.com/turri/tastehub/internal/observability"
	"github.com/turri/tastehub/pkg/cache"
)

const slugCacheSize = 4096

// slugLookup memoises the slug lookups of one analytics run, unknown slugs included.
// Page views repeat the same popular pages across customers, so each slug is read once per run.
type slugLookup struct {
	products   *cache.LoaderCache[*models.Product]
	producers  *cache.LoaderCache[*models.Producer]
	categories *cache.LoaderCache[*models.Category]
	metrics    observability.CacheMetrics
}

// newSlugLookup wraps catalog. metrics may be nil.
func newSlugLookup(catalog CatalogLookup, metrics observability.CacheMetrics) (*slugLookup, error) {
	products, err := cache.NewLoaderCache(slugCacheSize, notFoundAsNil(catalog.ProductBySlug))
	if err != nil {
		return nil, fmt.Errorf("product slug cache: %w", err)
	}

	producers, err := cache.NewLoaderCache(slugCacheSize, notFoundAsNil(catalog.ProducerBySlug))
	if err != nil {
		return nil, fmt.Errorf("producer slug cache: %w", err)
	}

	categories, err := cache.NewLoaderCache(slugCacheSize, notFoundAsNil(catalog.CategoryBySlug))
	if err != nil {
		return nil, fmt.Errorf("category slug cache: %w", err)
	}

	return &slugLookup{products: products, producers: producers, categories: categories, metrics: metrics}, nil
}

// notFoundAsNil turns ErrNotFound into a nil result so the miss is cached.
func notFoundAsNil[T any](load func(context.Context, string) (*T, error)) func(context.Context, string) (*T, error) {
	return func(ctx context.Context, slug string) (*T, error) {
		v, err := load(ctx, slug)
		if errors.Is(err, huberrors.ErrNotFound) {
			//nolint:nilnil // a nil value is the cached "not found"
			return nil, nil
		}

		return v, err
	}
}

// orNotFound restores the ErrNotFound that notFoundAsNil cached as nil.
func orNotFound[T any](v *T, err error, resource, slug string) (*T, error) {
	if err != nil {
		return nil, err
	}

	if v == nil {
		return nil, huberrors.NewNotFoundError(resource, fmt.Sprintf("%s %q not found", resource, slug))
	}

	return v, nil
}

func (l *slugLookup) record(ctx context.Context, cacheName string, hit bool, err error) {
	switch {
	case l.metrics == nil || err != nil:
	case hit:
		l.metrics.RecordHit(ctx, cacheName)
	default:
		l.metrics.RecordMiss(ctx, cacheName)
	}
}

func (l *slugLookup) ProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	v, hit, err := l.products.GetWithStats(ctx, slug)
	l.record(ctx, observability.CacheProductSlug, hit, err)

	return orNotFound(v, err, "product", slug)
}

func (l *slugLookup) ProducerBySlug(ctx context.Context, slug string) (*models.Producer, error) {
	v, hit, err := l.producers.GetWithStats(ctx, slug)
	l.record(ctx, observability.CacheProducerSlug, hit, err)

	return orNotFound(v, err, "producer", slug)
}

func (l *slugLookup) CategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	v, hit, err := l.categories.GetWithStats(ctx, slug)
	l.record(ctx, observability.CacheCategorySlug, hit, err)

	return orNotFound(v, err, "category", slug)
}
