package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/models"
)

type fakeCatalogIndex struct {
	mu            sync.Mutex
	tasteList     []models.Neighbor
	embeddingList []models.Neighbor
	tasteErr      error
	products      []models.Product
	producers     []models.Producer
	limits        []int
	filters       []models.CatalogFilter
	fetchedIDs    []int64
	kinds         []models.EntityKind
}

func (f *fakeCatalogIndex) NearestByTaste(
	_ context.Context, kind models.EntityKind, _ models.TasteVector, filter models.CatalogFilter, limit int,
) ([]models.Neighbor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.limits = append(f.limits, limit)
	f.filters = append(f.filters, filter)
	f.kinds = append(f.kinds, kind)

	return f.tasteList, f.tasteErr
}

func (f *fakeCatalogIndex) NearestByEmbedding(
	_ context.Context, _ models.EntityKind, _ []float32, _ models.CatalogFilter, limit int,
) ([]models.Neighbor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.limits = append(f.limits, limit)

	return f.embeddingList, nil
}

func (f *fakeCatalogIndex) ProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	f.fetchedIDs = ids

	return f.products, nil
}

func (f *fakeCatalogIndex) ProducersByIDs(_ context.Context, ids []int64) ([]models.Producer, error) {
	f.fetchedIDs = ids

	return f.producers, nil
}

func TestFuseRankings(t *testing.T) {
	w := DefaultRankingWeights()

	t.Run("scores 4 taste plus 1 embedding", func(t *testing.T) {
		got := FuseRankings(
			[]models.Neighbor{{ID: 1, Distance: 0.1}, {ID: 2, Distance: 0.5}},
			[]models.Neighbor{{ID: 2, Distance: 0.1}, {ID: 1, Distance: 0.9}},
			w, 10)

		require.Len(t, got, 2)
		assert.Equal(t, int64(1), got[0].ID)
		assert.InDelta(t, 4*0.1+0.9, got[0].Score, 1e-12)
		assert.Equal(t, int64(2), got[1].ID)
		assert.InDelta(t, 4*0.5+0.1, got[1].Score, 1e-12)
	})

	t.Run("ties break by ascending id", func(t *testing.T) {
		got := FuseRankings(
			[]models.Neighbor{{ID: 9, Distance: 0.5}, {ID: 3, Distance: 0.5}},
			[]models.Neighbor{{ID: 3, Distance: 0.5}, {ID: 9, Distance: 0.5}},
			w, 10)

		require.Len(t, got, 2)
		assert.Equal(t, int64(3), got[0].ID)
		assert.Equal(t, int64(9), got[1].ID)
	})

	t.Run("length is min of k and union size", func(t *testing.T) {
		taste := []models.Neighbor{{ID: 1, Distance: 0.1}, {ID: 2, Distance: 0.2}, {ID: 3, Distance: 0.3}}
		emb := []models.Neighbor{{ID: 3, Distance: 0.1}, {ID: 4, Distance: 0.2}}

		assert.Len(t, FuseRankings(taste, emb, w, 2), 2)
		assert.Len(t, FuseRankings(taste, emb, w, 10), 4)
		assert.Empty(t, FuseRankings(nil, nil, w, 5))
		assert.Empty(t, FuseRankings(taste, emb, w, 0))
	})

	t.Run("duplicate ids keep the first distance", func(t *testing.T) {
		got := FuseRankings(
			[]models.Neighbor{{ID: 1, Distance: 0.1}, {ID: 1, Distance: 0.7}},
			[]models.Neighbor{{ID: 1, Distance: 0.2}},
			w, 5)

		require.Len(t, got, 1)
		assert.InDelta(t, 0.1, got[0].TasteDistance, 1e-12)
	})

	t.Run("sorted ascending", func(t *testing.T) {
		got := FuseRankings(
			[]models.Neighbor{{ID: 5, Distance: 1.2}, {ID: 6, Distance: 0.0}, {ID: 7, Distance: 2.0}},
			[]models.Neighbor{{ID: 7, Distance: 0.0}, {ID: 5, Distance: 0.4}, {ID: 6, Distance: 1.9}},
			w, 3)

		for i := 1; i < len(got); i++ {
			assert.LessOrEqual(t, got[i-1].Score, got[i].Score)
		}
	})
}

func TestFuseRankings_PenaltyOrdering(t *testing.T) {
	w := DefaultRankingWeights()

	got := FuseRankings(
		[]models.Neighbor{{ID: 1, Distance: 0.2}},
		[]models.Neighbor{{ID: 2, Distance: 0.3}},
		w, 10)

	require.Len(t, got, 2)
	// 4*1000 + 0.3 for id 2 against 4*0.2 + 1000 for id 1.
	assert.Equal(t, int64(1), got[0].ID)
	assert.InDelta(t, 4*0.2+1000, got[0].Score, 1e-9)
	assert.Equal(t, int64(2), got[1].ID)
	assert.InDelta(t, 4*1000+0.3, got[1].Score, 1e-9)
	assert.InDelta(t, 1000, got[0].EmbeddingDistance, 1e-12)
}

func TestRecommendationService_Recommend(t *testing.T) {
	ctx := context.Background()
	profile := &models.CustomerProfile{CustomerID: 1, Taste: oneHotTaste(6), Embedding: []float32{1}, IsOnboarded: true}

	t.Run("fetches k times factor candidates from both indexes", func(t *testing.T) {
		idx := &fakeCatalogIndex{
			tasteList:     []models.Neighbor{{ID: 1, Distance: 0.1}},
			embeddingList: []models.Neighbor{{ID: 1, Distance: 0.2}},
		}
		svc := NewRecommendationService(RecommendationServiceParams{Catalog: idx, ProductStatuses: []string{"publish"}})

		got, err := svc.Recommend(ctx, profile, models.KindProduct, 4)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []int{12, 12}, idx.limits)
		assert.Equal(t, []string{"publish"}, idx.filters[0].ProductStatuses)
	})

	t.Run("index failure", func(t *testing.T) {
		idx := &fakeCatalogIndex{tasteErr: errors.New("db down")}
		svc := NewRecommendationService(RecommendationServiceParams{Catalog: idx})

		_, err := svc.Recommend(ctx, profile, models.KindProducer, 3)
		assert.Error(t, err)
	})

	t.Run("invalid k", func(t *testing.T) {
		svc := NewRecommendationService(RecommendationServiceParams{Catalog: &fakeCatalogIndex{}, MaxK: 5})

		for _, k := range []int{0, -1, 6} {
			_, err := svc.Recommend(ctx, profile, models.KindProduct, k)
			assert.ErrorIs(t, err, huberrors.ErrValidation, "k=%d", k)
		}
	})

	t.Run("invalid kind", func(t *testing.T) {
		svc := NewRecommendationService(RecommendationServiceParams{Catalog: &fakeCatalogIndex{}})

		_, err := svc.Recommend(ctx, profile, "category", 3)
		assert.ErrorIs(t, err, huberrors.ErrValidation)
	})
}

func TestRecommendationService_RecommendProducts(t *testing.T) {
	profile := &models.CustomerProfile{CustomerID: 1, Taste: oneHotTaste(6), Embedding: []float32{1}, IsOnboarded: true}
	idx := &fakeCatalogIndex{
		tasteList:     []models.Neighbor{{ID: 30, Distance: 0.0}, {ID: 10, Distance: 0.5}, {ID: 20, Distance: 0.6}},
		embeddingList: []models.Neighbor{{ID: 30, Distance: 0.1}, {ID: 10, Distance: 0.1}, {ID: 20, Distance: 0.2}},
		// Returned in id order; 20 vanished after ranking.
		products: []models.Product{{ID: 10, Title: "ten"}, {ID: 30, Title: "thirty"}},
	}
	svc := NewRecommendationService(RecommendationServiceParams{Catalog: idx})

	got, err := svc.RecommendProducts(context.Background(), profile, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 10, 20}, idx.fetchedIDs)
	require.Len(t, got, 2)
	assert.Equal(t, "thirty", got[0].Title)
	assert.Equal(t, "ten", got[1].Title)
	assert.InDelta(t, 0.1, got[0].Score, 1e-12)
	assert.False(t, math.IsNaN(got[1].Score))
}

func TestRecommendationService_ForCustomer(t *testing.T) {
	ctx := context.Background()
	repo := newMemProfiles()
	repo.put(models.CustomerProfile{CustomerID: 1, Taste: oneHotTaste(0), Embedding: []float32{1}, IsOnboarded: true})
	repo.put(models.CustomerProfile{CustomerID: 2, Taste: oneHotTaste(0), Embedding: []float32{1}})

	idx := &fakeCatalogIndex{
		tasteList: []models.Neighbor{{ID: 7, Distance: 0.3}},
		producers: []models.Producer{{ID: 7, Slug: "finca"}},
	}
	svc := NewRecommendationService(RecommendationServiceParams{Catalog: idx, Profiles: repo})

	t.Run("onboarded customer", func(t *testing.T) {
		got, err := svc.RecommendProducersForCustomer(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "finca", got[0].Slug)
		assert.InDelta(t, 4*0.3+DefaultMissingPenalty, got[0].Score, 1e-9)
	})

	t.Run("scored ids", func(t *testing.T) {
		got, err := svc.RecommendForCustomer(ctx, 1, models.KindProducer, 2)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(7), got[0].ID)
	})

	t.Run("missing profile", func(t *testing.T) {
		_, err := svc.RecommendProductsForCustomer(ctx, 404, 2)
		require.ErrorIs(t, err, ErrProfileNotFound)
		assert.ErrorIs(t, err, huberrors.ErrNotFound)
	})

	t.Run("not onboarded", func(t *testing.T) {
		_, err := svc.RecommendProductsForCustomer(ctx, 2, 2)
		require.ErrorIs(t, err, ErrNotOnboarded)
		assert.ErrorIs(t, err, huberrors.ErrNotFound)
	})

	t.Run("k is checked before the profile", func(t *testing.T) {
		_, err := svc.RecommendProductsForCustomer(ctx, 404, 0)
		assert.ErrorIs(t, err, huberrors.ErrValidation)
	})
}
