package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turri/tastehub/internal/models"
)

type fakeCatalogStore struct {
	products         []models.Product
	producers        []models.ProducerProducts
	productTastes    map[int64]models.TasteVector
	producerTastes   map[int64]models.TasteVector
	productTexts     []models.EmbeddingText
	producerTexts    []models.EmbeddingText
	productVectors   map[int64][]float32
	producerVectors  map[int64][]float32
	updateProducerFn func(id int64) error
}

func newFakeCatalogStore() *fakeCatalogStore {
	return &fakeCatalogStore{
		productTastes:   map[int64]models.TasteVector{},
		producerTastes:  map[int64]models.TasteVector{},
		productVectors:  map[int64][]float32{},
		producerVectors: map[int64][]float32{},
	}
}

func (f *fakeCatalogStore) ListProductsForTaste(context.Context) ([]models.Product, error) {
	return f.products, nil
}

func (f *fakeCatalogStore) ListProducersWithProductIDs(context.Context) ([]models.ProducerProducts, error) {
	return f.producers, nil
}

func (f *fakeCatalogStore) UpdateProductTaste(_ context.Context, id int64, taste models.TasteVector) error {
	f.productTastes[id] = taste

	return nil
}

func (f *fakeCatalogStore) UpdateProducerTaste(_ context.Context, id int64, taste models.TasteVector) error {
	if f.updateProducerFn != nil {
		if err := f.updateProducerFn(id); err != nil {
			return err
		}
	}

	f.producerTastes[id] = taste

	return nil
}

func (f *fakeCatalogStore) ListProductsMissingEmbedding(context.Context) ([]models.EmbeddingText, error) {
	return f.productTexts, nil
}

func (f *fakeCatalogStore) ListProducersMissingEmbedding(context.Context) ([]models.EmbeddingText, error) {
	return f.producerTexts, nil
}

func (f *fakeCatalogStore) SetProductEmbedding(_ context.Context, id int64, embedding []float32) error {
	f.productVectors[id] = embedding

	return nil
}

func (f *fakeCatalogStore) SetProducerEmbedding(_ context.Context, id int64, embedding []float32) error {
	f.producerVectors[id] = embedding

	return nil
}

// inlineTx runs fn directly and counts transactions.
type inlineTx struct {
	count int
}

func (tx *inlineTx) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.count++

	return fn(ctx)
}

func TestCatalogService_RecomputeTasteVectors(t *testing.T) {
	store := newFakeCatalogStore()
	store.products = []models.Product{
		{ID: 1, TagNames: []string{"Orgánico"}, CategoryNames: []string{"Café"}},
		{ID: 2, CategoryNames: []string{"Café"}},
		{ID: 3, TagNames: []string{"nada"}},
	}
	store.producers = []models.ProducerProducts{
		{ProducerID: 10, ProductIDs: []int64{1, 2}},
		{ProducerID: 11},
	}
	tx := &inlineTx{}
	svc := NewCatalogService(CatalogServiceParams{Store: store, TxManager: tx, Embedder: &lengthEmbedder{}})

	result, err := svc.RecomputeTasteVectors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tx.count)
	assert.Equal(t, 3, result.ProductTastes)
	assert.Equal(t, 2, result.ProducerTastes)

	assert.Equal(t, oneHotTaste(1, 6), store.productTastes[1])
	assert.Equal(t, models.ZeroTaste(), store.productTastes[3])

	producer := store.producerTastes[10]
	assert.InDelta(t, 0.5, producer[1], 1e-12)
	assert.InDelta(t, 1.0, producer[6], 1e-12)
	assert.Equal(t, models.ZeroTaste(), store.producerTastes[11], "producer without products")
}

func TestCatalogService_RecomputeFailureIsReported(t *testing.T) {
	store := newFakeCatalogStore()
	store.producers = []models.ProducerProducts{{ProducerID: 10}}
	store.updateProducerFn = func(int64) error { return errors.New("deadlock") }

	svc := NewCatalogService(CatalogServiceParams{Store: store, TxManager: &inlineTx{}})

	result, err := svc.RecomputeTasteVectors(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.CatalogRefreshResult{}, result)
}

func TestCatalogService_BackfillEmbeddings(t *testing.T) {
	store := newFakeCatalogStore()
	store.productTexts = []models.EmbeddingText{
		{ID: 1, Text: "<p>Café</p> de altura"},
		{ID: 2, Text: "<p> </p>"},
		{ID: 3, Text: "Queso"},
		{ID: 4, Text: "Miel"},
	}
	store.producerTexts = []models.EmbeddingText{{ID: 10, Text: "Finca"}}
	emb := &lengthEmbedder{}
	svc := NewCatalogService(CatalogServiceParams{Store: store, TxManager: &inlineTx{}, Embedder: emb, EmbedBatchSize: 2})

	result, err := svc.BackfillEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.ProductEmbeddings)
	assert.Equal(t, 1, result.ProducerEmbeddings)

	require.Len(t, emb.calls, 3)
	assert.Equal(t, []string{"Café de altura", "Queso"}, emb.calls[0])
	assert.Equal(t, []string{"Miel"}, emb.calls[1])

	assert.NotContains(t, store.productVectors, int64(2), "empty text is skipped")
	assert.Equal(t, []float32{float32(len("Miel"))}, store.productVectors[4])
	assert.Contains(t, store.producerVectors, int64(10))
}

func TestCatalogService_BackfillKeepsWrittenBatches(t *testing.T) {
	store := newFakeCatalogStore()
	store.productTexts = []models.EmbeddingText{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}}

	calls := 0
	emb := &funcEmbedder{embedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls > 1 {
			return nil, ErrOracleUnavailable
		}

		return [][]float32{{1}}, nil
	}}
	svc := NewCatalogService(CatalogServiceParams{Store: store, TxManager: &inlineTx{}, Embedder: emb, EmbedBatchSize: 1})

	result, err := svc.Refresh(context.Background())
	require.ErrorIs(t, err, ErrOracleUnavailable)
	assert.Equal(t, 1, result.ProductEmbeddings)
	assert.Len(t, store.productVectors, 1)
}

type funcEmbedder struct {
	embedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (f *funcEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f.embedFunc(ctx, texts)
}
