package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/turri/tastehub/internal/models"
	"github.com/turri/tastehub/internal/observability"
	"github.com/turri/tastehub/internal/taste"
)

const defaultCatalogEmbedBatchSize = 50

// CatalogStore is the write side of the catalog used by maintenance.
type CatalogStore interface {
	ListProductsForTaste(ctx context.Context) ([]models.Product, error)
	ListProducersWithProductIDs(ctx context.Context) ([]models.ProducerProducts, error)
	UpdateProductTaste(ctx context.Context, id int64, taste models.TasteVector) error
	UpdateProducerTaste(ctx context.Context, id int64, taste models.TasteVector) error
	ListProductsMissingEmbedding(ctx context.Context) ([]models.EmbeddingText, error)
	ListProducersMissingEmbedding(ctx context.Context) ([]models.EmbeddingText, error)
	SetProductEmbedding(ctx context.Context, id int64, embedding []float32) error
	SetProducerEmbedding(ctx context.Context, id int64, embedding []float32) error
}

// TxManager runs fn in one transaction carried by ctx.
type TxManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogServiceParams configures CatalogService. Metrics and Logger may be nil.
type CatalogServiceParams struct {
	Store          CatalogStore
	TxManager      TxManager
	Embedder       Embedder
	EmbedBatchSize int
	OracleTimeout  time.Duration
	Metrics        observability.RefreshMetrics
	Logger         *slog.Logger
}

// CatalogService derives the taste vectors and embeddings of products and producers.
type CatalogService struct {
	store         CatalogStore
	tx            TxManager
	embedder      Embedder
	batchSize     int
	oracleTimeout time.Duration
	metrics       observability.RefreshMetrics
	logger        *slog.Logger
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(p CatalogServiceParams) *CatalogService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := p.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = defaultCatalogEmbedBatchSize
	}

	return &CatalogService{
		store:         p.Store,
		tx:            p.TxManager,
		embedder:      p.Embedder,
		batchSize:     batchSize,
		oracleTimeout: p.OracleTimeout,
		metrics:       p.Metrics,
		logger:        logger,
	}
}

// Refresh recomputes taste vectors, then embeds every entity still missing an embedding.
func (s *CatalogService) Refresh(ctx context.Context) (models.CatalogRefreshResult, error) {
	result, err := s.RecomputeTasteVectors(ctx)
	if err != nil {
		return result, err
	}

	embedded, err := s.BackfillEmbeddings(ctx)
	result.ProductEmbeddings = embedded.ProductEmbeddings
	result.ProducerEmbeddings = embedded.ProducerEmbeddings

	return result, err
}

// RecomputeTasteVectors rewrites every product vector from its tag and category names, then every
// producer vector as the mean of its products' new vectors, in one transaction.
func (s *CatalogService) RecomputeTasteVectors(ctx context.Context) (models.CatalogRefreshResult, error) {
	var result models.CatalogRefreshResult

	err := s.tx.Do(ctx, func(ctx context.Context) error {
		products, err := s.store.ListProductsForTaste(ctx)
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}

		byProduct := make(map[int64]models.TasteVector, len(products))

		for _, p := range products {
			vec := taste.ForProduct(p)
			if err := s.store.UpdateProductTaste(ctx, p.ID, vec); err != nil {
				return fmt.Errorf("update product %d: %w", p.ID, err)
			}

			byProduct[p.ID] = vec
		}

		producers, err := s.store.ListProducersWithProductIDs(ctx)
		if err != nil {
			return fmt.Errorf("list producers: %w", err)
		}

		for _, pp := range producers {
			vecs := make([]models.TasteVector, 0, len(pp.ProductIDs))
			for _, id := range pp.ProductIDs {
				if vec, ok := byProduct[id]; ok {
					vecs = append(vecs, vec)
				}
			}

			if err := s.store.UpdateProducerTaste(ctx, pp.ProducerID, taste.ForProducer(vecs)); err != nil {
				return fmt.Errorf("update producer %d: %w", pp.ProducerID, err)
			}
		}

		result.ProductTastes = len(products)
		result.ProducerTastes = len(producers)

		return nil
	})
	if err != nil {
		return models.CatalogRefreshResult{}, fmt.Errorf("recompute taste vectors: %w", err)
	}

	s.recordVectors(ctx, models.KindProduct, "taste", result.ProductTastes)
	s.recordVectors(ctx, models.KindProducer, "taste", result.ProducerTastes)
	s.logger.Info("taste vectors recomputed", "products", result.ProductTastes, "producers", result.ProducerTastes)

	return result, nil
}

// BackfillEmbeddings embeds the HTML-stripped content and excerpt of every product and producer
// without an embedding. Entities with no text are skipped.
func (s *CatalogService) BackfillEmbeddings(ctx context.Context) (models.CatalogRefreshResult, error) {
	var result models.CatalogRefreshResult

	n, err := s.backfill(ctx, models.KindProduct, s.store.ListProductsMissingEmbedding, s.store.SetProductEmbedding)
	result.ProductEmbeddings = n

	if err != nil {
		return result, err
	}

	n, err = s.backfill(ctx, models.KindProducer, s.store.ListProducersMissingEmbedding, s.store.SetProducerEmbedding)
	result.ProducerEmbeddings = n

	return result, err
}

func (s *CatalogService) backfill(
	ctx context.Context,
	kind models.EntityKind,
	list func(context.Context) ([]models.EmbeddingText, error),
	set func(context.Context, int64, []float32) error,
) (int, error) {
	pending, err := list(ctx)
	if err != nil {
		return 0, fmt.Errorf("list %s texts: %w", kind, err)
	}

	texts := make([]models.EmbeddingText, 0, len(pending))

	for _, t := range pending {
		text := plainText(t.Text)
		if text == "" {
			s.logger.Warn("catalog entity has no text to embed", "kind", string(kind), "id", t.ID)

			continue
		}

		texts = append(texts, models.EmbeddingText{ID: t.ID, Text: text})
	}

	written := 0

	for start := 0; start < len(texts); start += s.batchSize {
		batch := texts[start:min(start+s.batchSize, len(texts))]

		inputs := make([]string, len(batch))
		for i, t := range batch {
			inputs[i] = t.Text
		}

		vecs, err := s.embedBatch(ctx, inputs)
		if err != nil {
			s.recordVectors(ctx, kind, "embedding", written)

			return written, fmt.Errorf("embed %s batch at %d: %w", kind, start, err)
		}

		for i, t := range batch {
			if err := set(ctx, t.ID, vecs[i]); err != nil {
				s.recordVectors(ctx, kind, "embedding", written)

				return written, fmt.Errorf("store %s %d embedding: %w", kind, t.ID, err)
			}

			written++
		}

		s.logger.Debug("embedded catalog batch", "kind", string(kind), "done", written, "total", len(texts))
	}

	s.recordVectors(ctx, kind, "embedding", written)
	s.logger.Info("catalog embeddings backfilled", "kind", string(kind), "count", written)

	return written, nil
}

func (s *CatalogService) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	ctx, cancel := withOracleTimeout(ctx, s.oracleTimeout)
	defer cancel()

	vecs, err := s.embedder.Embed(ctx, inputs)
	if err != nil {
		return nil, &OracleError{Op: "embed", Err: err}
	}

	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(inputs))
	}

	return vecs, nil
}

func (s *CatalogService) recordVectors(ctx context.Context, kind models.EntityKind, vector string, count int) {
	if s.metrics != nil && count > 0 {
		s.metrics.RecordCatalogVectors(ctx, string(kind), vector, count)
	}
}
