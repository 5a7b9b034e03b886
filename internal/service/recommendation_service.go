package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/models"
	"github.com/turri/tastehub/internal/observability"
)

// Defaults of the hybrid ranking.
const (
	DefaultCategoryWeight  = 4.0
	DefaultEmbeddingWeight = 1.0
	DefaultMissingPenalty  = 1000.0
	DefaultCandidateFactor = 3
	DefaultMaxK            = 50
)

// Sentinel errors for recommendations (used by handlers for status mapping).
var (
	ErrProfileNotFound = errors.New("customer profile not found")
	ErrNotOnboarded    = errors.New("customer has not finished onboarding")
)

// CatalogIndex is the read side of the catalog used for ranking.
type CatalogIndex interface {
	NearestByTaste(
		ctx context.Context, kind models.EntityKind, taste models.TasteVector, filter models.CatalogFilter, limit int,
	) ([]models.Neighbor, error)
	NearestByEmbedding(
		ctx context.Context, kind models.EntityKind, embedding []float32, filter models.CatalogFilter, limit int,
	) ([]models.Neighbor, error)
	ProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ProducersByIDs(ctx context.Context, ids []int64) ([]models.Producer, error)
}

// ProfileReader loads a customer profile.
type ProfileReader interface {
	GetProfile(ctx context.Context, customerID int64) (*models.CustomerProfile, error)
}

// RankingWeights are the coefficients of the combined score.
// MissingPenalty stands in for the distance of a candidate absent from one ranked list and must
// exceed every real distance.
type RankingWeights struct {
	Taste          float64
	Embedding      float64
	MissingPenalty float64
}

// DefaultRankingWeights returns 4·taste + 1·embedding with a penalty of 1000.
func DefaultRankingWeights() RankingWeights {
	return RankingWeights{Taste: DefaultCategoryWeight, Embedding: DefaultEmbeddingWeight, MissingPenalty: DefaultMissingPenalty}
}

// FuseRankings merges two ascending-distance lists into at most k candidates.
// Each id of the union is scored Taste·tasteDistance + Embedding·embeddingDistance, a distance
// missing from its list counting as MissingPenalty. The result is sorted by ascending score,
// ties broken by ascending id.
func FuseRankings(tasteList, embeddingList []models.Neighbor, w RankingWeights, k int) []models.ScoredCandidate {
	if k <= 0 {
		return []models.ScoredCandidate{}
	}

	byID := make(map[int64]*models.ScoredCandidate, len(tasteList)+len(embeddingList))
	candidate := func(id int64) *models.ScoredCandidate {
		c, ok := byID[id]
		if !ok {
			c = &models.ScoredCandidate{ID: id, TasteDistance: w.MissingPenalty, EmbeddingDistance: w.MissingPenalty}
			byID[id] = c
		}

		return c
	}

	// An id listed twice keeps its first, i.e. smallest, distance.
	seenTaste := make(map[int64]bool, len(tasteList))
	for _, n := range tasteList {
		if seenTaste[n.ID] {
			continue
		}

		seenTaste[n.ID] = true
		candidate(n.ID).TasteDistance = n.Distance
	}

	seenEmbedding := make(map[int64]bool, len(embeddingList))
	for _, n := range embeddingList {
		if seenEmbedding[n.ID] {
			continue
		}

		seenEmbedding[n.ID] = true
		candidate(n.ID).EmbeddingDistance = n.Distance
	}

	out := make([]models.ScoredCandidate, 0, len(byID))
	for _, c := range byID {
		c.Score = w.Taste*c.TasteDistance + w.Embedding*c.EmbeddingDistance
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}

		return out[i].ID < out[j].ID
	})

	if len(out) > k {
		out = out[:k]
	}

	return out
}

// RecommendationServiceParams configures RecommendationService. Zero values take the defaults.
type RecommendationServiceParams struct {
	Catalog         CatalogIndex
	Profiles        ProfileReader
	Weights         RankingWeights
	CandidateFactor int
	MaxK            int
	// ProductStatuses restricts product recommendations to these statuses. Empty means any.
	ProductStatuses []string
	Metrics         observability.RecommendationMetrics
	Logger          *slog.Logger
}

// RecommendationService ranks products and producers for a profile.
type RecommendationService struct {
	catalog         CatalogIndex
	profiles        ProfileReader
	weights         RankingWeights
	candidateFactor int
	maxK            int
	filter          models.CatalogFilter
	metrics         observability.RecommendationMetrics
	logger          *slog.Logger
}

// NewRecommendationService creates a RecommendationService.
func NewRecommendationService(p RecommendationServiceParams) *RecommendationService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	weights := p.Weights
	if weights == (RankingWeights{}) {
		weights = DefaultRankingWeights()
	}

	factor := p.CandidateFactor
	if factor <= 0 {
		factor = DefaultCandidateFactor
	}

	maxK := p.MaxK
	if maxK <= 0 {
		maxK = DefaultMaxK
	}

	return &RecommendationService{
		catalog:         p.Catalog,
		profiles:        p.Profiles,
		weights:         weights,
		candidateFactor: factor,
		maxK:            maxK,
		filter:          models.CatalogFilter{ProductStatuses: p.ProductStatuses},
		metrics:         p.Metrics,
		logger:          logger,
	}
}

// MaxK is the largest accepted k.
func (s *RecommendationService) MaxK() int {
	return s.maxK
}

func (s *RecommendationService) validateK(k int) error {
	if k < 1 || k > s.maxK {
		return huberrors.NewValidationError("k", fmt.Sprintf("k must be between 1 and %d", s.maxK))
	}

	return nil
}

// Recommend returns at most k candidates of kind for profile, best first.
// Both index queries fetch CandidateFactor·k rows and run concurrently.
func (s *RecommendationService) Recommend(
	ctx context.Context, profile *models.CustomerProfile, kind models.EntityKind, k int,
) ([]models.ScoredCandidate, error) {
	if !kind.Valid() {
		return nil, huberrors.NewValidationError("kind", fmt.Sprintf("unknown entity kind %q", kind))
	}

	if err := s.validateK(k); err != nil {
		return nil, err
	}

	if profile == nil {
		return nil, ErrProfileNotFound
	}

	start := time.Now()
	limit := k * s.candidateFactor

	var tasteList, embeddingList []models.Neighbor

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error

		tasteList, err = s.catalog.NearestByTaste(gctx, kind, profile.Taste, s.filter, limit)

		return err
	})
	g.Go(func() error {
		var err error

		embeddingList, err = s.catalog.NearestByEmbedding(gctx, kind, profile.Embedding, s.filter, limit)

		return err
	})

	if err := g.Wait(); err != nil {
		s.record(ctx, kind, "error", -1, start)

		return nil, fmt.Errorf("rank %s candidates: %w", kind, err)
	}

	ranked := FuseRankings(tasteList, embeddingList, s.weights, k)

	s.logger.Debug("ranked candidates",
		"customer_id", profile.CustomerID, "kind", string(kind), "k", k,
		"taste_hits", len(tasteList), "embedding_hits", len(embeddingList), "returned", len(ranked))
	s.record(ctx, kind, "ok", len(tasteList)+len(embeddingList), start)

	return ranked, nil
}

// RecommendProducts returns the top k products for profile in rank order.
// Products deleted between ranking and fetching are dropped.
func (s *RecommendationService) RecommendProducts(
	ctx context.Context, profile *models.CustomerProfile, k int,
) ([]models.ProductRecommendation, error) {
	ranked, err := s.Recommend(ctx, profile, models.KindProduct, k)
	if err != nil {
		return nil, err
	}

	products, err := s.catalog.ProductsByIDs(ctx, candidateIDs(ranked))
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}

	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	out := make([]models.ProductRecommendation, 0, len(ranked))

	for _, c := range ranked {
		if p, ok := byID[c.ID]; ok {
			out = append(out, models.ProductRecommendation{Product: p, Score: c.Score})
		}
	}

	return out, nil
}

// RecommendProducers returns the top k producers for profile in rank order.
func (s *RecommendationService) RecommendProducers(
	ctx context.Context, profile *models.CustomerProfile, k int,
) ([]models.ProducerRecommendation, error) {
	ranked, err := s.Recommend(ctx, profile, models.KindProducer, k)
	if err != nil {
		return nil, err
	}

	producers, err := s.catalog.ProducersByIDs(ctx, candidateIDs(ranked))
	if err != nil {
		return nil, fmt.Errorf("fetch producers: %w", err)
	}

	byID := make(map[int64]models.Producer, len(producers))
	for _, p := range producers {
		byID[p.ID] = p
	}

	out := make([]models.ProducerRecommendation, 0, len(ranked))

	for _, c := range ranked {
		if p, ok := byID[c.ID]; ok {
			out = append(out, models.ProducerRecommendation{Producer: p, Score: c.Score})
		}
	}

	return out, nil
}

// ProfileForRecommendation loads the profile of an onboarded customer.
// It returns ErrProfileNotFound or ErrNotOnboarded, both also matching huberrors.ErrNotFound.
func (s *RecommendationService) ProfileForRecommendation(
	ctx context.Context, customerID int64,
) (*models.CustomerProfile, error) {
	profile, err := s.profiles.GetProfile(ctx, customerID)
	if err != nil {
		if errors.Is(err, huberrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrProfileNotFound,
				huberrors.NewNotFoundError("customer profile", fmt.Sprintf("no profile for customer %d", customerID)))
		}

		return nil, fmt.Errorf("get profile: %w", err)
	}

	if !profile.IsOnboarded {
		return nil, fmt.Errorf("%w: %w", ErrNotOnboarded,
			huberrors.NewNotFoundError("customer profile", fmt.Sprintf("customer %d has not finished onboarding", customerID)))
	}

	return profile, nil
}

// RecommendForCustomer ranks kind for an onboarded customer and returns scored ids.
func (s *RecommendationService) RecommendForCustomer(
	ctx context.Context, customerID int64, kind models.EntityKind, k int,
) ([]models.ScoredCandidate, error) {
	if err := s.validateK(k); err != nil {
		return nil, err
	}

	profile, err := s.ProfileForRecommendation(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return s.Recommend(ctx, profile, kind, k)
}

// RecommendProductsForCustomer ranks products for an onboarded customer.
func (s *RecommendationService) RecommendProductsForCustomer(
	ctx context.Context, customerID int64, k int,
) ([]models.ProductRecommendation, error) {
	if err := s.validateK(k); err != nil {
		return nil, err
	}

	profile, err := s.ProfileForRecommendation(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return s.RecommendProducts(ctx, profile, k)
}

// RecommendProducersForCustomer ranks producers for an onboarded customer.
func (s *RecommendationService) RecommendProducersForCustomer(
	ctx context.Context, customerID int64, k int,
) ([]models.ProducerRecommendation, error) {
	if err := s.validateK(k); err != nil {
		return nil, err
	}

	profile, err := s.ProfileForRecommendation(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return s.RecommendProducers(ctx, profile, k)
}

func (s *RecommendationService) record(ctx context.Context, kind models.EntityKind, outcome string, candidates int, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordRecommendation(ctx, string(kind), outcome, candidates, time.Since(start))
	}
}

func candidateIDs(ranked []models.ScoredCandidate) []int64 {
	ids := make([]int64, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ID
	}

	return ids
}
