package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RecommendationMetrics records hybrid retrieval requests.
type RecommendationMetrics interface {
	RecordRecommendation(ctx context.Context, kind, outcome string, candidates int, duration time.Duration)
}

type recommendationMetrics struct {
	requests   metric.Int64Counter
	duration   metric.Float64Histogram
	candidates metric.Int64Histogram
}

// NewRecommendationMetrics creates RecommendationMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewRecommendationMetrics(meter metric.Meter) (RecommendationMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	requests, err := meter.Int64Counter(
		MetricNameRecommendations,
		metric.WithDescription("Recommendation requests by kind (product, producer) and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create recommendations counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameRecommendationDuration,
		metric.WithDescription("Recommendation ranking duration including both index queries (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create recommendation duration histogram: %w", err)
	}

	candidates, err := meter.Int64Histogram(
		MetricNameRecommendationCandidate,
		metric.WithDescription("Size of the candidate union before truncation to k"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create recommendation candidates histogram: %w", err)
	}

	return &recommendationMetrics{requests: requests, duration: duration, candidates: candidates}, nil
}

func (m *recommendationMetrics) RecordRecommendation(
	ctx context.Context, kind, outcome string, candidates int, duration time.Duration,
) {
	kindAttr := attribute.String(AttrKind, NormalizeKind(kind))

	m.requests.Add(ctx, 1, metric.WithAttributes(kindAttr, attribute.String(AttrOutcome, NormalizeOutcome(outcome))))
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(kindAttr))

	if candidates >= 0 {
		m.candidates.Record(ctx, int64(candidates), metric.WithAttributes(kindAttr))
	}
}
