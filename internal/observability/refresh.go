package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RefreshMetrics records batch refreshes and catalog maintenance.
type RefreshMetrics interface {
	RecordRefresh(ctx context.Context, source string, success, failures int, duration time.Duration)
	RecordCatalogVectors(ctx context.Context, kind, vector string, count int)
}

type refreshMetrics struct {
	customers      metric.Int64Counter
	duration       metric.Float64Histogram
	catalogVectors metric.Int64Counter
}

// NewRefreshMetrics creates RefreshMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewRefreshMetrics(meter metric.Meter) (RefreshMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	customers, err := meter.Int64Counter(
		MetricNameRefreshCustomers,
		metric.WithDescription("Customers processed by batch refreshes, by source and outcome (success, failure)"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create refresh customers counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameRefreshDuration,
		metric.WithDescription("Batch refresh duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create refresh duration histogram: %w", err)
	}

	catalogVectors, err := meter.Int64Counter(
		MetricNameCatalogVectors,
		metric.WithDescription("Catalog vectors written by kind (product, producer) and vector (taste, embedding)"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create catalog vectors counter: %w", err)
	}

	return &refreshMetrics{customers: customers, duration: duration, catalogVectors: catalogVectors}, nil
}

func (m *refreshMetrics) RecordRefresh(ctx context.Context, source string, success, failures int, duration time.Duration) {
	src := attribute.String(AttrSource, NormalizeSource(source))

	m.customers.Add(ctx, int64(success), metric.WithAttributes(src, attribute.String(AttrOutcome, "success")))
	m.customers.Add(ctx, int64(failures), metric.WithAttributes(src, attribute.String(AttrOutcome, "failure")))
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(src))
}

func (m *refreshMetrics) RecordCatalogVectors(ctx context.Context, kind, vector string, count int) {
	if vector != "taste" && vector != "embedding" {
		vector = "other"
	}

	m.catalogVectors.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String(AttrKind, NormalizeKind(kind)),
		attribute.String(AttrVector, vector),
	))
}
