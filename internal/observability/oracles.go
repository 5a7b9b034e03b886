package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OracleMetrics records calls to the embedding and text models.
type OracleMetrics interface {
	RecordCall(ctx context.Context, oracle, outcome string, duration time.Duration)
	RecordBreakerState(ctx context.Context, oracle, state string)
}

type oracleMetrics struct {
	calls         metric.Int64Counter
	duration      metric.Float64Histogram
	breakerStates metric.Int64Counter
}

// NewOracleMetrics creates OracleMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewOracleMetrics(meter metric.Meter) (OracleMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	calls, err := meter.Int64Counter(
		MetricNameOracleCalls,
		metric.WithDescription("Oracle calls by oracle (embed, fuse, summarize) and outcome (ok, timeout, unavailable, error)"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oracle calls counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameOracleDuration,
		metric.WithDescription("Oracle call duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oracle duration histogram: %w", err)
	}

	breakerStates, err := meter.Int64Counter(
		MetricNameBreakerStateChanges,
		metric.WithDescription("Circuit breaker transitions by oracle and new state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create breaker state counter: %w", err)
	}

	return &oracleMetrics{calls: calls, duration: duration, breakerStates: breakerStates}, nil
}

func (m *oracleMetrics) RecordCall(ctx context.Context, oracle, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrOracle, NormalizeOracle(oracle)),
		attribute.String(AttrOutcome, NormalizeOutcome(outcome)),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
}

func (m *oracleMetrics) RecordBreakerState(ctx context.Context, oracle, state string) {
	m.breakerStates.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrOracle, NormalizeOracle(oracle)),
		attribute.String(AttrState, state),
	))
}
