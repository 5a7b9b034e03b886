package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ProfileMetrics records profile fusion outcomes.
type ProfileMetrics interface {
	RecordSignal(ctx context.Context, source, outcome string)
	RecordConflict(ctx context.Context, source string)
}

type profileMetrics struct {
	signals   metric.Int64Counter
	conflicts metric.Int64Counter
}

// NewProfileMetrics creates ProfileMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewProfileMetrics(meter metric.Meter) (ProfileMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	signals, err := meter.Int64Counter(
		MetricNameProfileSignals,
		metric.WithDescription("Profile writes by source (chatbot, purchase_history, web_analytics, onboarding) and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create profile signals counter: %w", err)
	}

	conflicts, err := meter.Int64Counter(
		MetricNameProfileConflicts,
		metric.WithDescription("Profile writes rejected because the stored version changed since it was read"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create profile conflicts counter: %w", err)
	}

	return &profileMetrics{signals: signals, conflicts: conflicts}, nil
}

func (m *profileMetrics) RecordSignal(ctx context.Context, source, outcome string) {
	m.signals.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrSource, NormalizeSource(source)),
		attribute.String(AttrOutcome, NormalizeOutcome(outcome)),
	))
}

func (m *profileMetrics) RecordConflict(ctx context.Context, source string) {
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrSource, NormalizeSource(source))))
}
