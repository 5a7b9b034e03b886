package observability

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// JobMetrics exposes River queue depth per queue.
type JobMetrics interface {
	SetQueueDepth(queue string, depth int)
}

type jobMetrics struct {
	depths map[string]*atomic.Int64
	gauge  metric.Int64ObservableGauge
}

// NewJobMetrics registers a depth gauge for each queue. Returns (nil, nil) when meter is nil (metrics disabled).
func NewJobMetrics(meter metric.Meter, queues ...string) (JobMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	m := &jobMetrics{depths: make(map[string]*atomic.Int64, len(queues))}
	for _, q := range queues {
		m.depths[q] = &atomic.Int64{}
	}

	gauge, err := meter.Int64ObservableGauge(
		MetricNameRiverQueueDepth,
		metric.WithDescription("Current River job queue depth (available, retryable, scheduled) per queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for q, depth := range m.depths {
				o.Observe(depth.Load(), metric.WithAttributes(attribute.String(AttrQueue, q)))
			}

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create river queue depth gauge: %w", err)
	}

	m.gauge = gauge

	return m, nil
}

// SetQueueDepth stores the latest depth; unknown queues are ignored.
func (m *jobMetrics) SetQueueDepth(queue string, depth int) {
	if d, ok := m.depths[queue]; ok {
		d.Store(int64(depth))
	}
}
