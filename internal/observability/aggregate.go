package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all tastehub metric collectors. When metrics are disabled, all fields are nil
// and the components receiving them skip recording.
type Metrics struct {
	Profiles        ProfileMetrics
	Oracles         OracleMetrics
	Recommendations RecommendationMetrics
	Refresh         RefreshMetrics
	Cache           CacheMetrics
	API             APIMetrics
	Jobs            JobMetrics
}

// NewMetrics creates every collector from the given meter. queues names the River queues whose depth is reported.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter, queues ...string) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	profiles, err := NewProfileMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("profile metrics: %w", err)
	}

	oracles, err := NewOracleMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("oracle metrics: %w", err)
	}

	recommendations, err := NewRecommendationMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("recommendation metrics: %w", err)
	}

	refresh, err := NewRefreshMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("refresh metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	api, err := NewAPIMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}

	jobs, err := NewJobMetrics(meter, queues...)
	if err != nil {
		return nil, fmt.Errorf("job metrics: %w", err)
	}

	return &Metrics{
		Profiles:        profiles,
		Oracles:         oracles,
		Recommendations: recommendations,
		Refresh:         refresh,
		Cache:           cache,
		API:             api,
		Jobs:            jobs,
	}, nil
}
