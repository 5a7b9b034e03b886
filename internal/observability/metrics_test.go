package observability

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/turri/tastehub/internal/config"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(string) string
		input    string
		expected string
	}{
		{"known source", NormalizeSource, "purchase_history", "purchase_history"},
		{"onboarding source", NormalizeSource, "onboarding", "onboarding"},
		{"unknown source", NormalizeSource, "newsletter", "unknown"},
		{"empty source", NormalizeSource, "", "unknown"},
		{"known outcome", NormalizeOutcome, "conflict", "conflict"},
		{"unknown outcome", NormalizeOutcome, "exploded", "other"},
		{"known oracle", NormalizeOracle, "fuse", "fuse"},
		{"unknown oracle", NormalizeOracle, "rerank", "unknown"},
		{"known kind", NormalizeKind, "producer", "producer"},
		{"unknown kind", NormalizeKind, "category", "unknown"},
		{"known cache", NormalizeCacheName, "embedding", "embedding"},
		{"unknown cache", NormalizeCacheName, "webhook_list", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.fn(tt.input))
		})
	}
}

func TestNewMetrics_NilMeter(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)

			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}

			return total
		}
	}

	return 0
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(provider.Meter("test"), "profiles")
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	m.Profiles.RecordSignal(ctx, "chatbot", "fused")
	m.Profiles.RecordConflict(ctx, "web_analytics")
	m.Oracles.RecordCall(ctx, "embed", "ok", 20*time.Millisecond)
	m.Recommendations.RecordRecommendation(ctx, "product", "ok", 7, time.Millisecond)
	m.Refresh.RecordRefresh(ctx, "purchase_history", 3, 1, time.Second)
	m.Refresh.RecordCatalogVectors(ctx, "product", "taste", 12)
	m.Cache.RecordHit(ctx, CacheEmbedding)
	m.Cache.RecordMiss(ctx, CacheProductSlug)
	m.API.RecordRequestBodyTooLarge(ctx)
	m.API.RecordRateLimited(ctx)
	m.API.RecordRateLimited(ctx)
	m.Jobs.SetQueueDepth("profiles", 5)
	m.Jobs.SetQueueDepth("unregistered", 9)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(1), sumOf(t, rm, MetricNameProfileSignals))
	assert.Equal(t, int64(1), sumOf(t, rm, MetricNameProfileConflicts))
	assert.Equal(t, int64(1), sumOf(t, rm, MetricNameOracleCalls))
	assert.Equal(t, int64(1), sumOf(t, rm, MetricNameRecommendations))
	assert.Equal(t, int64(4), sumOf(t, rm, MetricNameRefreshCustomers))
	assert.Equal(t, int64(12), sumOf(t, rm, MetricNameCatalogVectors))
	assert.Equal(t, int64(1), sumOf(t, rm, MetricNameCacheHits))
	assert.Equal(t, int64(1), sumOf(t, rm, MetricNameCacheMisses))
	assert.Equal(t, int64(1), sumOf(t, rm, MetricNameRequestBodyTooLarge))
	assert.Equal(t, int64(2), sumOf(t, rm, MetricNameRateLimited))
	assert.Equal(t, int64(5), gaugeOf(t, rm, MetricNameRiverQueueDepth))
}

func gaugeOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok, "metric %s is not an int64 gauge", name)
			require.Len(t, gauge.DataPoints, 1)

			return gauge.DataPoints[0].Value
		}
	}

	return -1
}

func TestNewMeterProvider(t *testing.T) {
	t.Run("none disables metrics", func(t *testing.T) {
		mp, err := NewMeterProvider(context.Background(), &config.Config{OtelMetricsExporter: ExporterNone})
		require.NoError(t, err)
		assert.Nil(t, mp)
	})

	t.Run("prometheus exposes a scrape handler", func(t *testing.T) {
		mp, err := NewMeterProvider(context.Background(), &config.Config{
			OtelMetricsExporter: ExporterPrometheus,
			OtelServiceName:     "tastehub-test",
		})
		require.NoError(t, err)
		require.NotNil(t, mp)
		assert.NotNil(t, mp.Handler)
		assert.NoError(t, ShutdownMeterProvider(context.Background(), mp))
	})

	t.Run("unknown exporter is an error", func(t *testing.T) {
		_, err := NewMeterProvider(context.Background(), &config.Config{OtelMetricsExporter: "statsd"})
		assert.Error(t, err)
	})
}

func TestParseTraceIDRatio(t *testing.T) {
	assert.InDelta(t, 0.25, parseTraceIDRatio("0.25"), 1e-9)
	assert.InDelta(t, defaultTraceIDRatio, parseTraceIDRatio(""), 1e-9)
	assert.InDelta(t, defaultTraceIDRatio, parseTraceIDRatio("2"), 1e-9)
	assert.InDelta(t, defaultTraceIDRatio, parseTraceIDRatio("abc"), 1e-9)
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name, arg string
		want      sdktrace.Sampler
	}{
		{"always_on", "", sdktrace.AlwaysSample()},
		{"always_off", "", sdktrace.NeverSample()},
		{"traceidratio", "0.1", sdktrace.TraceIDRatioBased(0.1)},
		{"traceidratio", "bogus", sdktrace.TraceIDRatioBased(defaultTraceIDRatio)},
		{"parentbased_traceidratio", "0.5", sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.5))},
		{"parentbased_always_off", "", sdktrace.ParentBased(sdktrace.NeverSample())},
		{"parentbased_always_on", "", sdktrace.ParentBased(sdktrace.AlwaysSample())},
		{"", "", sdktrace.ParentBased(sdktrace.AlwaysSample())},
		{"jaeger_remote", "", sdktrace.ParentBased(sdktrace.AlwaysSample())},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.arg, func(t *testing.T) {
			assert.Equal(t, tt.want.Description(), newSampler(tt.name, tt.arg).Description())
		})
	}
}

func TestOracleSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)

	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	_, ok := StartOracleSpan(context.Background(), "embed")
	EndSpan(ok, nil)

	_, failed := StartOracleSpan(context.Background(), "fuse")
	EndSpan(failed, errors.New("model overloaded"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "oracle.embed", spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "oracle.fuse", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "model overloaded", spans[1].Status().Description)
}

func TestTraceContextHandler_AddsRequestID(t *testing.T) {
	var buf strings.Builder

	logger := slog.New(NewTraceContextHandler(slog.NewJSONHandler(&buf, nil)))
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")

	logger.InfoContext(ctx, "hello")

	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}
