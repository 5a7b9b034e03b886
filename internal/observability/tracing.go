package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/turri/tastehub"

// newTraceExporter builds the span exporter named by OTEL_TRACES_EXPORTER.
// The OTLP exporter reads OTEL_EXPORTER_OTLP_ENDPOINT from the environment.
func newTraceExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	switch name {
	case ExporterOTLP:
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("create OTLP HTTP trace exporter: %w", err)
		}

		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}

		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported traces exporter %q", name)
	}
}

// StartOracleSpan opens a client span named "oracle.<oracle>" around one model call.
// It uses the global tracer provider, which is a no-op until tracing is configured.
func StartOracleSpan(ctx context.Context, oracle string) (context.Context, trace.Span) {
	name := NormalizeOracle(oracle)

	return otel.Tracer(tracerName).Start(ctx, "oracle."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(AttrOracle, name)),
	)
}

// EndSpan marks span as failed when err is set, then ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}
