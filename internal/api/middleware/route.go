package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RouteLabel tags the otelhttp span and request metrics with the matched chi route pattern
// (e.g. /v1/customers/{customerID}/profile) so ids do not end up in metric labels.
// Mount it inside the chi router; otelhttp must wrap the router.
func RouteLabel(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			return
		}

		pattern := rctx.RoutePattern()
		if pattern == "" {
			return
		}

		route := attribute.String("http.route", pattern)

		if labeler, ok := otelhttp.LabelerFromContext(r.Context()); ok {
			labeler.Add(route)
		}

		span := trace.SpanFromContext(r.Context())
		span.SetAttributes(route)
		span.SetName(r.Method + " " + pattern)
	})
}
