// Package api assembles the HTTP surface: router, middleware chain and handlers.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/turri/tastehub/internal/api/handlers"
	"github.com/turri/tastehub/internal/api/middleware"
)

// RouterParams holds what NewRouter wires. MetricsHandler, the recorders and the providers may be nil.
type RouterParams struct {
	APIKey              string
	CORSAllowedOrigins  []string
	RateLimitRequests   int
	RateLimitWindow     time.Duration
	MaxRequestBodyBytes int64

	Health          *handlers.HealthHandler
	Profiles        *handlers.ProfilesHandler
	Recommendations *handlers.RecommendationsHandler
	Admin           *handlers.AdminHandler
	MetricsHandler  http.Handler
	BodyTooLarge    middleware.RequestBodyTooLargeRecorder
	RateLimited     middleware.RateLimitedRecorder

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	ServiceName    string
}

// NewRouter builds the handler chain RequestID -> otelhttp(Logging(chi router)).
// /health and /metrics are public; /v1 requires the API key and is CORS-enabled and rate limited per IP.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RouteLabel)

	r.Get("/health", p.Health.Check)

	if p.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", p.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   p.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.Use(middleware.RateLimit(p.RateLimitRequests, p.RateLimitWindow, p.RateLimited))

		r.Use(middleware.MaxBody(p.MaxRequestBodyBytes, p.BodyTooLarge))
		r.Use(middleware.Auth(p.APIKey))

		r.Route("/customers/{customerID}", func(r chi.Router) {
			r.Post("/onboarding", p.Profiles.Onboard)
			r.Post("/signals", p.Profiles.Signal)
			r.Get("/profile", p.Profiles.Get)
			r.Get("/onboarded", p.Profiles.Onboarded)
			r.Get("/recommendations/products", p.Recommendations.Products)
			r.Get("/recommendations/producers", p.Recommendations.Producers)
		})

		r.Get("/producers/{producerID}/customer-profiles", p.Profiles.ProducerCustomers)

		r.Post("/admin/profiles/refresh", p.Admin.RefreshProfiles)
		r.Post("/admin/catalog/refresh", p.Admin.RefreshCatalog)
	})

	otelOpts := []otelhttp.Option{
		// Skip tracing and HTTP metrics for health checks and scrapes to reduce noise.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	}
	if p.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(p.MeterProvider))
	}

	if p.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(p.TracerProvider))
	}

	serviceName := p.ServiceName
	if serviceName == "" {
		serviceName = "tastehub"
	}

	// Logging runs inside otelhttp so access logs carry trace_id/span_id.
	handler := otelhttp.NewHandler(middleware.Logging(r), serviceName, otelOpts...)

	return middleware.RequestID(handler)
}
