// Package observability provides OpenTelemetry metrics, tracing and log correlation for tastehub.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameProfileSignals          = "tastehub_profile_signals_total"
	MetricNameProfileConflicts        = "tastehub_profile_version_conflicts_total"
	MetricNameOracleCalls             = "tastehub_oracle_calls_total"
	MetricNameOracleDuration          = "tastehub_oracle_call_duration_seconds"
	MetricNameBreakerStateChanges     = "tastehub_oracle_breaker_state_changes_total"
	MetricNameRecommendations         = "tastehub_recommendations_total"
	MetricNameRecommendationDuration  = "tastehub_recommendation_duration_seconds"
	MetricNameRecommendationCandidate = "tastehub_recommendation_candidates"
	MetricNameRefreshCustomers        = "tastehub_refresh_customers_total"
	MetricNameRefreshDuration         = "tastehub_refresh_duration_seconds"
	MetricNameCatalogVectors          = "tastehub_catalog_vectors_written_total"
	MetricNameRiverQueueDepth         = "tastehub_river_queue_depth"
	MetricNameCacheHits               = "tastehub_cache_hits_total"
	MetricNameCacheMisses             = "tastehub_cache_misses_total"
	MetricNameRequestBodyTooLarge     = "tastehub_request_body_too_large_total"
	MetricNameRateLimited             = "tastehub_rate_limited_requests_total"
)

// Attribute keys.
const (
	AttrSource  = "source"
	AttrOutcome = "outcome"
	AttrOracle  = "oracle"
	AttrKind    = "kind"
	AttrState   = "state"
	AttrVector  = "vector"
	AttrQueue   = "queue"
)

// AllowedSources for source labels.
var AllowedSources = map[string]bool{
	"chatbot":          true,
	"purchase_history": true,
	"web_analytics":    true,
	"onboarding":       true,
}

// AllowedOutcomes for profile and recommendation outcome labels.
var AllowedOutcomes = map[string]bool{
	"created":     true,
	"fused":       true,
	"replaced":    true,
	"invalid":     true,
	"conflict":    true,
	"oracle":      true,
	"not_found":   true,
	"error":       true,
	"success":     true,
	"failure":     true,
	"skipped":     true,
	"ok":          true,
	"timeout":     true,
	"unavailable": true,
}

// AllowedOracles for oracle labels.
var AllowedOracles = map[string]bool{
	"embed":     true,
	"fuse":      true,
	"summarize": true,
}

// AllowedKinds for catalog entity labels.
var AllowedKinds = map[string]bool{
	"product":  true,
	"producer": true,
}

// AllowedCacheNames for cache labels.
var AllowedCacheNames = map[string]bool{
	CacheEmbedding:    true,
	CacheProductSlug:  true,
	CacheProducerSlug: true,
	CacheCategorySlug: true,
}

// normalize returns value if allowed, otherwise fallback.
func normalize(value string, allowed map[string]bool, fallback string) string {
	if allowed[value] {
		return value
	}

	return fallback
}

// NormalizeSource returns source if allowed, otherwise "unknown".
func NormalizeSource(source string) string {
	return normalize(source, AllowedSources, "unknown")
}

// NormalizeOutcome returns outcome if allowed, otherwise "other".
func NormalizeOutcome(outcome string) string {
	return normalize(outcome, AllowedOutcomes, "other")
}

// NormalizeOracle returns oracle if allowed, otherwise "unknown".
func NormalizeOracle(oracle string) string {
	return normalize(oracle, AllowedOracles, "unknown")
}

// NormalizeKind returns kind if allowed, otherwise "unknown".
func NormalizeKind(kind string) string {
	return normalize(kind, AllowedKinds, "unknown")
}

// NormalizeCacheName returns name if allowed, otherwise "other".
func NormalizeCacheName(name string) string {
	return normalize(name, AllowedCacheNames, "other")
}
