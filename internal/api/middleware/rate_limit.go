package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/turri/tastehub/internal/api/response"
)

// RateLimitedRecorder records requests turned away by RateLimit. Pass nil when metrics are disabled.
type RateLimitedRecorder interface {
	RecordRateLimited(ctx context.Context)
}

// RateLimit allows requests per window from each client IP and answers 429 problem+json beyond that.
// requests <= 0 or window <= 0 disables the limit.
func RateLimit(requests int, window time.Duration, recorder RateLimitedRecorder) func(http.Handler) http.Handler {
	if requests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	detail := fmt.Sprintf("more than %d requests in %s; retry later", requests, window)

	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if recorder != nil {
				recorder.RecordRateLimited(r.Context())
			}

			response.RespondError(w, http.StatusTooManyRequests, "Too Many Requests", detail)
		}),
	)
}
