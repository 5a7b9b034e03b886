package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/turri/tastehub/internal/observability"
)

// Oracle names used for breakers, logs and metrics.
const (
	oracleEmbed     = "embed"
	oracleFuse      = "fuse"
	oracleSummarize = "summarize"
)

// BreakerSettings configures the oracle circuit breakers.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long an open breaker fails fast before letting a trial call through.
	OpenTimeout time.Duration
	Metrics     observability.OracleMetrics
	Logger      *slog.Logger
}

func newBreaker[T any](oracle string, s BreakerSettings) *gobreaker.CircuitBreaker[T] {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        "oracle-" + oracle,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up is not an oracle failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("oracle breaker state change", "breaker", name, "from", from.String(), "to", to.String())

			if s.Metrics != nil {
				s.Metrics.RecordBreakerState(context.Background(), oracle, to.String())
			}
		},
	})
}

// callOutcome classifies an oracle error for metrics.
func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrOracleUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func execute[T any](
	ctx context.Context,
	cb *gobreaker.CircuitBreaker[T],
	oracle string,
	metrics observability.OracleMetrics,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	ctx, span := observability.StartOracleSpan(ctx, oracle)
	start := time.Now()

	result, err := cb.Execute(func() (T, error) { return fn(ctx) })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s: %w", ErrOracleUnavailable, oracle, err)
	}

	if metrics != nil {
		metrics.RecordCall(ctx, oracle, callOutcome(err), time.Since(start))
	}

	observability.EndSpan(span, err)

	return result, err
}

// BreakerEmbedder fails fast with ErrOracleUnavailable while the embedding oracle keeps failing.
type BreakerEmbedder struct {
	inner   Embedder
	cb      *gobreaker.CircuitBreaker[[][]float32]
	metrics observability.OracleMetrics
}

// NewBreakerEmbedder wraps inner with a circuit breaker.
func NewBreakerEmbedder(inner Embedder, s BreakerSettings) *BreakerEmbedder {
	return &BreakerEmbedder{inner: inner, cb: newBreaker[[][]float32](oracleEmbed, s), metrics: s.Metrics}
}

// Embed implements Embedder.
func (b *BreakerEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return execute(ctx, b.cb, oracleEmbed, b.metrics, func(ctx context.Context) ([][]float32, error) {
		return b.inner.Embed(ctx, texts)
	})
}

// BreakerTextFuser fails fast with ErrOracleUnavailable while the fusion oracle keeps failing.
type BreakerTextFuser struct {
	inner   TextFuser
	cb      *gobreaker.CircuitBreaker[string]
	metrics observability.OracleMetrics
}

// NewBreakerTextFuser wraps inner with a circuit breaker.
func NewBreakerTextFuser(inner TextFuser, s BreakerSettings) *BreakerTextFuser {
	return &BreakerTextFuser{inner: inner, cb: newBreaker[string](oracleFuse, s), metrics: s.Metrics}
}

// FuseText implements TextFuser.
func (b *BreakerTextFuser) FuseText(ctx context.Context, old, incoming string, retention float64) (string, error) {
	return execute(ctx, b.cb, oracleFuse, b.metrics, func(ctx context.Context) (string, error) {
		return b.inner.FuseText(ctx, old, incoming, retention)
	})
}

// BreakerSummarizer fails fast with ErrOracleUnavailable while the summary oracle keeps failing.
type BreakerSummarizer struct {
	inner   Summarizer
	cb      *gobreaker.CircuitBreaker[string]
	metrics observability.OracleMetrics
}

// NewBreakerSummarizer wraps inner with a circuit breaker.
func NewBreakerSummarizer(inner Summarizer, s BreakerSettings) *BreakerSummarizer {
	return &BreakerSummarizer{inner: inner, cb: newBreaker[string](oracleSummarize, s), metrics: s.Metrics}
}

// Summarize implements Summarizer.
func (b *BreakerSummarizer) Summarize(ctx context.Context, instruction, text string) (string, error) {
	return execute(ctx, b.cb, oracleSummarize, b.metrics, func(ctx context.Context) (string, error) {
		return b.inner.Summarize(ctx, instruction, text)
	})
}
