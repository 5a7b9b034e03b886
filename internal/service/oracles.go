package service

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Embedder turns texts into fixed-dimension vectors, one per text in input order.
// Implemented by provider-specific clients (e.g. OpenAI, Google Gemini).
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TextFuser merges a new behaviour narrative into a stored one, keeping about retention of the old.
type TextFuser interface {
	FuseText(ctx context.Context, old, incoming string, retention float64) (string, error)
}

// Summarizer answers raw activity text under an instruction.
type Summarizer interface {
	Summarize(ctx context.Context, instruction, text string) (string, error)
}

// Oracle is a provider that implements every model capability.
type Oracle interface {
	Embedder
	TextFuser
	Summarizer
}

// Sentinel errors for oracle calls (used by handlers for status mapping).
var (
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrEmptyFusedText    = errors.New("text fusion returned empty text")
)

// UnavailableOracle is wired when no model provider is configured. Every call fails with ErrOracleUnavailable.
type UnavailableOracle struct{}

// Embed implements Embedder.
func (UnavailableOracle) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrOracleUnavailable
}

// FuseText implements TextFuser.
func (UnavailableOracle) FuseText(context.Context, string, string, float64) (string, error) {
	return "", ErrOracleUnavailable
}

// Summarize implements Summarizer.
func (UnavailableOracle) Summarize(context.Context, string, string) (string, error) {
	return "", ErrOracleUnavailable
}

// OracleError marks a failure of a model call so it can be told apart from storage errors that
// share a deadline with it.
type OracleError struct {
	Op  string
	Err error
}

func (e *OracleError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// embedOne embeds a single text under timeout (0 means no timeout).
func embedOne(ctx context.Context, e Embedder, text string, timeout time.Duration) ([]float32, error) {
	ctx, cancel := withOracleTimeout(ctx, timeout)
	defer cancel()

	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, &OracleError{Op: "embed", Err: err}
	}

	if len(out) != 1 {
		return nil, fmt.Errorf("embed: got %d vectors for 1 text", len(out))
	}

	return out[0], nil
}

func withOracleTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

// IsOracleFailure reports whether err came from an unavailable or timed-out oracle.
// A deadline hit by anything other than a model call is not an oracle failure.
func IsOracleFailure(err error) bool {
	if errors.Is(err, ErrOracleUnavailable) {
		return true
	}

	var oe *OracleError

	return errors.As(err, &oe) && errors.Is(oe.Err, context.DeadlineExceeded)
}
