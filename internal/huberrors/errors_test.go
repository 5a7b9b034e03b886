package huberrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"not found", NewNotFoundError("profile", ""), ErrNotFound},
		{"validation", NewValidationError("k", "k must be positive"), ErrValidation},
		{"issues", NewIssuesError("invalid taste vector", []Issue{{Field: "Café", Reason: "missing"}}), ErrValidation},
		{"limit", NewLimitExceededError("k too large"), ErrLimitExceeded},
		{"conflict", NewConflictError("profile changed"), ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.target)
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	t.Run("lists every issue", func(t *testing.T) {
		err := NewIssuesError("invalid taste vector", []Issue{
			{Field: "Café", Reason: "missing"},
			{Field: "Dulces", Value: 1.5, Reason: "out_of_range"},
		})

		assert.Equal(t, "invalid taste vector (Café: missing; Dulces: out_of_range)", err.Error())
	})

	t.Run("falls back to field name", func(t *testing.T) {
		assert.Equal(t, "validation failed for field: k", NewValidationError("k", "").Error())
	})

	t.Run("issues are reachable through errors.As", func(t *testing.T) {
		var target *ValidationError

		err := fmt.Errorf("onboard: %w", NewIssuesError("", []Issue{{Field: "Sin", Reason: "not_numeric"}}))
		assert.True(t, errors.As(err, &target))
		assert.Len(t, target.Issues, 1)
		assert.Equal(t, "Sin", target.Issues[0].Field)
	})
}
