package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/turri/tastehub/internal/api/response"
	"github.com/turri/tastehub/internal/api/validation"
	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/service"
)

// respondServiceError maps a service error to its problem response.
// Only unexpected errors are logged; their text never reaches the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, huberrors.ErrValidation):
		validation.RespondValidationError(w, err)
	case errors.Is(err, huberrors.ErrNotFound):
		response.RespondNotFound(w, notFoundDetail(err))
	case errors.Is(err, huberrors.ErrConflict):
		response.RespondConflict(w, "The profile kept changing concurrently; retry the request")
	case service.IsOracleFailure(err):
		slog.WarnContext(r.Context(), "oracle unavailable", "path", r.URL.Path, "error", err)
		response.RespondServiceUnavailable(w, "The language model service is unavailable; retry later")
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.RespondInternalServerError(w, "An unexpected error occurred")
	}
}

func notFoundDetail(err error) string {
	switch {
	case errors.Is(err, service.ErrNotOnboarded):
		return "Customer has not finished onboarding"
	case errors.Is(err, service.ErrProfileNotFound):
		return "Customer profile not found"
	default:
		var nf *huberrors.NotFoundError
		if errors.As(err, &nf) {
			return nf.Error()
		}

		return "Resource not found"
	}
}

// pathID parses a positive integer path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}

	return id, nil
}

// decodeJSON decodes a request body, rejecting unknown fields and trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}

	if dec.More() {
		return errors.New("decode body: unexpected data after JSON object")
	}

	return nil
}
