package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/turri/tastehub/internal/api/response"
	"github.com/turri/tastehub/internal/api/validation"
	"github.com/turri/tastehub/internal/jobs"
	"github.com/turri/tastehub/internal/models"
)

// ProfileRefresher runs a batch refresh synchronously.
type ProfileRefresher interface {
	Refresh(ctx context.Context, source models.Source, from time.Time) (models.RefreshResult, error)
}

// AdminHandler handles the maintenance endpoints.
type AdminHandler struct {
	refresher ProfileRefresher
	inserter  jobs.JobInserter
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(refresher ProfileRefresher, inserter jobs.JobInserter) *AdminHandler {
	return &AdminHandler{refresher: refresher, inserter: inserter}
}

// RefreshQuery is the query string of POST /v1/admin/profiles/refresh.
type RefreshQuery struct {
	Source   string     `form:"source"    validate:"required,oneof=purchase_history web_analytics"`
	FromDate *time.Time `form:"from_date" validate:"required"`
	Async    bool       `form:"async"`
}

// RefreshProfiles handles POST /v1/admin/profiles/refresh
// @Summary Refresh profiles from a purchase history or web analytics window
// @Description Runs synchronously and returns the tally, or enqueues a job when async=true
// @Tags Admin
// @Param source query string true "purchase_history or web_analytics"
// @Param from_date query string true "Window start, YYYY-MM-DD"
// @Param async query bool false "Enqueue instead of running inline"
// @Success 200 {object} models.RefreshResult
// @Success 202 {object} jobs.Enqueued
// @Security BearerAuth
// @Router /v1/admin/profiles/refresh [post]
func (h *AdminHandler) RefreshProfiles(w http.ResponseWriter, r *http.Request) {
	var q RefreshQuery
	if err := validation.DecodeQueryParams(r, &q); err != nil {
		response.RespondBadRequest(w, "from_date must be YYYY-MM-DD or RFC3339")

		return
	}

	if err := validation.ValidateStruct(&q); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	source := models.Source(q.Source)

	if q.Async {
		if h.inserter == nil {
			response.RespondServiceUnavailable(w, "Background jobs are not configured")

			return
		}

		enq, err := h.inserter.InsertProfileRefresh(r.Context(), source, *q.FromDate)
		if err != nil {
			respondServiceError(w, r, err)

			return
		}

		response.RespondJSON(w, http.StatusAccepted, enq)

		return
	}

	result, err := h.refresher.Refresh(r.Context(), source, *q.FromDate)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// RefreshCatalog handles POST /v1/admin/catalog/refresh
func (h *AdminHandler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if h.inserter == nil {
		response.RespondServiceUnavailable(w, "Background jobs are not configured")

		return
	}

	enq, err := h.inserter.InsertCatalogRefresh(r.Context())
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusAccepted, enq)
}
