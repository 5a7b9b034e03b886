package handlers

import (
	"context"
	"net/http"

	"github.com/turri/tastehub/internal/api/response"
	"github.com/turri/tastehub/internal/api/validation"
	"github.com/turri/tastehub/internal/models"
)

const defaultRecommendationK = 10

// RecommendationsService defines the interface for ranking the catalog for a customer.
type RecommendationsService interface {
	RecommendProductsForCustomer(ctx context.Context, customerID int64, k int) ([]models.ProductRecommendation, error)
	RecommendProducersForCustomer(ctx context.Context, customerID int64, k int) ([]models.ProducerRecommendation, error)
	MaxK() int
}

// RecommendationsHandler handles HTTP requests for recommendations.
type RecommendationsHandler struct {
	service RecommendationsService
}

// NewRecommendationsHandler creates a new recommendations handler.
func NewRecommendationsHandler(service RecommendationsService) *RecommendationsHandler {
	return &RecommendationsHandler{service: service}
}

// RecommendationQuery is the query string of the recommendation endpoints. K defaults to 10.
type RecommendationQuery struct {
	K *int `form:"k"`
}

// parse returns customerID and k, or writes a 400 and returns ok=false.
func (h *RecommendationsHandler) parse(w http.ResponseWriter, r *http.Request) (customerID int64, k int, ok bool) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		response.RespondBadRequest(w, err.Error())

		return 0, 0, false
	}

	var q RecommendationQuery
	if err := validation.DecodeQueryParams(r, &q); err != nil {
		response.RespondBadRequest(w, "k must be an integer")

		return 0, 0, false
	}

	k = min(defaultRecommendationK, h.service.MaxK())
	if q.K != nil {
		k = *q.K
	}

	return customerID, k, true
}

// Products handles GET /v1/customers/{customerID}/recommendations/products
// @Summary Rank products for an onboarded customer
// @Tags Recommendations
// @Produce json
// @Param k query int false "Number of results (1..RECOMMEND_MAX_K, default 10)"
// @Failure 404 {object} response.ProblemDetails "No profile or not onboarded"
// @Security BearerAuth
// @Router /v1/customers/{customerID}/recommendations/products [get]
func (h *RecommendationsHandler) Products(w http.ResponseWriter, r *http.Request) {
	customerID, k, ok := h.parse(w, r)
	if !ok {
		return
	}

	recs, err := h.service.RecommendProductsForCustomer(r.Context(), customerID, k)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondList(w, recs)
}

// Producers handles GET /v1/customers/{customerID}/recommendations/producers
func (h *RecommendationsHandler) Producers(w http.ResponseWriter, r *http.Request) {
	customerID, k, ok := h.parse(w, r)
	if !ok {
		return
	}

	recs, err := h.service.RecommendProducersForCustomer(r.Context(), customerID, k)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondList(w, recs)
}
