// Package handlers implements the HTTP handlers of the API.
package handlers

import (
	"context"
	"net/http"

	"github.com/turri/tastehub/internal/api/response"
	"github.com/turri/tastehub/internal/api/validation"
	"github.com/turri/tastehub/internal/models"
	"github.com/turri/tastehub/internal/service"
)

// ProfilesService defines the interface for profile business logic.
type ProfilesService interface {
	Onboard(ctx context.Context, in service.OnboardInput) (*models.CustomerProfile, error)
	ApplySignal(ctx context.Context, sig models.Signal) (*models.CustomerProfile, error)
	Get(ctx context.Context, customerID int64) (*models.CustomerProfile, error)
	IsOnboarded(ctx context.Context, customerID int64) (bool, error)
	ProfilesOfProducer(ctx context.Context, producerID int64) ([]models.CustomerProfile, error)
}

// ProfilesHandler handles HTTP requests for customer profiles.
type ProfilesHandler struct {
	service ProfilesService
}

// NewProfilesHandler creates a new profiles handler.
func NewProfilesHandler(service ProfilesService) *ProfilesHandler {
	return &ProfilesHandler{service: service}
}

// Onboard handles POST /v1/customers/{customerID}/onboarding
// @Summary Store the profile built by the onboarding conversation
// @Description Creates or overwrites the profile and marks the customer onboarded
// @Tags Profiles
// @Accept json
// @Produce json
// @Success 201 {object} models.CustomerProfile
// @Failure 400 {object} response.ProblemDetails
// @Failure 503 {object} response.ProblemDetails "Embedding oracle unavailable"
// @Security BearerAuth
// @Router /v1/customers/{customerID}/onboarding [post]
func (h *ProfilesHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		response.RespondBadRequest(w, err.Error())

		return
	}

	var req models.OnboardingRequest
	if err := decodeJSON(r, &req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	vec, err := models.ParseTasteVector(req.Taste)
	if err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	profile, err := h.service.Onboard(r.Context(), service.OnboardInput{
		CustomerID:  customerID,
		Description: req.Description,
		Taste:       vec,
	})
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusCreated, profile)
}

// Signal handles POST /v1/customers/{customerID}/signals
// @Summary Fuse a behavioural signal into the profile
// @Tags Profiles
// @Accept json
// @Produce json
// @Success 200 {object} models.CustomerProfile
// @Failure 400 {object} response.ProblemDetails
// @Failure 409 {object} response.ProblemDetails "Profile kept changing concurrently"
// @Failure 503 {object} response.ProblemDetails "Oracle unavailable"
// @Security BearerAuth
// @Router /v1/customers/{customerID}/signals [post]
func (h *ProfilesHandler) Signal(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		response.RespondBadRequest(w, err.Error())

		return
	}

	var req models.SignalRequest
	if err := decodeJSON(r, &req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	vec, err := models.ParseTasteVector(req.Taste)
	if err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	profile, err := h.service.ApplySignal(r.Context(), models.Signal{
		CustomerID:  customerID,
		Description: req.Description,
		Taste:       vec,
		Source:      models.Source(req.Source),
	})
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, profile)
}

// Get handles GET /v1/customers/{customerID}/profile
func (h *ProfilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		response.RespondBadRequest(w, err.Error())

		return
	}

	profile, err := h.service.Get(r.Context(), customerID)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, profile)
}

// Onboarded handles GET /v1/customers/{customerID}/onboarded
func (h *ProfilesHandler) Onboarded(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		response.RespondBadRequest(w, err.Error())

		return
	}

	ok, err := h.service.IsOnboarded(r.Context(), customerID)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, models.OnboardedResponse{Onboarded: ok})
}

// ProducerCustomers handles GET /v1/producers/{producerID}/customer-profiles
func (h *ProfilesHandler) ProducerCustomers(w http.ResponseWriter, r *http.Request) {
	producerID, err := pathID(r, "producerID")
	if err != nil {
		response.RespondBadRequest(w, err.Error())

		return
	}

	profiles, err := h.service.ProfilesOfProducer(r.Context(), producerID)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondList(w, profiles)
}
