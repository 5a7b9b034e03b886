package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turri/tastehub/internal/api/handlers"
	"github.com/turri/tastehub/internal/models"
	"github.com/turri/tastehub/internal/service"
)

type stubProfiles struct{}

func (stubProfiles) Onboard(_ context.Context, in service.OnboardInput) (*models.CustomerProfile, error) {
	return &models.CustomerProfile{CustomerID: in.CustomerID, IsOnboarded: true, Taste: in.Taste}, nil
}

func (stubProfiles) ApplySignal(context.Context, models.Signal) (*models.CustomerProfile, error) {
	return &models.CustomerProfile{}, nil
}

func (stubProfiles) Get(_ context.Context, customerID int64) (*models.CustomerProfile, error) {
	return &models.CustomerProfile{CustomerID: customerID, Taste: models.ZeroTaste()}, nil
}

func (stubProfiles) IsOnboarded(context.Context, int64) (bool, error) { return true, nil }

func (stubProfiles) ProfilesOfProducer(context.Context, int64) ([]models.CustomerProfile, error) {
	return []models.CustomerProfile{}, nil
}

type stubRecommendations struct{}

func (stubRecommendations) RecommendProductsForCustomer(context.Context, int64, int) ([]models.ProductRecommendation, error) {
	return []models.ProductRecommendation{}, nil
}

func (stubRecommendations) RecommendProducersForCustomer(context.Context, int64, int) ([]models.ProducerRecommendation, error) {
	return []models.ProducerRecommendation{}, nil
}

func (stubRecommendations) MaxK() int { return 50 }

type stubRefresher struct{}

func (stubRefresher) Refresh(context.Context, models.Source, time.Time) (models.RefreshResult, error) {
	return models.RefreshResult{}, nil
}

func newTestRouter(maxBody int64) http.Handler {
	return NewRouter(RouterParams{
		APIKey:              "secret",
		CORSAllowedOrigins:  []string{"https://shop.example"},
		MaxRequestBodyBytes: maxBody,
		Health:              handlers.NewHealthHandler(nil),
		Profiles:            handlers.NewProfilesHandler(stubProfiles{}),
		Recommendations:     handlers.NewRecommendationsHandler(stubRecommendations{}),
		Admin:               handlers.NewAdminHandler(stubRefresher{}, nil),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	})
}

func TestRouter(t *testing.T) {
	router := newTestRouter(1 << 20)

	do := func(method, path, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		return rec
	}

	t.Run("health is public", func(t *testing.T) {
		rec := do(http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("metrics is public", func(t *testing.T) {
		rec := do(http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "# metrics", rec.Body.String())
	})

	t.Run("v1 requires the key", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/v1/customers/1/profile", "").Code)
		assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/v1/customers/1/profile", "Bearer nope").Code)
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/v1/customers/1/profile", "Bearer secret").Code)
	})

	t.Run("routes resolve", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/v1/customers/1/onboarded", "Bearer secret").Code)
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/v1/customers/1/recommendations/producers?k=3", "Bearer secret").Code)
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/v1/producers/4/customer-profiles", "Bearer secret").Code)
		assert.Equal(t, http.StatusServiceUnavailable, do(http.MethodPost, "/v1/admin/catalog/refresh", "Bearer secret").Code)
		assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/v1/nothing-here", "Bearer secret").Code)
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/v1/customers/1/profile", nil)
		req.Header.Set("Origin", "https://shop.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRouter_BodyLimit(t *testing.T) {
	router := newTestRouter(32)

	body := `{"description":"` + strings.Repeat("x", 64) + `","taste":{}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/customers/1/onboarding", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
