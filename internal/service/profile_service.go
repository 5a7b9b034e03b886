package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/models"
	"github.com/turri/tastehub/internal/observability"
	"github.com/turri/tastehub/internal/taste"
)

const (
	defaultProfileUpdateMaxAttempts = 3
	onboardingSource                = "onboarding"
)

// ProfilesRepository is the profile store used by ProfileService.
type ProfilesRepository interface {
	GetProfile(ctx context.Context, customerID int64) (*models.CustomerProfile, error)
	ReplaceProfile(ctx context.Context, p *models.CustomerProfile) (*models.CustomerProfile, error)
	SaveProfile(ctx context.Context, p *models.CustomerProfile, expectedVersion int64) (*models.CustomerProfile, error)
	ProfilesByCustomerIDs(ctx context.Context, ids []int64) ([]models.CustomerProfile, error)
}

// ProducerProductsLister lists the products a producer owns.
type ProducerProductsLister interface {
	ProductIDsOfProducer(ctx context.Context, producerID int64) ([]int64, error)
}

// BuyersLister lists the customers who ordered any of the given products.
type BuyersLister interface {
	CustomersWhoOrdered(ctx context.Context, productIDs []int64) ([]int64, error)
}

// OnboardInput is the result of a completed onboarding conversation.
type OnboardInput struct {
	CustomerID  int64
	Description string
	Taste       models.TasteVector
}

// ProfileServiceParams configures ProfileService. Metrics and Logger may be nil.
type ProfileServiceParams struct {
	Repo     ProfilesRepository
	Products ProducerProductsLister
	Buyers   BuyersLister
	Embedder Embedder
	Fuser    TextFuser
	// OracleTimeout bounds every oracle call. Zero means no bound beyond ctx.
	OracleTimeout time.Duration
	// MaxAttempts bounds the read-merge-write loop of ApplySignal on version conflicts.
	MaxAttempts int
	Metrics     observability.ProfileMetrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// ProfileService fuses behavioural signals into customer profiles.
type ProfileService struct {
	repo          ProfilesRepository
	products      ProducerProductsLister
	buyers        BuyersLister
	embedder      Embedder
	fuser         TextFuser
	oracleTimeout time.Duration
	maxAttempts   int
	metrics       observability.ProfileMetrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewProfileService creates a ProfileService.
func NewProfileService(p ProfileServiceParams) *ProfileService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultProfileUpdateMaxAttempts
	}

	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &ProfileService{
		repo:          p.Repo,
		products:      p.Products,
		buyers:        p.Buyers,
		embedder:      p.Embedder,
		fuser:         p.Fuser,
		oracleTimeout: p.OracleTimeout,
		maxAttempts:   maxAttempts,
		metrics:       p.Metrics,
		logger:        logger,
		now:           now,
	}
}

func validateProfileInput(customerID int64, description string, vec models.TasteVector) error {
	if customerID <= 0 {
		return huberrors.NewValidationError("customer_id", "customer_id must be a positive integer")
	}

	if strings.TrimSpace(description) == "" {
		return huberrors.NewValidationError("description", "description is required and must be non-empty")
	}

	if err := vec.Validate(); err != nil {
		return fmt.Errorf("taste: %w", err)
	}

	return nil
}

// Onboard creates or overwrites the profile of a customer who finished onboarding.
// The stored profile is marked onboarded and only the chatbot timestamp is set. Nothing is merged.
func (s *ProfileService) Onboard(ctx context.Context, in OnboardInput) (*models.CustomerProfile, error) {
	if err := validateProfileInput(in.CustomerID, in.Description, in.Taste); err != nil {
		s.recordSignal(ctx, onboardingSource, "invalid")

		return nil, err
	}

	embedding, err := embedOne(ctx, s.embedder, in.Description, s.oracleTimeout)
	if err != nil {
		s.recordSignal(ctx, onboardingSource, "oracle")
		s.logger.Warn("onboarding: embedding failed", "customer_id", in.CustomerID, "error", err)

		return nil, fmt.Errorf("onboard customer %d: %w", in.CustomerID, err)
	}

	profile := &models.CustomerProfile{
		CustomerID:  in.CustomerID,
		Description: in.Description,
		Embedding:   embedding,
		Taste:       in.Taste.Clone(),
		IsOnboarded: true,
	}
	models.SourceChatbot.Stamp(profile, s.now())

	saved, err := s.repo.ReplaceProfile(ctx, profile)
	if err != nil {
		s.recordSignal(ctx, onboardingSource, "error")

		return nil, fmt.Errorf("onboard customer %d: %w", in.CustomerID, err)
	}

	s.recordSignal(ctx, onboardingSource, "replaced")
	s.logger.Info("customer onboarded", "customer_id", in.CustomerID, "version", saved.Version)

	return saved, nil
}

// ApplySignal fuses sig into the customer's profile, creating the profile when absent.
// The write is conditional on the version read; on a conflict the whole read-merge-write,
// oracle calls included, is repeated up to the configured attempts before ErrConflict is returned.
// Oracle failures are returned as-is and leave the stored profile unchanged.
func (s *ProfileService) ApplySignal(ctx context.Context, sig models.Signal) (*models.CustomerProfile, error) {
	source := string(sig.Source)

	if err := validateProfileInput(sig.CustomerID, sig.Description, sig.Taste); err != nil {
		s.recordSignal(ctx, source, "invalid")

		return nil, err
	}

	if _, err := models.ParseSource(source); err != nil {
		s.recordSignal(ctx, source, "invalid")

		return nil, huberrors.NewValidationError("source", err.Error())
	}

	for attempt := 1; ; attempt++ {
		saved, created, err := s.applyOnce(ctx, sig)
		if err == nil {
			outcome := "fused"
			if created {
				outcome = "created"
			}

			s.recordSignal(ctx, source, outcome)

			return saved, nil
		}

		if !errors.Is(err, huberrors.ErrConflict) {
			outcome := "error"
			if IsOracleFailure(err) || errors.Is(err, ErrEmptyFusedText) {
				outcome = "oracle"
			}

			s.recordSignal(ctx, source, outcome)

			return nil, fmt.Errorf("apply %s signal to customer %d: %w", source, sig.CustomerID, err)
		}

		if s.metrics != nil {
			s.metrics.RecordConflict(ctx, source)
		}

		if attempt >= s.maxAttempts {
			s.recordSignal(ctx, source, "conflict")
			s.logger.Warn("profile update kept conflicting",
				"customer_id", sig.CustomerID, "source", source, "attempts", attempt)

			return nil, fmt.Errorf("apply %s signal to customer %d: %w", source, sig.CustomerID, err)
		}

		s.logger.Debug("profile changed concurrently, retrying",
			"customer_id", sig.CustomerID, "source", source, "attempt", attempt)
	}
}

// applyOnce runs one read-merge-write. created reports whether the profile did not exist.
func (s *ProfileService) applyOnce(
	ctx context.Context, sig models.Signal,
) (saved *models.CustomerProfile, created bool, err error) {
	existing, err := s.repo.GetProfile(ctx, sig.CustomerID)
	if err != nil && !errors.Is(err, huberrors.ErrNotFound) {
		return nil, false, fmt.Errorf("read profile: %w", err)
	}

	if existing == nil {
		embedding, err := embedOne(ctx, s.embedder, sig.Description, s.oracleTimeout)
		if err != nil {
			return nil, false, err
		}

		profile := &models.CustomerProfile{
			CustomerID:  sig.CustomerID,
			Description: sig.Description,
			Embedding:   embedding,
			Taste:       sig.Taste.Clone(),
		}
		sig.Source.Stamp(profile, s.now())

		saved, err = s.repo.SaveProfile(ctx, profile, 0)
		if err != nil {
			return nil, false, fmt.Errorf("create profile: %w", err)
		}

		return saved, true, nil
	}

	fused, err := s.fuse(ctx, existing.Description, sig.Description)
	if err != nil {
		return nil, false, err
	}

	embedding, err := embedOne(ctx, s.embedder, fused, s.oracleTimeout)
	if err != nil {
		return nil, false, err
	}

	updated := *existing
	updated.Description = fused
	updated.Embedding = embedding
	updated.Taste = taste.Blend(existing.Taste, sig.Taste, taste.Alpha)
	sig.Source.Stamp(&updated, s.now())

	saved, err = s.repo.SaveProfile(ctx, &updated, existing.Version)
	if err != nil {
		return nil, false, fmt.Errorf("save profile: %w", err)
	}

	return saved, false, nil
}

func (s *ProfileService) fuse(ctx context.Context, old, incoming string) (string, error) {
	ctx, cancel := withOracleTimeout(ctx, s.oracleTimeout)
	defer cancel()

	fused, err := s.fuser.FuseText(ctx, old, incoming, taste.Alpha)
	if err != nil {
		return "", &OracleError{Op: "fuse text", Err: err}
	}

	fused = strings.TrimSpace(fused)
	if fused == "" {
		return "", ErrEmptyFusedText
	}

	return fused, nil
}

// Get returns the profile of customerID or a *huberrors.NotFoundError.
func (s *ProfileService) Get(ctx context.Context, customerID int64) (*models.CustomerProfile, error) {
	profile, err := s.repo.GetProfile(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	return profile, nil
}

// IsOnboarded reports whether customerID finished onboarding. A missing profile is not onboarded.
func (s *ProfileService) IsOnboarded(ctx context.Context, customerID int64) (bool, error) {
	profile, err := s.repo.GetProfile(ctx, customerID)
	if err != nil {
		if errors.Is(err, huberrors.ErrNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("get profile: %w", err)
	}

	return profile.IsOnboarded, nil
}

// ProfilesOfProducer returns the profiles of customers who ordered any product of producerID.
func (s *ProfileService) ProfilesOfProducer(ctx context.Context, producerID int64) ([]models.CustomerProfile, error) {
	productIDs, err := s.products.ProductIDsOfProducer(ctx, producerID)
	if err != nil {
		return nil, fmt.Errorf("products of producer %d: %w", producerID, err)
	}

	if len(productIDs) == 0 {
		return []models.CustomerProfile{}, nil
	}

	customerIDs, err := s.buyers.CustomersWhoOrdered(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("customers of producer %d: %w", producerID, err)
	}

	if len(customerIDs) == 0 {
		return []models.CustomerProfile{}, nil
	}

	profiles, err := s.repo.ProfilesByCustomerIDs(ctx, customerIDs)
	if err != nil {
		return nil, fmt.Errorf("profiles of producer %d: %w", producerID, err)
	}

	return profiles, nil
}

func (s *ProfileService) recordSignal(ctx context.Context, source, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSignal(ctx, source, outcome)
	}
}
