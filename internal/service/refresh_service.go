package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/models"
	"github.com/turri/tastehub/internal/observability"
	"github.com/turri/tastehub/internal/prompts"
	"github.com/turri/tastehub/internal/taste"
)

const activitySeparator = "----------------------------------------------------------------------"

// OrdersSource reads the order history window of a batch refresh.
type OrdersSource interface {
	CustomersWithOrdersSince(ctx context.Context, from time.Time) ([]int64, error)
	LineItemsSince(ctx context.Context, customerID int64, from time.Time) ([]models.LineItem, error)
}

// PageViewsSource reads the analytics window of a batch refresh, ordered by customer id.
type PageViewsSource interface {
	ActivitySince(ctx context.Context, from time.Time) ([]models.PageView, error)
}

// CatalogLookup resolves the catalog entities referenced by activity.
type CatalogLookup interface {
	ProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ProducersByIDs(ctx context.Context, ids []int64) ([]models.Producer, error)
	ProductBySlug(ctx context.Context, slug string) (*models.Product, error)
	ProducerBySlug(ctx context.Context, slug string) (*models.Producer, error)
	CategoryBySlug(ctx context.Context, slug string) (*models.Category, error)
}

// SignalApplier fuses a signal into a profile.
type SignalApplier interface {
	ApplySignal(ctx context.Context, sig models.Signal) (*models.CustomerProfile, error)
}

// ProfileRefreshServiceParams configures ProfileRefreshService. Limiter, the metrics and Logger may be nil.
type ProfileRefreshServiceParams struct {
	Orders     OrdersSource
	PageViews  PageViewsSource
	Catalog    CatalogLookup
	Profiles   SignalApplier
	Summarizer Summarizer
	// Limiter paces customers so the oracles are not flooded. Nil means unpaced.
	Limiter       *rate.Limiter
	OracleTimeout time.Duration
	Metrics       observability.RefreshMetrics
	// CacheMetrics counts hits of the per-run slug caches.
	CacheMetrics observability.CacheMetrics
	Logger       *slog.Logger
}

// ProfileRefreshService refreshes profiles from purchase history and web analytics windows.
// Customers are processed one at a time; a failing customer is logged and counted, never fatal.
type ProfileRefreshService struct {
	orders        OrdersSource
	pageViews     PageViewsSource
	catalog       CatalogLookup
	profiles      SignalApplier
	summarizer    Summarizer
	limiter       *rate.Limiter
	oracleTimeout time.Duration
	metrics       observability.RefreshMetrics
	cacheMetrics  observability.CacheMetrics
	logger        *slog.Logger
}

// NewProfileRefreshService creates a ProfileRefreshService.
func NewProfileRefreshService(p ProfileRefreshServiceParams) *ProfileRefreshService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ProfileRefreshService{
		orders:        p.Orders,
		pageViews:     p.PageViews,
		catalog:       p.Catalog,
		profiles:      p.Profiles,
		summarizer:    p.Summarizer,
		limiter:       p.Limiter,
		oracleTimeout: p.OracleTimeout,
		metrics:       p.Metrics,
		cacheMetrics:  p.CacheMetrics,
		logger:        logger,
	}
}

// Refresh runs the driver of source. Chatbot signals have no batch driver.
func (s *ProfileRefreshService) Refresh(ctx context.Context, source models.Source, from time.Time) (models.RefreshResult, error) {
	switch source {
	case models.SourcePurchaseHistory:
		return s.RefreshFromOrders(ctx, from)
	case models.SourceWebAnalytics:
		return s.RefreshFromAnalytics(ctx, from)
	default:
		return models.RefreshResult{}, huberrors.NewValidationError("source",
			fmt.Sprintf("source must be %s or %s", models.SourcePurchaseHistory, models.SourceWebAnalytics))
	}
}

// RefreshFromOrders fuses the orders placed after from into the profiles of their customers.
// The error is non-nil only when the customer listing fails or ctx ends.
func (s *ProfileRefreshService) RefreshFromOrders(ctx context.Context, from time.Time) (models.RefreshResult, error) {
	start := time.Now()

	customerIDs, err := s.orders.CustomersWithOrdersSince(ctx, from)
	if err != nil {
		return models.RefreshResult{}, fmt.Errorf("list customers with orders: %w", err)
	}

	slices.Sort(customerIDs)

	s.logger.Info("refreshing profiles from orders", "customers", len(customerIDs), "from", from)

	result, err := s.forEachCustomer(ctx, models.SourcePurchaseHistory, customerIDs, func(ctx context.Context, id int64) error {
		return s.refreshCustomerOrders(ctx, id, from)
	})

	s.recordRefresh(ctx, models.SourcePurchaseHistory, result, start)

	return result, err
}

// RefreshFromAnalytics fuses the page views recorded after from into the profiles of their customers.
func (s *ProfileRefreshService) RefreshFromAnalytics(ctx context.Context, from time.Time) (models.RefreshResult, error) {
	start := time.Now()

	views, err := s.pageViews.ActivitySince(ctx, from)
	if err != nil {
		return models.RefreshResult{}, fmt.Errorf("list page views: %w", err)
	}

	byCustomer := map[int64][]models.PageView{}
	customerIDs := []int64{}

	for _, v := range views {
		if _, ok := byCustomer[v.CustomerID]; !ok {
			customerIDs = append(customerIDs, v.CustomerID)
		}

		byCustomer[v.CustomerID] = append(byCustomer[v.CustomerID], v)
	}

	slices.Sort(customerIDs)

	lookup, err := newSlugLookup(s.catalog, s.cacheMetrics)
	if err != nil {
		return models.RefreshResult{}, err
	}

	s.logger.Info("refreshing profiles from analytics", "customers", len(customerIDs), "from", from)

	result, err := s.forEachCustomer(ctx, models.SourceWebAnalytics, customerIDs, func(ctx context.Context, id int64) error {
		return s.refreshCustomerViews(ctx, lookup, id, byCustomer[id])
	})

	s.recordRefresh(ctx, models.SourceWebAnalytics, result, start)

	return result, err
}

func (s *ProfileRefreshService) forEachCustomer(
	ctx context.Context, source models.Source, customerIDs []int64, fn func(context.Context, int64) error,
) (models.RefreshResult, error) {
	var result models.RefreshResult

	for _, id := range customerIDs {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return result, fmt.Errorf("refresh %s: %w", source, err)
			}
		}

		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("refresh %s: %w", source, err)
		}

		if err := safeCall(ctx, id, fn); err != nil {
			result.Failures++

			s.logger.ErrorContext(ctx, "profile refresh failed for customer",
				"customer_id", id, "source", string(source), "error", err)

			continue
		}

		result.Success++
	}

	return result, nil
}

// safeCall runs fn and turns a panic into an error.
func safeCall(ctx context.Context, id int64, fn func(context.Context, int64) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	return fn(ctx, id)
}

func (s *ProfileRefreshService) refreshCustomerOrders(ctx context.Context, customerID int64, from time.Time) error {
	items, err := s.orders.LineItemsSince(ctx, customerID, from)
	if err != nil {
		return fmt.Errorf("line items: %w", err)
	}

	productIDs := make([]int64, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}

	products, err := s.catalog.ProductsByIDs(ctx, uniqueIDs(productIDs))
	if err != nil {
		return fmt.Errorf("products: %w", err)
	}

	productByID := make(map[int64]models.Product, len(products))
	producerIDs := []int64{}

	for _, p := range products {
		productByID[p.ID] = p
		if p.ProducerID != nil {
			producerIDs = append(producerIDs, *p.ProducerID)
		}
	}

	producers, err := s.catalog.ProducersByIDs(ctx, uniqueIDs(producerIDs))
	if err != nil {
		return fmt.Errorf("producers: %w", err)
	}

	producerByID := make(map[int64]models.Producer, len(producers))
	for _, p := range producers {
		producerByID[p.ID] = p
	}

	var (
		tastes []models.TasteVector
		text   strings.Builder
	)

	for _, item := range items {
		product, ok := productByID[item.ProductID]
		if !ok {
			s.logger.Info("ordered product not in catalog", "customer_id", customerID, "product_id", item.ProductID)

			continue
		}

		if len(product.Taste) != models.TasteDims {
			s.logger.Info("ordered product has no taste vector", "customer_id", customerID, "product_id", product.ID)

			continue
		}

		tastes = append(tastes, product.Taste)

		var producer *models.Producer
		if product.ProducerID != nil {
			if p, ok := producerByID[*product.ProducerID]; ok {
				producer = &p
			}
		}

		writeProductActivity(&text, fmt.Sprintf("The customer ordered %d × this product:", item.Quantity), product, producer)
	}

	if len(tastes) == 0 {
		s.logger.Debug("no ordered product with a taste vector", "customer_id", customerID)

		return nil
	}

	return s.summarizeAndApply(ctx, customerID, models.SourcePurchaseHistory, taste.Mean(tastes), text.String())
}

func (s *ProfileRefreshService) refreshCustomerViews(
	ctx context.Context, lookup *slugLookup, customerID int64, views []models.PageView,
) error {
	var (
		tastes []models.TasteVector
		text   strings.Builder
	)

	for _, v := range views {
		switch v.PageType {
		case models.PageProduct:
			product, err := lookup.ProductBySlug(ctx, v.Slug)
			if err != nil {
				if errors.Is(err, huberrors.ErrNotFound) {
					s.logger.Warn("unknown product in analytics", "customer_id", customerID, "slug", v.Slug)

					continue
				}

				return fmt.Errorf("product %q: %w", v.Slug, err)
			}

			if len(product.Taste) == models.TasteDims {
				tastes = append(tastes, product.Taste)
			}

			var producer *models.Producer

			if product.Producer != nil {
				producer, err = lookup.ProducerBySlug(ctx, product.Producer.Slug)
				if err != nil && !errors.Is(err, huberrors.ErrNotFound) {
					return fmt.Errorf("producer of product %q: %w", v.Slug, err)
				}
			}

			writeProductActivity(&text, fmt.Sprintf("The customer viewed this product %d times:", v.ViewCount), *product, producer)
		case models.PageProducer:
			producer, err := lookup.ProducerBySlug(ctx, v.Slug)
			if err != nil {
				if errors.Is(err, huberrors.ErrNotFound) {
					s.logger.Warn("unknown producer in analytics", "customer_id", customerID, "slug", v.Slug)

					continue
				}

				return fmt.Errorf("producer %q: %w", v.Slug, err)
			}

			if len(producer.Taste) == models.TasteDims {
				tastes = append(tastes, producer.Taste)
			}

			fmt.Fprintf(&text, "%s\nThe customer viewed this producer %d times:\n%s\n%s\n\n",
				activitySeparator, v.ViewCount, producer.Title, plainText(producer.Content))
		case models.PageCategory:
			category, err := lookup.CategoryBySlug(ctx, v.Slug)
			if err != nil {
				if errors.Is(err, huberrors.ErrNotFound) {
					s.logger.Warn("unknown category in analytics", "customer_id", customerID, "slug", v.Slug)

					continue
				}

				return fmt.Errorf("category %q: %w", v.Slug, err)
			}

			fmt.Fprintf(&text, "%s\nThe customer viewed this category %d times: %s\n\n",
				activitySeparator, v.ViewCount, category.Name)
		default:
			s.logger.Warn("unknown page type in analytics", "customer_id", customerID, "page_type", string(v.PageType))
		}
	}

	if len(tastes) == 0 {
		s.logger.Debug("no analytics match with a taste vector", "customer_id", customerID)

		return nil
	}

	return s.summarizeAndApply(ctx, customerID, models.SourceWebAnalytics, taste.Mean(tastes), text.String())
}

func (s *ProfileRefreshService) summarizeAndApply(
	ctx context.Context, customerID int64, source models.Source, vec models.TasteVector, activity string,
) error {
	sctx, cancel := withOracleTimeout(ctx, s.oracleTimeout)
	defer cancel()

	description, err := s.summarizer.Summarize(sctx, prompts.ShoppingPatternInstruction(models.TasteKeys), activity)
	if err != nil {
		return &OracleError{Op: "summarize activity", Err: err}
	}

	_, err = s.profiles.ApplySignal(ctx, models.Signal{
		CustomerID:  customerID,
		Description: description,
		Taste:       vec,
		Source:      source,
	})
	if err != nil {
		return fmt.Errorf("apply signal: %w", err)
	}

	return nil
}

func writeProductActivity(b *strings.Builder, header string, p models.Product, producer *models.Producer) {
	fmt.Fprintf(b, "%s\n%s\n%s\n", activitySeparator, header, p.Title)

	if d := plainText(p.Description); d != "" {
		fmt.Fprintf(b, "%s\n", d)
	}

	if c := plainText(p.Content); c != "" {
		fmt.Fprintf(b, "%s\n", c)
	}

	fmt.Fprintf(b, "Tags: %s\nCategories: %s\n", strings.Join(p.TagNames, ", "), strings.Join(p.CategoryNames, ", "))

	switch {
	case producer != nil:
		fmt.Fprintf(b, "Producer: %s\n%s\n", producer.Title, plainText(producer.Content))
	case p.Producer != nil:
		fmt.Fprintf(b, "Producer: %s\n", p.Producer.Title)
	}

	b.WriteByte('\n')
}

func (s *ProfileRefreshService) recordRefresh(ctx context.Context, source models.Source, r models.RefreshResult, start time.Time) {
	s.logger.Info("profile refresh finished",
		"source", string(source), "success", r.Success, "failures", r.Failures, "duration", time.Since(start))

	if s.metrics != nil {
		s.metrics.RecordRefresh(ctx, string(source), r.Success, r.Failures, time.Since(start))
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))

	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	return out
}
