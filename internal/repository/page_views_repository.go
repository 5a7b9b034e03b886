package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turri/tastehub/internal/models"
)

// PageViewsRepository reads the per-customer page view counts loaded from the analytics export.
type PageViewsRepository struct {
	db *pgxpool.Pool
}

// NewPageViewsRepository creates a new page views repository.
func NewPageViewsRepository(db *pgxpool.Pool) *PageViewsRepository {
	return &PageViewsRepository{db: db}
}

// ActivitySince returns view counts grouped by customer, page type and slug for views on or after from's date.
// Rows are ordered by customer id so callers can group them in one pass.
func (r *PageViewsRepository) ActivitySince(ctx context.Context, from time.Time) ([]models.PageView, error) {
	rows, err := r.db.Query(ctx, `
		SELECT customer_id, page_type, slug, SUM(view_count)::int
		FROM page_views
		WHERE view_date >= $1::date
		GROUP BY customer_id, page_type, slug
		ORDER BY customer_id, page_type, slug`, from)
	if err != nil {
		return nil, fmt.Errorf("page views since: %w", err)
	}
	defer rows.Close()

	var views []models.PageView

	for rows.Next() {
		var (
			v        models.PageView
			pageType string
		)

		if err := rows.Scan(&v.CustomerID, &pageType, &v.Slug, &v.ViewCount); err != nil {
			return nil, fmt.Errorf("scan page view: %w", err)
		}

		v.PageType = models.PageType(pageType)
		views = append(views, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating page views: %w", err)
	}

	return views, nil
}
