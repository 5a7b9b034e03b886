package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/turri/tastehub/internal/models"
)

// OrdersRepository reads the orders mirrored from the shop.
type OrdersRepository struct {
	db *pgxpool.Pool
}

// NewOrdersRepository creates a new orders repository.
func NewOrdersRepository(db *pgxpool.Pool) *OrdersRepository {
	return &OrdersRepository{db: db}
}

// CustomersWithOrdersSince returns, in ascending order, the customers with an order created after from.
func (r *OrdersRepository) CustomersWithOrdersSince(ctx context.Context, from time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT customer_id FROM orders
		WHERE customer_id IS NOT NULL AND date_created > $1
		ORDER BY customer_id`, from)
	if err != nil {
		return nil, fmt.Errorf("customers with orders since: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect customer ids: %w", err)
	}

	return ids, nil
}

// LineItemsSince returns the line items of customerID's orders created after from, oldest first.
func (r *OrdersRepository) LineItemsSince(ctx context.Context, customerID int64, from time.Time) ([]models.LineItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT li.order_id, li.product_id, li.quantity, li.price::text, o.date_created
		FROM line_items li
		JOIN orders o ON o.id = li.order_id
		WHERE o.customer_id = $1 AND o.date_created > $2
		ORDER BY o.date_created, li.id`, customerID, from)
	if err != nil {
		return nil, fmt.Errorf("line items since: %w", err)
	}
	defer rows.Close()

	var items []models.LineItem

	for rows.Next() {
		var (
			item  models.LineItem
			price string
		)

		if err := rows.Scan(&item.OrderID, &item.ProductID, &item.Quantity, &price, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}

		item.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse line item price: %w", err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating line items: %w", err)
	}

	return items, nil
}

// CustomersWhoOrdered returns, in ascending order, the customers who ordered any of productIDs.
func (r *OrdersRepository) CustomersWhoOrdered(ctx context.Context, productIDs []int64) ([]int64, error) {
	if len(productIDs) == 0 {
		return []int64{}, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT o.customer_id
		FROM orders o
		JOIN line_items li ON li.order_id = o.id
		WHERE o.customer_id IS NOT NULL AND li.product_id = ANY($1)
		ORDER BY o.customer_id`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("customers who ordered: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect customer ids: %w", err)
	}

	return ids, nil
}
