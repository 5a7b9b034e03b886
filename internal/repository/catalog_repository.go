package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/shopspring/decimal"

	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/models"
)

// Vector columns ranked by the nearest-neighbour queries.
const (
	ColumnTaste     = "taste_embedding"
	ColumnEmbedding = "embedding"
)

const productSelect = `
	SELECT p.id, p.slug, p.title, p.description, p.content, p.excerpt, p.link, COALESCE(p.img_url, ''),
		p.status, p.price::text, p.producer_id, pr.slug, pr.title, p.taste_embedding,
		ARRAY(SELECT t.name FROM product_tag_links l JOIN product_tags t ON t.id = l.tag_id
			WHERE l.product_id = p.id ORDER BY t.name) AS tag_names,
		ARRAY(SELECT c.name FROM product_category_links l JOIN product_categories c ON c.id = l.category_id
			WHERE l.product_id = p.id ORDER BY c.name) AS category_names
	FROM products p
	LEFT JOIN producers pr ON pr.id = p.producer_id`

const producerSelect = `
	SELECT id, slug, title, content, excerpt, link, COALESCE(img_url, ''), taste_embedding
	FROM producers`

// CatalogRepository handles data access for products, producers and their taxonomy.
// Writes join the transaction carried by ctx when one was started by the transaction manager.
type CatalogRepository struct {
	db     *pgxpool.Pool
	getter *trmpgx.CtxGetter
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: db, getter: trmpgx.DefaultCtxGetter}
}

func (r *CatalogRepository) conn(ctx context.Context) trmpgx.Tr {
	return r.getter.DefaultTrOrDB(ctx, r.db)
}

func tableFor(kind models.EntityKind) (string, error) {
	switch kind {
	case models.KindProduct:
		return "products", nil
	case models.KindProducer:
		return "producers", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

// buildNearestQuery builds an ascending L2-distance query over column of kind's table.
// Rows whose column is NULL never match. The product status filter is ignored for producers.
func buildNearestQuery(
	kind models.EntityKind, column string, vec []float32, filter models.CatalogFilter, limit int,
) (string, []any, error) {
	table, err := tableFor(kind)
	if err != nil {
		return "", nil, err
	}

	if column != ColumnTaste && column != ColumnEmbedding {
		return "", nil, fmt.Errorf("unknown vector column %q", column)
	}

	if limit <= 0 {
		return "", nil, errors.New("limit must be positive")
	}

	args := []any{pgvector.NewVector(vec)}
	conditions := []string{column + " IS NOT NULL"}

	if kind == models.KindProduct && len(filter.ProductStatuses) > 0 {
		args = append(args, filter.ProductStatuses)
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	args = append(args, limit)

	query := fmt.Sprintf(
		"SELECT id, (%[1]s <-> $1) AS distance FROM %[2]s WHERE %[3]s ORDER BY %[1]s <-> $1, id LIMIT $%[4]d",
		column, table, strings.Join(conditions, " AND "), len(args),
	)

	return query, args, nil
}

func (r *CatalogRepository) nearest(
	ctx context.Context, kind models.EntityKind, column string, vec []float32, filter models.CatalogFilter, limit int,
) ([]models.Neighbor, error) {
	query, args, err := buildNearestQuery(kind, column, vec, filter, limit)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("nearest %s by %s: %w", kind, column, err)
	}
	defer rows.Close()

	neighbors := make([]models.Neighbor, 0, limit)

	for rows.Next() {
		var n models.Neighbor
		if err := rows.Scan(&n.ID, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}

		neighbors = append(neighbors, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating neighbors: %w", err)
	}

	return neighbors, nil
}

// NearestByTaste ranks kind's entities by ascending taste-vector distance to taste.
func (r *CatalogRepository) NearestByTaste(
	ctx context.Context, kind models.EntityKind, taste models.TasteVector, filter models.CatalogFilter, limit int,
) ([]models.Neighbor, error) {
	return r.nearest(ctx, kind, ColumnTaste, taste.Float32(), filter, limit)
}

// NearestByEmbedding ranks kind's entities by ascending embedding distance to embedding.
func (r *CatalogRepository) NearestByEmbedding(
	ctx context.Context, kind models.EntityKind, embedding []float32, filter models.CatalogFilter, limit int,
) ([]models.Neighbor, error) {
	return r.nearest(ctx, kind, ColumnEmbedding, embedding, filter, limit)
}

// ProductsByIDs returns the products among ids in unspecified order.
func (r *CatalogRepository) ProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	return r.queryProducts(ctx, productSelect+` WHERE p.id = ANY($1)`, ids)
}

// ProductBySlug returns the product with slug or a *huberrors.NotFoundError.
func (r *CatalogRepository) ProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	products, err := r.queryProducts(ctx, productSelect+` WHERE p.slug = $1 ORDER BY p.id LIMIT 1`, slug)
	if err != nil {
		return nil, err
	}

	if len(products) == 0 {
		return nil, huberrors.NewNotFoundError("product", "")
	}

	return &products[0], nil
}

// ListProductsForTaste returns every product with its tag and category names.
func (r *CatalogRepository) ListProductsForTaste(ctx context.Context) ([]models.Product, error) {
	return r.queryProducts(ctx, productSelect+` ORDER BY p.id`)
}

func (r *CatalogRepository) queryProducts(ctx context.Context, query string, args ...any) ([]models.Product, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}

	for rows.Next() {
		var (
			p             models.Product
			price         string
			producerSlug  *string
			producerTitle *string
			taste         *pgvector.Vector
		)

		err := rows.Scan(
			&p.ID, &p.Slug, &p.Title, &p.Description, &p.Content, &p.Excerpt, &p.Link, &p.ImageURL,
			&p.Status, &price, &p.ProducerID, &producerSlug, &producerTitle, &taste,
			&p.TagNames, &p.CategoryNames,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}

		p.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse price of product %d: %w", p.ID, err)
		}

		if p.ProducerID != nil && producerSlug != nil {
			p.Producer = &models.ProducerSummary{ID: *p.ProducerID, Slug: *producerSlug}
			if producerTitle != nil {
				p.Producer.Title = *producerTitle
			}
		}

		if taste != nil {
			p.Taste = models.TasteFromFloat32(taste.Slice())
		}

		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating products: %w", err)
	}

	return products, nil
}

// ProducersByIDs returns the producers among ids in unspecified order.
func (r *CatalogRepository) ProducersByIDs(ctx context.Context, ids []int64) ([]models.Producer, error) {
	if len(ids) == 0 {
		return []models.Producer{}, nil
	}

	return r.queryProducers(ctx, producerSelect+` WHERE id = ANY($1)`, ids)
}

// ProducerBySlug returns the producer with slug or a *huberrors.NotFoundError.
func (r *CatalogRepository) ProducerBySlug(ctx context.Context, slug string) (*models.Producer, error) {
	producers, err := r.queryProducers(ctx, producerSelect+` WHERE slug = $1 ORDER BY id LIMIT 1`, slug)
	if err != nil {
		return nil, err
	}

	if len(producers) == 0 {
		return nil, huberrors.NewNotFoundError("producer", "")
	}

	return &producers[0], nil
}

func (r *CatalogRepository) queryProducers(ctx context.Context, query string, args ...any) ([]models.Producer, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query producers: %w", err)
	}
	defer rows.Close()

	producers := []models.Producer{}

	for rows.Next() {
		var (
			p     models.Producer
			taste *pgvector.Vector
		)

		if err := rows.Scan(&p.ID, &p.Slug, &p.Title, &p.Content, &p.Excerpt, &p.Link, &p.ImageURL, &taste); err != nil {
			return nil, fmt.Errorf("scan producer: %w", err)
		}

		if taste != nil {
			p.Taste = models.TasteFromFloat32(taste.Slice())
		}

		producers = append(producers, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating producers: %w", err)
	}

	return producers, nil
}

// CategoryBySlug returns the category with slug or a *huberrors.NotFoundError.
func (r *CatalogRepository) CategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	var c models.Category

	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, slug, name FROM product_categories WHERE slug = $1 ORDER BY id LIMIT 1`, slug,
	).Scan(&c.ID, &c.Slug, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("category", "")
		}

		return nil, fmt.Errorf("category by slug: %w", err)
	}

	return &c, nil
}

// ListProducersWithProductIDs returns every producer with the ids of the products it owns.
func (r *CatalogRepository) ListProducersWithProductIDs(ctx context.Context) ([]models.ProducerProducts, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT pr.id, COALESCE(array_agg(p.id ORDER BY p.id) FILTER (WHERE p.id IS NOT NULL), '{}')
		FROM producers pr
		LEFT JOIN products p ON p.producer_id = pr.id
		GROUP BY pr.id
		ORDER BY pr.id`)
	if err != nil {
		return nil, fmt.Errorf("list producers with products: %w", err)
	}
	defer rows.Close()

	var out []models.ProducerProducts

	for rows.Next() {
		var pp models.ProducerProducts
		if err := rows.Scan(&pp.ProducerID, &pp.ProductIDs); err != nil {
			return nil, fmt.Errorf("scan producer products: %w", err)
		}

		out = append(out, pp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating producer products: %w", err)
	}

	return out, nil
}

// ProductIDsOfProducer returns the ids of the products owned by producerID.
func (r *CatalogRepository) ProductIDsOfProducer(ctx context.Context, producerID int64) ([]int64, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id FROM products WHERE producer_id = $1 ORDER BY id`, producerID)
	if err != nil {
		return nil, fmt.Errorf("product ids of producer: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect product ids: %w", err)
	}

	return ids, nil
}

// UpdateProductTaste stores the derived taste vector of a product.
func (r *CatalogRepository) UpdateProductTaste(ctx context.Context, id int64, taste models.TasteVector) error {
	return r.setVector(ctx, "products", ColumnTaste, id, taste.Float32())
}

// UpdateProducerTaste stores the derived taste vector of a producer.
func (r *CatalogRepository) UpdateProducerTaste(ctx context.Context, id int64, taste models.TasteVector) error {
	return r.setVector(ctx, "producers", ColumnTaste, id, taste.Float32())
}

// SetProductEmbedding stores the content embedding of a product.
func (r *CatalogRepository) SetProductEmbedding(ctx context.Context, id int64, embedding []float32) error {
	return r.setVector(ctx, "products", ColumnEmbedding, id, embedding)
}

// SetProducerEmbedding stores the content embedding of a producer.
func (r *CatalogRepository) SetProducerEmbedding(ctx context.Context, id int64, embedding []float32) error {
	return r.setVector(ctx, "producers", ColumnEmbedding, id, embedding)
}

func (r *CatalogRepository) setVector(ctx context.Context, table, column string, id int64, vec []float32) error {
	tag, err := r.conn(ctx).Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2`, table, column), pgvector.NewVector(vec), id)
	if err != nil {
		return fmt.Errorf("update %s.%s: %w", table, column, err)
	}

	if tag.RowsAffected() == 0 {
		return huberrors.NewNotFoundError(strings.TrimSuffix(table, "s"), "")
	}

	return nil
}

// ListProductsMissingEmbedding returns the raw content and excerpt of products without an embedding.
func (r *CatalogRepository) ListProductsMissingEmbedding(ctx context.Context) ([]models.EmbeddingText, error) {
	return r.listMissingEmbedding(ctx, "products")
}

// ListProducersMissingEmbedding returns the raw content and excerpt of producers without an embedding.
func (r *CatalogRepository) ListProducersMissingEmbedding(ctx context.Context) ([]models.EmbeddingText, error) {
	return r.listMissingEmbedding(ctx, "producers")
}

func (r *CatalogRepository) listMissingEmbedding(ctx context.Context, table string) ([]models.EmbeddingText, error) {
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT id, content || E'\n\n' || excerpt FROM %s WHERE embedding IS NULL ORDER BY id`, table))
	if err != nil {
		return nil, fmt.Errorf("list %s missing embedding: %w", table, err)
	}

	texts, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.EmbeddingText])
	if err != nil {
		return nil, fmt.Errorf("collect %s texts: %w", table, err)
	}

	return texts, nil
}
