package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// EntityKind selects the catalog table a recommendation ranks.
type EntityKind string

// Catalog entity kinds.
const (
	KindProduct  EntityKind = "product"
	KindProducer EntityKind = "producer"
)

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	return k == KindProduct || k == KindProducer
}

// ProducerSummary is the producer info embedded in a product.
type ProducerSummary struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// Product is a catalog product with its derived vectors.
type Product struct {
	ID            int64            `json:"id"`
	Slug          string           `json:"slug"`
	Title         string           `json:"title"`
	Description   string           `json:"description,omitempty"`
	Content       string           `json:"-"`
	Excerpt       string           `json:"excerpt,omitempty"`
	Link          string           `json:"link,omitempty"`
	ImageURL      string           `json:"image_url,omitempty"`
	Status        string           `json:"status"`
	Price         decimal.Decimal  `json:"price"`
	ProducerID    *int64           `json:"producer_id,omitempty"`
	Producer      *ProducerSummary `json:"producer,omitempty"`
	TagNames      []string         `json:"tags"`
	CategoryNames []string         `json:"categories"`
	Taste         TasteVector      `json:"taste,omitempty"`
	Embedding     []float32        `json:"-"`
}

// Producer is a catalog producer with its derived vectors.
type Producer struct {
	ID        int64       `json:"id"`
	Slug      string      `json:"slug"`
	Title     string      `json:"title"`
	Content   string      `json:"-"`
	Excerpt   string      `json:"excerpt,omitempty"`
	Link      string      `json:"link,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	Taste     TasteVector `json:"taste,omitempty"`
	Embedding []float32   `json:"-"`
}

// ProducerProducts lists the products owned by one producer, used for taste recomputation.
type ProducerProducts struct {
	ProducerID int64
	ProductIDs []int64
}

// Category is a product category.
type Category struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Neighbor is one row of an ascending-distance index query.
type Neighbor struct {
	ID       int64
	Distance float64
}

// ScoredCandidate is one fused recommendation candidate.
type ScoredCandidate struct {
	ID                int64   `json:"id"`
	TasteDistance     float64 `json:"taste_distance"`
	EmbeddingDistance float64 `json:"embedding_distance"`
	Score             float64 `json:"score"`
}

// CatalogFilter restricts an index query. Empty fields do not filter.
type CatalogFilter struct {
	// ProductStatuses matches products.status; ignored for producers.
	ProductStatuses []string
}

// ProductRecommendation is a product with its fused score.
type ProductRecommendation struct {
	Product
	Score float64 `json:"score"`
}

// ProducerRecommendation is a producer with its fused score.
type ProducerRecommendation struct {
	Producer
	Score float64 `json:"score"`
}

// EmbeddingText is the text to embed for a catalog entity.
type EmbeddingText struct {
	ID   int64
	Text string
}

// String implements fmt.Stringer.
func (n Neighbor) String() string {
	return fmt.Sprintf("%d@%.4f", n.ID, n.Distance)
}
