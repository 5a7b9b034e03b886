package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one product line of a customer's order.
type LineItem struct {
	OrderID   int64
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
	CreatedAt time.Time
}

// PageType is the kind of page a visitor viewed.
type PageType string

// Page types carried by the analytics export.
const (
	PageProduct  PageType = "product"
	PageProducer PageType = "producer"
	PageCategory PageType = "category"
)

// PageView aggregates the views of one page by one customer inside a window.
type PageView struct {
	CustomerID int64
	PageType   PageType
	Slug       string
	ViewCount  int
}

// RefreshResult is the tally returned by a batch refresh.
type RefreshResult struct {
	Success  int `json:"success"`
	Failures int `json:"failures"`
}

// CatalogRefreshResult is the tally returned by catalog maintenance.
type CatalogRefreshResult struct {
	ProductTastes      int `json:"product_tastes"`
	ProducerTastes     int `json:"producer_tastes"`
	ProductEmbeddings  int `json:"product_embeddings"`
	ProducerEmbeddings int `json:"producer_embeddings"`
}
