// Package models defines the records that flow through a harvest run.
package models

import "time"

// FetchRequest identifies one category result page to fetch.
type FetchRequest struct {
	URL      string
	Page     int
	Category string
}

// Identity is a proxy endpoint paired with a browser user-agent string.
// An empty Proxy means a direct connection.
type Identity struct {
	ID        int
	Proxy     string
	UserAgent string
}

// CacheEntry is one stored page body.
type CacheEntry struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// RawItemFields holds the aligned raw strings for one extracted item.
// An empty string means the field was not present for this item.
type RawItemFields struct {
	Title         string
	Price         string
	OriginalPrice string
	Discount      string
	Brand         string
	Description   string
	Features      string
	Rating        string
	ReviewCount   string
	URL           string
}

// ProductRecord is a product identified by (name, brand, category).
type ProductRecord struct {
	ID          int64     `db:"id" csv:"-" json:"id,omitempty"`
	Name        string    `db:"name" csv:"name" json:"name"`
	Category    string    `db:"category" csv:"category" json:"category"`
	Brand       string    `db:"brand" csv:"brand" json:"brand,omitempty"`
	Description string    `db:"description" csv:"description" json:"description,omitempty"`
	Features    string    `db:"features" csv:"features" json:"features,omitempty"`
	Rating      *float64  `db:"rating" csv:"rating" json:"rating,omitempty"`
	ReviewCount *int      `db:"review_count" csv:"review_count" json:"review_count,omitempty"`
	CreatedAt   time.Time `db:"created_at" csv:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" csv:"updated_at" json:"updated_at"`
}

// PriceRecord is one append-only price observation for a product.
type PriceRecord struct {
	ID                 int64     `db:"id" json:"id,omitempty"`
	ProductID          int64     `db:"product_id" json:"product_id,omitempty"`
	Price              float64   `db:"price" json:"price"`
	OriginalPrice      *float64  `db:"original_price" json:"original_price,omitempty"`
	DiscountPercentage *float64  `db:"discount_percentage" json:"discount_percentage,omitempty"`
	Currency           string    `db:"currency" json:"currency"`
	Source             string    `db:"source" json:"source"`
	URL                string    `db:"url" json:"url,omitempty"`
	Timestamp          time.Time `db:"timestamp" json:"timestamp"`
}

// HarvestedItem pairs a product with the price observed for it in this run.
type HarvestedItem struct {
	Product ProductRecord `json:"product"`
	Price   PriceRecord   `json:"price"`
}

// DedupeKey returns the (name, brand, category) identity of the product.
func (h HarvestedItem) DedupeKey() string {
	return h.Product.Name + "\x00" + h.Product.Brand + "\x00" + h.Product.Category
}

// ValidationResult lists the constraints a record violates.
type ValidationResult struct {
	Violations []string
}

// Valid reports whether no constraint was violated.
func (v ValidationResult) Valid() bool {
	return len(v.Violations) == 0
}
