// Package store persists harvested products and their append-only price
// history in a relational database (PostgreSQL or SQLite).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/aluiziolira/go-price-harvester/models"
)

// ErrPersistenceConflict is returned when a category commit keeps hitting a
// unique-key race after one retry.
var ErrPersistenceConflict = errors.New("persistence conflict")

// ErrProductNotFound is returned by FindProduct when no product matches.
var ErrProductNotFound = errors.New("product not found")

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// commitAttempts bounds in-transaction retries of a conflicting commit.
const commitAttempts = 2

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// CommitStats counts what one category commit wrote.
type CommitStats struct {
	New     int
	Updated int
	Prices  int
}

// Store handles product and price persistence.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New wraps an open database handle. driver selects the schema dialect.
func New(db *sqlx.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Open connects to the database described by driver and dsn.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection also keeps
		// :memory: databases alive across calls.
		db.SetMaxOpenConns(1)
	}
	return New(db, driver), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the products and price_history tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := postgresSchema
	if s.driver == DriverSQLite {
		statements = sqliteSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CommitCategory writes every item of one category harvest in a single
// transaction: products are matched on (name, brand, category) and updated
// in place or inserted, and each item appends one price row. Nothing is kept
// if any write fails. A unique-key race is retried once.
func (s *Store) CommitCategory(ctx context.Context, category string, items []models.HarvestedItem) (CommitStats, error) {
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		stats, err := s.commitOnce(ctx, category, items)
		if err == nil {
			return stats, nil
		}
		if !isUniqueViolation(err) {
			return CommitStats{}, err
		}
		slog.Warn("unique conflict during category commit",
			slog.String("category", category),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}
	return CommitStats{}, fmt.Errorf("commit category %s: %w", category, ErrPersistenceConflict)
}

func (s *Store) commitOnce(ctx context.Context, category string, items []models.HarvestedItem) (CommitStats, error) {
	var stats CommitStats

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin commit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for i := range items {
		product := items[i].Product
		product.Category = category

		id, created, err := s.upsertProduct(ctx, tx, &product)
		if err != nil {
			return CommitStats{}, err
		}
		if created {
			stats.New++
		} else {
			stats.Updated++
		}

		price := items[i].Price
		price.ProductID = id
		if err := s.appendPrice(ctx, tx, &price); err != nil {
			return CommitStats{}, err
		}
		stats.Prices++
	}

	if err := tx.Commit(); err != nil {
		return CommitStats{}, fmt.Errorf("commit category transaction: %w", err)
	}
	return stats, nil
}

func (s *Store) upsertProduct(ctx context.Context, tx *sqlx.Tx, p *models.ProductRecord) (int64, bool, error) {
	var existing models.ProductRecord
	err := tx.GetContext(ctx, &existing, s.db.Rebind(`
		SELECT `+productColumns+`
		FROM products
		WHERE name = ? AND brand = ? AND category = ?`),
		p.Name, p.Brand, p.Category)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		var id int64
		err := tx.GetContext(ctx, &id, s.db.Rebind(`
			INSERT INTO products (name, category, brand, description, features, rating, review_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
			p.Name, p.Category, p.Brand, p.Description, p.Features, p.Rating, p.ReviewCount, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return 0, false, fmt.Errorf("insert product %q: %w", p.Name, err)
		}
		return id, true, nil
	case err != nil:
		return 0, false, fmt.Errorf("find product %q: %w", p.Name, err)
	}

	merged := mergeProduct(existing, *p)
	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE products
		SET description = ?, features = ?, rating = ?, review_count = ?, updated_at = ?
		WHERE id = ?`),
		merged.Description, merged.Features, merged.Rating, merged.ReviewCount, merged.UpdatedAt, existing.ID)
	if err != nil {
		return 0, false, fmt.Errorf("update product %d: %w", existing.ID, err)
	}
	return existing.ID, false, nil
}

// mergeProduct overlays freshly harvested mutable fields onto the stored
// product. Values missing from the fresh harvest keep their stored value.
func mergeProduct(stored, fresh models.ProductRecord) models.ProductRecord {
	merged := stored
	if fresh.Description != "" {
		merged.Description = fresh.Description
	}
	if fresh.Features != "" {
		merged.Features = fresh.Features
	}
	if fresh.Rating != nil {
		merged.Rating = fresh.Rating
	}
	if fresh.ReviewCount != nil {
		merged.ReviewCount = fresh.ReviewCount
	}
	merged.UpdatedAt = fresh.UpdatedAt
	return merged
}

func (s *Store) appendPrice(ctx context.Context, tx *sqlx.Tx, p *models.PriceRecord) error {
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO price_history (product_id, price, original_price, discount_percentage, currency, source, url, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ProductID, p.Price, p.OriginalPrice, p.DiscountPercentage, p.Currency, p.Source, p.URL, p.Timestamp)
	if err != nil {
		return fmt.Errorf("append price for product %d: %w", p.ProductID, err)
	}
	return nil
}

// FindProduct returns the product identified by (name, brand, category).
func (s *Store) FindProduct(ctx context.Context, name, brand, category string) (*models.ProductRecord, error) {
	var p models.ProductRecord
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`
		SELECT `+productColumns+`
		FROM products
		WHERE name = ? AND brand = ? AND category = ?`),
		name, brand, category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	return &p, nil
}

// ProductsByCategory lists a category's products ordered by name.
func (s *Store) ProductsByCategory(ctx context.Context, category string) ([]models.ProductRecord, error) {
	var products []models.ProductRecord
	err := s.db.SelectContext(ctx, &products, s.db.Rebind(`
		SELECT `+productColumns+`
		FROM products
		WHERE category = ?
		ORDER BY name, brand`), category)
	if err != nil {
		return nil, fmt.Errorf("list products for %s: %w", category, err)
	}
	return products, nil
}

// PriceHistory returns a product's price observations, oldest first.
func (s *Store) PriceHistory(ctx context.Context, productID int64) ([]models.PriceRecord, error) {
	var prices []models.PriceRecord
	err := s.db.SelectContext(ctx, &prices, s.db.Rebind(`
		SELECT id, product_id, price, original_price, discount_percentage, currency, source, url, timestamp
		FROM price_history
		WHERE product_id = ?
		ORDER BY timestamp, id`), productID)
	if err != nil {
		return nil, fmt.Errorf("price history for %d: %w", productID, err)
	}
	return prices, nil
}

const productColumns = `id, name, category, brand, description, features, rating, review_count, created_at, updated_at`

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}
	return false
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		category VARCHAR(100) NOT NULL,
		brand VARCHAR(100) NOT NULL DEFAULT '',
		description VARCHAR(1000) NOT NULL DEFAULT '',
		features TEXT NOT NULL DEFAULT '',
		rating DOUBLE PRECISION,
		review_count INTEGER,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS products_identity_idx ON products (name, brand, category)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		price DOUBLE PRECISION NOT NULL CHECK (price > 0),
		original_price DOUBLE PRECISION,
		discount_percentage DOUBLE PRECISION,
		currency CHAR(3) NOT NULL,
		source VARCHAR(50) NOT NULL,
		url VARCHAR(500) NOT NULL DEFAULT '',
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_product_idx ON price_history (product_id, timestamp)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		brand TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		features TEXT NOT NULL DEFAULT '',
		rating REAL,
		review_count INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS products_identity_idx ON products (name, brand, category)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		price REAL NOT NULL CHECK (price > 0),
		original_price REAL,
		discount_percentage REAL,
		currency TEXT NOT NULL,
		source TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_product_idx ON price_history (product_id, timestamp)`,
}
