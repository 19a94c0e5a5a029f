package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-price-harvester/models"
)

var harvestTime = time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func item(name, brand string, price float64, at time.Time) models.HarvestedItem {
	return models.HarvestedItem{
		Product: models.ProductRecord{
			Name:      name,
			Brand:     brand,
			Category:  "phones",
			Rating:    ptr(4.0),
			CreatedAt: at,
			UpdatedAt: at,
		},
		Price: models.PriceRecord{
			Price:     price,
			Currency:  "NGN",
			Source:    "jumia",
			URL:       "https://shop.test/" + name,
			Timestamp: at,
		},
	}
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestReharvestKeepsProductsAndAppendsPrices(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	first := []models.HarvestedItem{
		item("Galaxy A15", "Samsung", 150000, harvestTime),
		item("Redmi 13C", "Xiaomi", 98000, harvestTime),
		item("Spark 20", "", 120000, harvestTime),
	}
	stats, err := s.CommitCategory(ctx, "phones", first)
	require.NoError(t, err)
	assert.Equal(t, CommitStats{New: 3, Prices: 3}, stats)

	later := harvestTime.Add(24 * time.Hour)
	second := []models.HarvestedItem{
		item("Galaxy A15", "Samsung", 145000, later),
		item("Redmi 13C", "Xiaomi", 98000, later),
		item("Spark 20", "", 118000, later),
	}
	second[0].Product.Rating = ptr(4.4)
	second[1].Product.Rating = nil

	stats, err = s.CommitCategory(ctx, "phones", second)
	require.NoError(t, err)
	assert.Equal(t, CommitStats{Updated: 3, Prices: 3}, stats)

	products, err := s.ProductsByCategory(ctx, "phones")
	require.NoError(t, err)
	require.Len(t, products, 3)

	galaxy, err := s.FindProduct(ctx, "Galaxy A15", "Samsung", "phones")
	require.NoError(t, err)
	require.NotNil(t, galaxy.Rating)
	assert.Equal(t, 4.4, *galaxy.Rating)
	assert.True(t, galaxy.UpdatedAt.Equal(later))
	assert.True(t, galaxy.CreatedAt.Equal(harvestTime))

	redmi, err := s.FindProduct(ctx, "Redmi 13C", "Xiaomi", "phones")
	require.NoError(t, err)
	require.NotNil(t, redmi.Rating, "missing fresh rating keeps the stored one")
	assert.Equal(t, 4.0, *redmi.Rating)

	history, err := s.PriceHistory(ctx, galaxy.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 150000.0, history[0].Price)
	assert.Equal(t, 145000.0, history[1].Price)
}

func TestCommitCategoryIsAtomic(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	bad := item("Broken", "Acme", 0, harvestTime) // violates price > 0
	_, err := s.CommitCategory(ctx, "phones", []models.HarvestedItem{
		item("Good", "Acme", 10, harvestTime),
		bad,
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPersistenceConflict))

	products, err := s.ProductsByCategory(ctx, "phones")
	require.NoError(t, err)
	assert.Empty(t, products, "failed commit must leave nothing behind")
}

func TestCategoriesAreIndependent(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.CommitCategory(ctx, "phones", []models.HarvestedItem{item("Same Name", "Acme", 10, harvestTime)})
	require.NoError(t, err)
	stats, err := s.CommitCategory(ctx, "laptops", []models.HarvestedItem{item("Same Name", "Acme", 10, harvestTime)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.New, "same name and brand in another category is a different product")

	_, err = s.FindProduct(ctx, "Same Name", "Acme", "tablets")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "postgres"), DriverPostgres), mock
}

var productRowColumns = []string{"id", "name", "category", "brand", "description", "features", "rating", "review_count", "created_at", "updated_at"}

func TestCommitCategoryRetriesConflictOnce(t *testing.T) {
	s, mock := newMockStore(t)
	items := []models.HarvestedItem{item("Galaxy A15", "Samsung", 150000, harvestTime)}

	// First attempt: a concurrent writer inserts the same product first.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM products").
		WithArgs("Galaxy A15", "Samsung", "phones").
		WillReturnRows(sqlmock.NewRows(productRowColumns))
	mock.ExpectQuery("INSERT INTO products").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	// Retry sees the committed row and updates it.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM products").
		WithArgs("Galaxy A15", "Samsung", "phones").
		WillReturnRows(sqlmock.NewRows(productRowColumns).
			AddRow(7, "Galaxy A15", "phones", "Samsung", "", "", 4.0, nil, harvestTime, harvestTime))
	mock.ExpectExec("UPDATE products").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO price_history").
		WithArgs(int64(7), 150000.0, nil, nil, "NGN", "jumia", "https://shop.test/Galaxy A15", harvestTime).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stats, err := s.CommitCategory(context.Background(), "phones", items)
	require.NoError(t, err)
	assert.Equal(t, CommitStats{Updated: 1, Prices: 1}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitCategoryConflictSurfacesAfterRetry(t *testing.T) {
	s, mock := newMockStore(t)
	items := []models.HarvestedItem{item("Galaxy A15", "Samsung", 150000, harvestTime)}

	for i := 0; i < commitAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM products").
			WillReturnRows(sqlmock.NewRows(productRowColumns))
		mock.ExpectQuery("INSERT INTO products").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()
	}

	_, err := s.CommitCategory(context.Background(), "phones", items)
	assert.ErrorIs(t, err, ErrPersistenceConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitCategoryRollsBackOnPriceFailure(t *testing.T) {
	s, mock := newMockStore(t)
	items := []models.HarvestedItem{item("Galaxy A15", "Samsung", 150000, harvestTime)}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM products").
		WillReturnRows(sqlmock.NewRows(productRowColumns))
	mock.ExpectQuery("INSERT INTO products").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("INSERT INTO price_history").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.CommitCategory(context.Background(), "phones", items)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPersistenceConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeProduct(t *testing.T) {
	stored := models.ProductRecord{ID: 3, Description: "old", Rating: ptr(3.0), ReviewCount: ptr(10), CreatedAt: harvestTime, UpdatedAt: harvestTime}
	later := harvestTime.Add(time.Hour)

	merged := mergeProduct(stored, models.ProductRecord{ReviewCount: ptr(12), UpdatedAt: later})
	assert.Equal(t, "old", merged.Description)
	assert.Equal(t, 3.0, *merged.Rating)
	assert.Equal(t, 12, *merged.ReviewCount)
	assert.True(t, merged.UpdatedAt.Equal(later))
	assert.True(t, merged.CreatedAt.Equal(harvestTime))
}
