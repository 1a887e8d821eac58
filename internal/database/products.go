package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

// ProductRepository handles tracked products. Every state change writes its
// history row and product event in the same transaction.
type ProductRepository struct {
	db      *DB
	history *HistoryRepository
	events  *EventStore
	stream  string
}

func NewProductRepository(db *DB, eventsStream string) *ProductRepository {
	if eventsStream == "" {
		eventsStream = DefaultEventsStream
	}
	return &ProductRepository{
		db:      db,
		history: NewHistoryRepository(db),
		events:  NewEventStore(db),
		stream:  eventsStream,
	}
}

const productColumns = `id, user_id, url, platform, name, current_price, original_price,
	discount, created_at, last_updated, is_active`

// Create inserts the product with its first history record and a
// PRODUCT_TRACKED event. A second product with the same (user, url) fails
// with a duplicate_product error.
func (r *ProductRepository) Create(ctx context.Context, userID int64, res *models.ExtractionResult) (*models.Product, error) {
	p := models.NewProduct(userID, res)
	if problems := p.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid product: %v", problems)
	}

	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO products (user_id, url, platform, name, current_price, original_price, discount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, last_updated`

		err := tx.QueryRow(ctx, query,
			p.UserID, p.URL, p.Platform, p.Name, p.CurrentPrice, p.OriginalPrice, nullDecimal(p.Discount),
		).Scan(&p.ID, &p.CreatedAt, &p.LastUpdated)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.NewDuplicateProduct(p.URL)
			}
			return fmt.Errorf("failed to insert product: %w", err)
		}

		if _, err := r.history.AppendTx(ctx, tx, p.ID, p.CurrentPrice, res.FetchedAt); err != nil {
			return err
		}

		return r.events.Enqueue(ctx, tx, newProductEvent(EventProductTracked, p, nil, r.stream))
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// RecordPrice stores a fresh observation: history append, product update and
// a PRICE_UPDATED event, all or nothing. An empty name keeps the stored one.
func (r *ProductRepository) RecordPrice(ctx context.Context, productID int64, res *models.ExtractionResult) (*models.Product, error) {
	var p *models.Product

	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var old decimal.Decimal
		err := tx.QueryRow(ctx, `SELECT current_price FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&old)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock product: %w", err)
		}

		updatedAt := res.FetchedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}

		var discount *decimal.Decimal
		if res.Discount.IsPositive() {
			d := res.Discount
			discount = &d
		}

		query := `
			UPDATE products SET
				name = COALESCE(NULLIF($2, ''), name),
				current_price = $3,
				original_price = $4,
				discount = $5,
				last_updated = $6
			WHERE id = $1
			RETURNING ` + productColumns

		p, err = scanProduct(tx.QueryRow(ctx, query,
			productID, res.Name, res.CurrentPrice, res.OriginalPrice, nullDecimal(discount), updatedAt))
		if err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}

		if _, err := r.history.AppendTx(ctx, tx, productID, res.CurrentPrice, updatedAt); err != nil {
			return err
		}

		return r.events.Enqueue(ctx, tx, newProductEvent(EventPriceUpdated, p, &old, r.stream))
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (r *ProductRepository) Get(ctx context.Context, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// FindByUserURL backs the early duplicate check before a page is fetched.
func (r *ProductRepository) FindByUserURL(ctx context.Context, userID int64, url string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE user_id = $1 AND url = $2`

	p, err := scanProduct(r.db.pool.QueryRow(ctx, query, userID, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return p, nil
}

func (r *ProductRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	return r.list(ctx, query, userID)
}

// ListActive returns every product the scheduler should re-check, with the
// owner's Telegram ID so alerts can be addressed without another lookup.
func (r *ProductRepository) ListActive(ctx context.Context) ([]*models.Product, error) {
	query := `
		SELECT p.id, p.user_id, p.url, p.platform, p.name, p.current_price, p.original_price,
			p.discount, p.created_at, p.last_updated, p.is_active, u.telegram_id
		FROM products p
		JOIN users u ON u.id = p.user_id
		WHERE p.is_active
		ORDER BY p.id`

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		var telegramID int64
		p, err := scanProduct(rows, &telegramID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.TelegramID = telegramID
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return products, nil
}

func (r *ProductRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Product, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return products, nil
}

// Delete removes a product owned by userID; history goes with it via cascade.
func (r *ProductRepository) Delete(ctx context.Context, userID, productID int64) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM products WHERE id = $1 AND user_id = $2`, productID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ProductRepository) Stats(ctx context.Context, userID int64) (*models.UserStats, error) {
	stats := &models.UserStats{ByPlatform: make(map[models.Platform]int)}

	var avgPrice, minPrice, maxPrice, avgDiscount, maxDiscount decimal.NullDecimal
	query := `
		SELECT
			COUNT(*),
			ROUND(AVG(current_price), 2),
			MIN(current_price),
			MAX(current_price),
			ROUND(AVG(COALESCE(discount, 0)), 2),
			MAX(COALESCE(discount, 0))
		FROM products
		WHERE user_id = $1`

	err := r.db.pool.QueryRow(ctx, query, userID).Scan(
		&stats.TotalProducts, &avgPrice, &minPrice, &maxPrice, &avgDiscount, &maxDiscount)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	stats.AvgPrice = avgPrice.Decimal
	stats.MinPrice = minPrice.Decimal
	stats.MaxPrice = maxPrice.Decimal
	stats.AvgDiscount = avgDiscount.Decimal
	stats.MaxDiscount = maxDiscount.Decimal

	rows, err := r.db.pool.Query(ctx,
		`SELECT platform, COUNT(*) FROM products WHERE user_id = $1 GROUP BY platform`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count by platform: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var platform models.Platform
		var count int
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, fmt.Errorf("failed to scan platform count: %w", err)
		}
		stats.ByPlatform[platform] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

// scanProduct reads productColumns followed by any extra columns into extra.
func scanProduct(row pgx.Row, extra ...interface{}) (*models.Product, error) {
	p := &models.Product{}
	var discount decimal.NullDecimal

	dest := []interface{}{
		&p.ID, &p.UserID, &p.URL, &p.Platform, &p.Name, &p.CurrentPrice, &p.OriginalPrice,
		&discount, &p.CreatedAt, &p.LastUpdated, &p.Active,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	if discount.Valid {
		d := discount.Decimal
		p.Discount = &d
	}
	return p, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
