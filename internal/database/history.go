package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dorofeevb1/sodrugestvobot/internal/history"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

var _ history.Store = (*HistoryRepository)(nil)

// HistoryRepository is the PostgreSQL price_history store. Rows are only ever inserted.
type HistoryRepository struct {
	db *DB
}

func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Append(ctx context.Context, productID int64, price decimal.Decimal, at time.Time) (*models.PriceHistoryRecord, error) {
	var rec *models.PriceHistoryRecord
	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var err error
		rec, err = r.AppendTx(ctx, tx, productID, price, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AppendTx inserts a record inside a caller-owned transaction.
func (r *HistoryRepository) AppendTx(ctx context.Context, tx pgx.Tx, productID int64, price decimal.Decimal, at time.Time) (*models.PriceHistoryRecord, error) {
	if at.IsZero() {
		at = time.Now()
	}

	rec := &models.PriceHistoryRecord{ProductID: productID, Price: price}
	query := `
		INSERT INTO price_history (product_id, price, timestamp)
		VALUES ($1, $2, $3)
		RETURNING id, timestamp`

	if err := tx.QueryRow(ctx, query, productID, price, at).Scan(&rec.ID, &rec.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to append price history: %w", err)
	}
	return rec, nil
}

func (r *HistoryRepository) Latest(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	query := `
		SELECT price FROM price_history
		WHERE product_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`

	var p decimal.Decimal
	err := r.db.pool.QueryRow(ctx, query, productID).Scan(&p)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to get latest price: %w", err)
	}
	return p, true, nil
}

func (r *HistoryRepository) History(ctx context.Context, productID int64, limit int) ([]models.PriceHistoryRecord, error) {
	query := `
		SELECT id, product_id, price, timestamp FROM price_history
		WHERE product_id = $1
		ORDER BY timestamp DESC, id DESC`
	args := []interface{}{productID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	defer rows.Close()

	var records []models.PriceHistoryRecord
	for rows.Next() {
		var rec models.PriceHistoryRecord
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.Price, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan price history: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}
