// Package history defines the append-only price time series.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

// Store is an append-only price series per product.
type Store interface {
	Append(ctx context.Context, productID int64, price decimal.Decimal, at time.Time) (*models.PriceHistoryRecord, error)
	// Latest reports false when the product has no history yet.
	Latest(ctx context.Context, productID int64) (decimal.Decimal, bool, error)
	// History returns newest first; limit <= 0 returns everything.
	History(ctx context.Context, productID int64, limit int) ([]models.PriceHistoryRecord, error)
}

// MemoryStore is a concurrency-safe in-memory Store. The service persists
// history in Postgres; MemoryStore is the reference behavior the scheduler
// tests run against.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64][]models.PriceHistoryRecord // ascending by timestamp
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64][]models.PriceHistoryRecord),
	}
}

func (s *MemoryStore) Append(ctx context.Context, productID int64, price decimal.Decimal, at time.Time) (*models.PriceHistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.records[productID]
	// Clock skew must not reorder the series.
	if n := len(series); n > 0 && !at.After(series[n-1].Timestamp) {
		at = series[n-1].Timestamp.Add(time.Microsecond)
	}

	s.nextID++
	rec := models.PriceHistoryRecord{
		ID:        s.nextID,
		ProductID: productID,
		Price:     price,
		Timestamp: at,
	}
	s.records[productID] = append(series, rec)

	return &rec, nil
}

func (s *MemoryStore) Latest(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.records[productID]
	if len(series) == 0 {
		return decimal.Zero, false, nil
	}
	return series[len(series)-1].Price, true, nil
}

func (s *MemoryStore) History(ctx context.Context, productID int64, limit int) ([]models.PriceHistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.records[productID]
	n := len(series)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]models.PriceHistoryRecord, 0, n)
	for i := len(series) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, series[i])
	}
	return out, nil
}

// Ascending returns a copy of records oldest first. The history endpoint
// uses it for order=asc.
func Ascending(records []models.PriceHistoryRecord) []models.PriceHistoryRecord {
	out := make([]models.PriceHistoryRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
