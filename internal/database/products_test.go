package database

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

func extraction(url string, current, original string) *models.ExtractionResult {
	c := decimal.RequireFromString(current)
	o := decimal.RequireFromString(original)
	return &models.ExtractionResult{
		URL:           url,
		Platform:      models.PlatformOzon,
		Name:          "Товар",
		CurrentPrice:  c,
		OriginalPrice: o,
		Discount:      decimal.NewFromInt(1).Sub(c.Div(o)).Mul(decimal.NewFromInt(100)).Round(2),
		FetchedAt:     time.Now(),
	}
}

func TestNewProductEvent(t *testing.T) {
	d := decimal.RequireFromString("20")
	p := &models.Product{
		ID:            42,
		UserID:        7,
		URL:           "https://www.ozon.ru/product/1",
		Platform:      models.PlatformOzon,
		Name:          "Товар",
		CurrentPrice:  decimal.RequireFromString("800"),
		OriginalPrice: decimal.RequireFromString("1000"),
		Discount:      &d,
	}
	old := decimal.RequireFromString("900.5")

	e := newProductEvent(EventPriceUpdated, p, &old, DefaultEventsStream)
	require.NoError(t, e.validate())

	assert.Equal(t, int64(42), e.ProductID)
	assert.Equal(t, EventPriceUpdated, e.Type)
	assert.Equal(t, StatePending, e.State)
	assert.Equal(t, DefaultEventsStream, e.Stream)

	assert.Equal(t, e.ID.String(), e.Payload.EventID)
	assert.Equal(t, int64(7), e.Payload.UserID)
	assert.Equal(t, "800.00", e.Payload.CurrentPrice)
	assert.Equal(t, "1000.00", e.Payload.OriginalPrice)
	assert.Equal(t, "20.00", e.Payload.Discount)
	assert.Equal(t, "900.50", e.Payload.OldPrice)
	assert.Equal(t, "pricewatch", e.Payload.Source)

	tracked := newProductEvent(EventProductTracked, p, nil, DefaultEventsStream)
	assert.Empty(t, tracked.Payload.OldPrice)
	assert.NotEqual(t, e.ID, tracked.ID)
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	users := NewUserRepository(db)
	products := NewProductRepository(db, "")
	history := NewHistoryRepository(db)
	events := NewEventStore(db)

	alice, err := users.Upsert(ctx, 1001, "alice")
	require.NoError(t, err)
	bob, err := users.Upsert(ctx, 1002, "")
	require.NoError(t, err)

	const url = "https://www.ozon.ru/product/smartfon-1"

	created, err := products.Create(ctx, alice.ID, extraction(url, "800", "1000"))
	require.NoError(t, err)

	t.Run("create writes history and event", func(t *testing.T) {
		assert.NotZero(t, created.ID)
		require.NotNil(t, created.Discount)
		assert.True(t, decimal.NewFromInt(20).Equal(*created.Discount))

		records, err := history.History(ctx, created.ID, 0)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, decimal.NewFromInt(800).Equal(records[0].Price))

		due, err := events.Due(ctx, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, EventProductTracked, due[0].Type)
		assert.Equal(t, created.ID, due[0].ProductID)
	})

	t.Run("duplicate url for same user rejected", func(t *testing.T) {
		_, err := products.Create(ctx, alice.ID, extraction(url, "800", "1000"))
		assert.ErrorIs(t, err, apperrors.ErrDuplicateProduct)
	})

	t.Run("same url for another user allowed", func(t *testing.T) {
		_, err := products.Create(ctx, bob.ID, extraction(url, "800", "800"))
		assert.NoError(t, err)
	})

	t.Run("record price appends and updates", func(t *testing.T) {
		res := extraction(url, "700", "1000")
		res.Name = ""

		updated, err := products.RecordPrice(ctx, created.ID, res)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(700).Equal(updated.CurrentPrice))
		assert.Equal(t, "Товар", updated.Name, "empty name keeps the stored one")

		latest, ok, err := history.Latest(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, decimal.NewFromInt(700).Equal(latest))

		records, err := history.History(ctx, created.ID, 0)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("record price for missing product", func(t *testing.T) {
		_, err := products.RecordPrice(ctx, 999999, extraction(url, "1", "1"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list active carries the owner's telegram id", func(t *testing.T) {
		active, err := products.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 2)

		owners := map[int64]int64{}
		for _, p := range active {
			owners[p.UserID] = p.TelegramID
		}
		assert.Equal(t, map[int64]int64{alice.ID: 1001, bob.ID: 1002}, owners)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := products.Stats(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalProducts)
		assert.Equal(t, 1, stats.ByPlatform[models.PlatformOzon])
		assert.True(t, decimal.NewFromInt(700).Equal(stats.MaxPrice))
	})

	t.Run("delete is scoped by owner", func(t *testing.T) {
		assert.ErrorIs(t, products.Delete(ctx, bob.ID, created.ID), ErrNotFound)
		require.NoError(t, products.Delete(ctx, alice.ID, created.ID))

		_, err := products.Get(ctx, created.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		records, err := history.History(ctx, created.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, records, "history is removed with the product")
	})

	t.Run("upsert keeps known username", func(t *testing.T) {
		u, err := users.Upsert(ctx, 1001, "")
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
		assert.Equal(t, alice.ID, u.ID)

		_, err = users.GetByTelegramID(ctx, 5555)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
