// Package tracking implements the per-user product operations behind the bot.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dorofeevb1/sodrugestvobot/internal/database"
	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

// ErrNotFound covers unknown users, unknown products and products owned by someone else.
var ErrNotFound = database.ErrNotFound

type UserStore interface {
	Upsert(ctx context.Context, telegramID int64, username string) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
}

type ProductStore interface {
	Create(ctx context.Context, userID int64, res *models.ExtractionResult) (*models.Product, error)
	Get(ctx context.Context, id int64) (*models.Product, error)
	FindByUserURL(ctx context.Context, userID int64, url string) (*models.Product, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Product, error)
	Delete(ctx context.Context, userID, productID int64) error
	Stats(ctx context.Context, userID int64) (*models.UserStats, error)
}

type HistoryStore interface {
	History(ctx context.Context, productID int64, limit int) ([]models.PriceHistoryRecord, error)
}

type ProductDataService interface {
	GetProductData(ctx context.Context, url string) (*models.ExtractionResult, error)
}

type Tracker struct {
	users    UserStore
	products ProductStore
	history  HistoryStore
	service  ProductDataService
	logger   *slog.Logger
}

func NewTracker(users UserStore, products ProductStore, history HistoryStore, service ProductDataService, logger *slog.Logger) *Tracker {
	return &Tracker{
		users:    users,
		products: products,
		history:  history,
		service:  service,
		logger:   logger.With("component", "tracker"),
	}
}

// Track fetches the page and starts tracking it for the user.
// The duplicate check runs before the fetch so a known URL costs no browser time;
// the unique index still settles concurrent races.
func (t *Tracker) Track(ctx context.Context, telegramID int64, username, url string) (*models.Product, error) {
	url = strings.TrimSpace(url)

	user, err := t.users.Upsert(ctx, telegramID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	existing, err := t.products.FindByUserURL(ctx, user.ID, url)
	switch {
	case err == nil && existing != nil:
		return nil, apperrors.NewDuplicateProduct(url)
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("failed to check existing product: %w", err)
	}

	res, err := t.service.GetProductData(ctx, url)
	if err != nil {
		return nil, err
	}

	product, err := t.products.Create(ctx, user.ID, res)
	if err != nil {
		return nil, err
	}

	t.logger.Info("product tracked",
		"telegram_id", telegramID,
		"product_id", product.ID,
		"platform", product.Platform,
		"price", product.CurrentPrice)

	return product, nil
}

// List returns the user's products, newest first. Unknown users have none.
func (t *Tracker) List(ctx context.Context, telegramID int64) ([]*models.Product, error) {
	user, err := t.users.GetByTelegramID(ctx, telegramID)
	if errors.Is(err, ErrNotFound) {
		return []*models.Product{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	products, err := t.products.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []*models.Product{}
	}
	return products, nil
}

func (t *Tracker) Untrack(ctx context.Context, telegramID, productID int64) error {
	user, err := t.users.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}

	if err := t.products.Delete(ctx, user.ID, productID); err != nil {
		return err
	}

	t.logger.Info("product untracked", "telegram_id", telegramID, "product_id", productID)
	return nil
}

// History returns price records newest first after checking ownership.
func (t *Tracker) History(ctx context.Context, telegramID, productID int64, limit int) ([]models.PriceHistoryRecord, error) {
	if _, err := t.ownedProduct(ctx, telegramID, productID); err != nil {
		return nil, err
	}

	records, err := t.history.History(ctx, productID, limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.PriceHistoryRecord{}
	}
	return records, nil
}

func (t *Tracker) Stats(ctx context.Context, telegramID int64) (*models.UserStats, error) {
	user, err := t.users.GetByTelegramID(ctx, telegramID)
	if errors.Is(err, ErrNotFound) {
		return &models.UserStats{ByPlatform: map[models.Platform]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return t.products.Stats(ctx, user.ID)
}

func (t *Tracker) ownedProduct(ctx context.Context, telegramID, productID int64) (*models.Product, error) {
	user, err := t.users.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	product, err := t.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.UserID != user.ID {
		return nil, ErrNotFound
	}
	return product, nil
}
