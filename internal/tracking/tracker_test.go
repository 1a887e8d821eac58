package tracking

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

// MockUserStore is a mock for UserStore
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) Upsert(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	args := m.Called(ctx, telegramID, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserStore) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// MockProductStore is a mock for ProductStore
type MockProductStore struct {
	mock.Mock
}

func (m *MockProductStore) Create(ctx context.Context, userID int64, res *models.ExtractionResult) (*models.Product, error) {
	args := m.Called(ctx, userID, res)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockProductStore) Get(ctx context.Context, id int64) (*models.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockProductStore) FindByUserURL(ctx context.Context, userID int64, url string) (*models.Product, error) {
	args := m.Called(ctx, userID, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockProductStore) ListByUser(ctx context.Context, userID int64) ([]*models.Product, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Product), args.Error(1)
}

func (m *MockProductStore) Delete(ctx context.Context, userID, productID int64) error {
	return m.Called(ctx, userID, productID).Error(0)
}

func (m *MockProductStore) Stats(ctx context.Context, userID int64) (*models.UserStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserStats), args.Error(1)
}

// MockHistoryStore is a mock for HistoryStore
type MockHistoryStore struct {
	mock.Mock
}

func (m *MockHistoryStore) History(ctx context.Context, productID int64, limit int) ([]models.PriceHistoryRecord, error) {
	args := m.Called(ctx, productID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PriceHistoryRecord), args.Error(1)
}

// MockService is a mock for ProductDataService
type MockService struct {
	mock.Mock
}

func (m *MockService) GetProductData(ctx context.Context, url string) (*models.ExtractionResult, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExtractionResult), args.Error(1)
}

const (
	telegramID = int64(555)
	ozonURL    = "https://www.ozon.ru/product/1"
)

var user = &models.User{ID: 1, TelegramID: telegramID, Username: "bob"}

type fixture struct {
	users    *MockUserStore
	products *MockProductStore
	history  *MockHistoryStore
	service  *MockService
	tracker  *Tracker
}

func newFixture() *fixture {
	f := &fixture{
		users:    new(MockUserStore),
		products: new(MockProductStore),
		history:  new(MockHistoryStore),
		service:  new(MockService),
	}
	f.tracker = NewTracker(f.users, f.products, f.history, f.service, slog.Default())
	return f
}

func TestTrack(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches and creates", func(t *testing.T) {
		f := newFixture()
		res := &models.ExtractionResult{URL: ozonURL, Platform: models.PlatformOzon, CurrentPrice: decimal.NewFromInt(990)}
		product := &models.Product{ID: 10, UserID: user.ID, URL: ozonURL, Platform: models.PlatformOzon, CurrentPrice: res.CurrentPrice}

		f.users.On("Upsert", ctx, telegramID, "bob").Return(user, nil)
		f.products.On("FindByUserURL", ctx, user.ID, ozonURL).Return(nil, ErrNotFound)
		f.service.On("GetProductData", ctx, ozonURL).Return(res, nil)
		f.products.On("Create", ctx, user.ID, res).Return(product, nil)

		got, err := f.tracker.Track(ctx, telegramID, "bob", "  "+ozonURL+"\n")
		require.NoError(t, err)
		assert.Equal(t, product, got)

		f.users.AssertExpectations(t)
		f.products.AssertExpectations(t)
		f.service.AssertExpectations(t)
	})

	t.Run("known url is rejected before fetching", func(t *testing.T) {
		f := newFixture()
		f.users.On("Upsert", ctx, telegramID, "").Return(user, nil)
		f.products.On("FindByUserURL", ctx, user.ID, ozonURL).Return(&models.Product{ID: 10}, nil)

		_, err := f.tracker.Track(ctx, telegramID, "", ozonURL)

		assert.ErrorIs(t, err, apperrors.ErrDuplicateProduct)
		f.service.AssertNotCalled(t, "GetProductData", mock.Anything, mock.Anything)
	})

	t.Run("race lost at insert still reports duplicate", func(t *testing.T) {
		f := newFixture()
		res := &models.ExtractionResult{URL: ozonURL, CurrentPrice: decimal.NewFromInt(1)}

		f.users.On("Upsert", ctx, telegramID, "").Return(user, nil)
		f.products.On("FindByUserURL", ctx, user.ID, ozonURL).Return(nil, ErrNotFound)
		f.service.On("GetProductData", ctx, ozonURL).Return(res, nil)
		f.products.On("Create", ctx, user.ID, res).Return(nil, apperrors.NewDuplicateProduct(ozonURL))

		_, err := f.tracker.Track(ctx, telegramID, "", ozonURL)
		assert.ErrorIs(t, err, apperrors.ErrDuplicateProduct)
	})

	t.Run("extraction errors pass through classified", func(t *testing.T) {
		f := newFixture()
		f.users.On("Upsert", ctx, telegramID, "").Return(user, nil)
		f.products.On("FindByUserURL", ctx, user.ID, "https://example.com/x").Return(nil, ErrNotFound)
		f.service.On("GetProductData", ctx, "https://example.com/x").
			Return(nil, apperrors.NewUnsupportedPlatform("https://example.com/x", "example.com"))

		_, err := f.tracker.Track(ctx, telegramID, "", "https://example.com/x")

		assert.ErrorIs(t, err, apperrors.ErrUnsupportedPlatform)
		f.products.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user has no products", func(t *testing.T) {
		f := newFixture()
		f.users.On("GetByTelegramID", ctx, telegramID).Return(nil, ErrNotFound)

		products, err := f.tracker.List(ctx, telegramID)
		require.NoError(t, err)
		assert.NotNil(t, products)
		assert.Empty(t, products)
	})

	t.Run("returns user products", func(t *testing.T) {
		f := newFixture()
		want := []*models.Product{{ID: 1}, {ID: 2}}
		f.users.On("GetByTelegramID", ctx, telegramID).Return(user, nil)
		f.products.On("ListByUser", ctx, user.ID).Return(want, nil)

		products, err := f.tracker.List(ctx, telegramID)
		require.NoError(t, err)
		assert.Equal(t, want, products)
	})
}

func TestUntrack(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes owned product", func(t *testing.T) {
		f := newFixture()
		f.users.On("GetByTelegramID", ctx, telegramID).Return(user, nil)
		f.products.On("Delete", ctx, user.ID, int64(10)).Return(nil)

		require.NoError(t, f.tracker.Untrack(ctx, telegramID, 10))
	})

	t.Run("not owned", func(t *testing.T) {
		f := newFixture()
		f.users.On("GetByTelegramID", ctx, telegramID).Return(user, nil)
		f.products.On("Delete", ctx, user.ID, int64(10)).Return(ErrNotFound)

		assert.ErrorIs(t, f.tracker.Untrack(ctx, telegramID, 10), ErrNotFound)
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("owner sees history", func(t *testing.T) {
		f := newFixture()
		records := []models.PriceHistoryRecord{
			{ID: 2, ProductID: 10, Price: decimal.NewFromInt(90), Timestamp: time.Now()},
			{ID: 1, ProductID: 10, Price: decimal.NewFromInt(100), Timestamp: time.Now().Add(-time.Hour)},
		}
		f.users.On("GetByTelegramID", ctx, telegramID).Return(user, nil)
		f.products.On("Get", ctx, int64(10)).Return(&models.Product{ID: 10, UserID: user.ID}, nil)
		f.history.On("History", ctx, int64(10), 30).Return(records, nil)

		got, err := f.tracker.History(ctx, telegramID, 10, 30)
		require.NoError(t, err)
		assert.Equal(t, records, got)
	})

	t.Run("other user's product is not found", func(t *testing.T) {
		f := newFixture()
		f.users.On("GetByTelegramID", ctx, telegramID).Return(user, nil)
		f.products.On("Get", ctx, int64(10)).Return(&models.Product{ID: 10, UserID: 99}, nil)

		_, err := f.tracker.History(ctx, telegramID, 10, 0)
		assert.ErrorIs(t, err, ErrNotFound)
		f.history.AssertNotCalled(t, "History", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()

	f := newFixture()
	f.users.On("GetByTelegramID", ctx, telegramID).Return(nil, ErrNotFound)

	stats, err := f.tracker.Stats(ctx, telegramID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalProducts)
	assert.NotNil(t, stats.ByPlatform)
}
