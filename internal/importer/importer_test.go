package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

// MockTracker is a mock for Tracker
type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) Track(ctx context.Context, telegramID int64, username, url string) (*models.Product, error) {
	args := m.Called(ctx, telegramID, username, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

const (
	wbURL   = "https://www.wildberries.ru/catalog/1/detail.aspx"
	ozonURL = "https://www.ozon.ru/product/2"
	badURL  = "https://example.com/3"
)

func TestImport_MixedFile(t *testing.T) {
	ctx := context.Background()
	tracker := new(MockTracker)

	input := strings.Join([]string{
		"# wishlist",
		"  " + wbURL + "  ",
		"",
		badURL,
		"   ",
		ozonURL,
	}, "\n")

	tracker.On("Track", ctx, int64(7), "eve", wbURL).
		Return(&models.Product{ID: 1, Name: "Кроссовки", CurrentPrice: decimal.NewFromInt(4990)}, nil)
	tracker.On("Track", ctx, int64(7), "eve", badURL).
		Return(nil, apperrors.NewUnsupportedPlatform(badURL, "example.com"))
	tracker.On("Track", ctx, int64(7), "eve", ozonURL).
		Return(nil, apperrors.NewDuplicateProduct(ozonURL))

	im := New(tracker, 0, 10, slog.Default())
	report, err := im.Import(ctx, 7, "eve", strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, report.Successes, 1)
	assert.Equal(t, 2, report.Successes[0].Number)
	assert.Equal(t, wbURL, report.Successes[0].URL)
	assert.Equal(t, "Добавлен товар: Кроссовки (4990.00 ₽)", report.Successes[0].Message)

	require.Len(t, report.Errors, 2)
	assert.Equal(t, Line{Number: 4, URL: badURL, Message: "Неподдерживаемая площадка"}, report.Errors[0])
	assert.Equal(t, Line{Number: 6, URL: ozonURL, Message: "Товар уже отслеживается"}, report.Errors[1])
	assert.Equal(t, 3, report.Total())

	tracker.AssertNumberOfCalls(t, "Track", 3)
}

func TestImport_BlankInput(t *testing.T) {
	tracker := new(MockTracker)
	im := New(tracker, 0, 10, slog.Default())

	report, err := im.Import(context.Background(), 7, "", strings.NewReader("\n\n  \n# only a comment\n"))
	require.NoError(t, err)
	assert.Empty(t, report.Successes)
	assert.Empty(t, report.Errors)
	tracker.AssertNotCalled(t, "Track", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestImport_TooManyLines(t *testing.T) {
	tracker := new(MockTracker)
	im := New(tracker, 0, 2, slog.Default())

	input := fmt.Sprintf("%s\n%s\n\n%s\n", wbURL, ozonURL, badURL)
	report, err := im.Import(context.Background(), 7, "", strings.NewReader(input))

	assert.ErrorIs(t, err, ErrTooManyLines)
	assert.Nil(t, report)
	tracker.AssertNotCalled(t, "Track", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestImport_CancelReturnsPartialReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker := new(MockTracker)

	tracker.On("Track", ctx, int64(7), "", wbURL).
		Run(func(mock.Arguments) { cancel() }).
		Return(&models.Product{ID: 1, Name: "Кроссовки", CurrentPrice: decimal.NewFromInt(100)}, nil)

	im := New(tracker, time.Hour, 10, slog.Default())
	report, err := im.Import(ctx, 7, "", strings.NewReader(wbURL+"\n"+ozonURL+"\n"))

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Len(t, report.Successes, 1)
	assert.Empty(t, report.Errors)
	tracker.AssertNumberOfCalls(t, "Track", 1)
}

func TestImport_PausesBetweenLines(t *testing.T) {
	ctx := context.Background()
	tracker := new(MockTracker)
	tracker.On("Track", ctx, int64(7), "", mock.Anything).
		Return(&models.Product{CurrentPrice: decimal.NewFromInt(1)}, nil)

	im := New(tracker, 20*time.Millisecond, 10, slog.Default())
	start := time.Now()
	report, err := im.Import(ctx, 7, "", strings.NewReader(wbURL+"\n"+ozonURL+"\n"+badURL))
	require.NoError(t, err)

	assert.Len(t, report.Successes, 3)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "two pauses for three links")
	assert.Equal(t, "Добавлен товар: Без названия (1.00 ₽)", report.Successes[0].Message)
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"invalid url", apperrors.NewInvalidURL("x", nil), "Некорректная ссылка"},
		{"timeout", apperrors.NewFetchTimeout(models.PlatformOzon, ozonURL, nil), "Страница не загрузилась вовремя"},
		{"blocked", apperrors.NewBlocked(models.PlatformOzon, ozonURL, "captcha"), "Площадка временно ограничила доступ"},
		{"extraction", apperrors.NewExtraction(models.PlatformOzon, ozonURL, "no price"), "Не удалось найти цену на странице"},
		{"price parse", apperrors.NewPriceParse("abc", nil), "Не удалось распознать цену"},
		{"wrapped", fmt.Errorf("failed to create product: %w", apperrors.NewDuplicateProduct(ozonURL)), "Товар уже отслеживается"},
		{"unclassified", assert.AnError, "Внутренняя ошибка"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, failureMessage(tt.err))
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	im := New(nil, -1, 0, slog.Default())
	assert.Equal(t, DefaultLineDelay, im.lineDelay)
	assert.Equal(t, DefaultMaxLines, im.maxLines)
}
