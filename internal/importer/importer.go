// Package importer tracks a batch of product links supplied as plain text.
package importer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
	"github.com/dorofeevb1/sodrugestvobot/internal/price"
)

const (
	DefaultLineDelay = time.Second
	DefaultMaxLines  = 500
)

// ErrTooManyLines is returned before any link is processed.
var ErrTooManyLines = errors.New("too many links")

type Tracker interface {
	Track(ctx context.Context, telegramID int64, username, url string) (*models.Product, error)
}

type Line struct {
	Number  int    `json:"line"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

type Report struct {
	Successes []Line `json:"successes"`
	Errors    []Line `json:"errors"`
}

func (r *Report) Total() int {
	return len(r.Successes) + len(r.Errors)
}

type Importer struct {
	tracker   Tracker
	lineDelay time.Duration
	maxLines  int
	logger    *slog.Logger
}

func New(tracker Tracker, lineDelay time.Duration, maxLines int, logger *slog.Logger) *Importer {
	if lineDelay < 0 {
		lineDelay = DefaultLineDelay
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Importer{
		tracker:   tracker,
		lineDelay: lineDelay,
		maxLines:  maxLines,
		logger:    logger.With("component", "importer"),
	}
}

type link struct {
	number int
	url    string
}

// Import tracks every link in r for the user. Failures on one line do not
// stop the others. On cancellation the partial report is returned with ctx.Err().
func (im *Importer) Import(ctx context.Context, telegramID int64, username string, r io.Reader) (*Report, error) {
	links, err := im.readLinks(r)
	if err != nil {
		return nil, err
	}

	report := &Report{Successes: []Line{}, Errors: []Line{}}
	im.logger.Info("import started", "telegram_id", telegramID, "links", len(links))

	for i, l := range links {
		if i > 0 {
			if err := im.pause(ctx); err != nil {
				return report, err
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		product, err := im.tracker.Track(ctx, telegramID, username, l.url)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return report, ctx.Err()
			}
			im.logger.Warn("failed to import link",
				"line", l.number,
				"url", l.url,
				"kind", apperrors.KindOf(err),
				"error", err)
			report.Errors = append(report.Errors, Line{Number: l.number, URL: l.url, Message: failureMessage(err)})
			continue
		}

		report.Successes = append(report.Successes, Line{Number: l.number, URL: l.url, Message: successMessage(product)})
	}

	im.logger.Info("import finished",
		"telegram_id", telegramID,
		"successes", len(report.Successes),
		"errors", len(report.Errors))

	return report, nil
}

func (im *Importer) readLinks(r io.Reader) ([]link, error) {
	var links []link

	scanner := bufio.NewScanner(r)
	number := 0
	for scanner.Scan() {
		number++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		links = append(links, link{number: number, url: line})
		if len(links) > im.maxLines {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyLines, im.maxLines)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read links: %w", err)
	}

	return links, nil
}

func (im *Importer) pause(ctx context.Context) error {
	if im.lineDelay == 0 {
		return nil
	}
	timer := time.NewTimer(im.lineDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func successMessage(p *models.Product) string {
	name := p.Name
	if name == "" {
		name = "Без названия"
	}
	return fmt.Sprintf("Добавлен товар: %s (%s ₽)", name, price.Format(p.CurrentPrice))
}

func failureMessage(err error) string {
	switch apperrors.KindOf(err) {
	case apperrors.KindUnsupportedPlatform:
		return "Неподдерживаемая площадка"
	case apperrors.KindInvalidURL:
		return "Некорректная ссылка"
	case apperrors.KindDuplicateProduct:
		return "Товар уже отслеживается"
	case apperrors.KindFetchTimeout:
		return "Страница не загрузилась вовремя"
	case apperrors.KindBlocked:
		return "Площадка временно ограничила доступ"
	case apperrors.KindExtraction:
		return "Не удалось найти цену на странице"
	case apperrors.KindPriceParse:
		return "Не удалось распознать цену"
	default:
		return "Внутренняя ошибка"
	}
}
