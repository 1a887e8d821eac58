package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dorofeevb1/sodrugestvobot/internal/browser"
	"github.com/dorofeevb1/sodrugestvobot/internal/cooldown"
	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/extractor"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
	"github.com/dorofeevb1/sodrugestvobot/internal/platform"
	"github.com/dorofeevb1/sodrugestvobot/internal/price"
	"github.com/dorofeevb1/sodrugestvobot/internal/ratelimit"
)

// RetryPolicy controls how transient failures are retried.
// Attempt n waits n*Delay (plus up to Jitter) before attempt n+1.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Jitter      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       5 * time.Second,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	var attempt int64
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * p.Delay, false
	})

	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return retry.WithMaxRetries(uint64(maxAttempts-1), b)
}

type Options struct {
	Retry          RetryPolicy
	ElementTimeout time.Duration
	BlockCooldown  time.Duration
	Pacer          ratelimit.RateLimiter
	Cooldown       cooldown.Cooldown
}

// Service turns a product URL into an ExtractionResult.
type Service struct {
	fetcher        browser.PageFetcher
	extractors     extractor.Registry
	pacer          ratelimit.RateLimiter
	cooldown       cooldown.Cooldown
	retry          RetryPolicy
	elementTimeout time.Duration
	blockCooldown  time.Duration
	logger         *slog.Logger
}

func NewService(fetcher browser.PageFetcher, extractors extractor.Registry, opts Options, logger *slog.Logger) *Service {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Pacer == nil {
		opts.Pacer = ratelimit.NewPacer(0)
	}
	if opts.Cooldown == nil {
		opts.Cooldown = cooldown.NewMemory()
	}
	if opts.BlockCooldown == 0 {
		opts.BlockCooldown = 10 * time.Minute
	}

	return &Service{
		fetcher:        fetcher,
		extractors:     extractors,
		pacer:          opts.Pacer,
		cooldown:       opts.Cooldown,
		retry:          opts.Retry,
		elementTimeout: opts.ElementTimeout,
		blockCooldown:  opts.BlockCooldown,
		logger:         logger.With("component", "scraper"),
	}
}

// GetProductData resolves, fetches, extracts and normalizes one product page.
// Only retryable kinds are retried; the returned error is always classified.
func (s *Service) GetProductData(ctx context.Context, url string) (*models.ExtractionResult, error) {
	p, err := platform.Resolve(url)
	if err != nil {
		return nil, err
	}

	ext, err := s.extractors.For(p)
	if err != nil {
		return nil, apperrors.New(apperrors.KindUnsupportedPlatform, p, url, "no extractor configured", err)
	}

	if s.coolingDown(p) {
		return nil, apperrors.NewBlocked(p, url, "platform is cooling down after an anti-bot page")
	}

	var (
		result  *models.ExtractionResult
		attempt int
	)

	err = retry.Do(ctx, s.retry.backoff(), func(ctx context.Context) error {
		attempt++

		res, err := s.attempt(ctx, p, ext, url)
		if err == nil {
			result = res
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if apperrors.IsRetryable(err) {
			s.logger.Warn("attempt failed, will retry",
				"url", url,
				"platform", p,
				"attempt", attempt,
				"max_attempts", s.retry.MaxAttempts,
				"error", err)
			return retry.RetryableError(err)
		}

		return err
	})

	if err != nil {
		if apperrors.Is(err, apperrors.KindBlocked) {
			s.tripCooldown(p)
		}
		return nil, err
	}

	if attempt > 1 {
		s.logger.Info("product data fetched after retry", "url", url, "attempts", attempt)
	}

	return result, nil
}

func (s *Service) attempt(ctx context.Context, p models.Platform, ext extractor.Extractor, url string) (*models.ExtractionResult, error) {
	if err := s.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	page, err := s.fetcher.Fetch(ctx, browser.Request{
		URL:            url,
		Platform:       p,
		WaitFor:        ext.WaitSelectors(),
		ElementTimeout: s.elementTimeout,
	})
	if err != nil {
		if ctx.Err() != nil || apperrors.KindOf(err) != "" {
			return nil, err
		}
		return nil, apperrors.NewFetchTimeout(p, url, err)
	}

	raw, err := ext.Extract(page)
	if err != nil {
		return nil, err
	}

	return s.normalize(p, url, page, raw)
}

func (s *Service) normalize(p models.Platform, url string, page *browser.RenderedPage, raw *extractor.Result) (*models.ExtractionResult, error) {
	current, err := price.Normalize(raw.CurrentPrice.Text)
	if err != nil {
		return nil, annotate(err, p, url)
	}

	if !current.IsPositive() {
		return nil, apperrors.NewExtraction(p, url, fmt.Sprintf("current price is zero (%q)", raw.CurrentPrice.Text))
	}

	original := current
	if raw.OriginalPrice.Found {
		o, err := price.Normalize(raw.OriginalPrice.Text)
		switch {
		case err != nil:
			s.logger.Warn("original price unreadable, using current price", "url", url, "raw", raw.OriginalPrice.Text)
		case o.LessThan(current):
			s.logger.Debug("original price below current price", "url", url, "original", o, "current", current)
		default:
			original = o
		}
	}

	fetchedAt := page.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	return &models.ExtractionResult{
		URL:           url,
		Platform:      p,
		Name:          raw.Name.Text,
		CurrentPrice:  current,
		OriginalPrice: original,
		Discount:      price.Discount(current, original),
		FetchedAt:     fetchedAt,
	}, nil
}

// annotate fills platform and url into a ScrapeError produced deeper down.
func annotate(err error, p models.Platform, url string) error {
	var se *apperrors.ScrapeError
	if errors.As(err, &se) {
		if se.Platform == "" {
			se.Platform = p
		}
		if se.URL == "" {
			se.URL = url
		}
	}
	return err
}

func (s *Service) coolingDown(p models.Platform) bool {
	active, err := s.cooldown.Active(string(p))
	if err != nil {
		s.logger.Warn("failed to read cooldown", "platform", p, "error", err)
		return false
	}
	return active
}

func (s *Service) tripCooldown(p models.Platform) {
	if err := s.cooldown.Trip(string(p), s.blockCooldown); err != nil {
		s.logger.Error("failed to set cooldown", "platform", p, "error", err)
		return
	}
	s.logger.Warn("platform blocked, cooling down", "platform", p, "for", s.blockCooldown)
}
