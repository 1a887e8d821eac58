// Package scheduler periodically re-checks every tracked product.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

const DefaultInterval = time.Hour

// ProductStore is the persistence the scheduler needs.
type ProductStore interface {
	ListActive(ctx context.Context) ([]*models.Product, error)
	RecordPrice(ctx context.Context, productID int64, res *models.ExtractionResult) (*models.Product, error)
}

type ProductDataService interface {
	GetProductData(ctx context.Context, url string) (*models.ExtractionResult, error)
}

type PriceLookup interface {
	Latest(ctx context.Context, productID int64) (decimal.Decimal, bool, error)
}

type ChangeDetector interface {
	ShouldNotify(oldPrice, newPrice decimal.Decimal) bool
}

type Notifier interface {
	Push(event *models.NotificationEvent) error
}

// Report summarizes one pass.
type Report struct {
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Total    int       `json:"total"`
	Updated  int       `json:"updated"`
	Failed   int       `json:"failed"`
	Notified int       `json:"notified"`
	Skipped  bool      `json:"skipped,omitempty"`
}

func (r Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

type Scheduler struct {
	products ProductStore
	service  ProductDataService
	history  PriceLookup
	detector ChangeDetector
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger

	running atomic.Bool

	mu   sync.RWMutex
	last *Report
}

func New(products ProductStore, service ProductDataService, history PriceLookup, detector ChangeDetector, notifier Notifier, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		products: products,
		service:  service,
		history:  history,
		detector: detector,
		notifier: notifier,
		interval: interval,
		logger:   logger.With("component", "scheduler"),
	}
}

// Run does a pass immediately and then waits a full interval after each
// pass ends, so a slow pass is never followed straight away by another.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return ctx.Err()
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// RunOnce re-checks every active product in sequence. A pass already in
// progress makes this return immediately with Skipped set.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous pass still running, skipping")
		now := time.Now()
		return Report{Started: now, Finished: now, Skipped: true}
	}
	defer s.running.Store(false)

	report := Report{Started: time.Now()}
	defer func() {
		report.Finished = time.Now()
		s.mu.Lock()
		r := report
		s.last = &r
		s.mu.Unlock()
	}()

	products, err := s.products.ListActive(ctx)
	if err != nil {
		s.logger.Error("failed to list products", "error", err)
		return report
	}
	report.Total = len(products)

	s.logger.Info("price update pass started", "products", len(products))

	for _, p := range products {
		if ctx.Err() != nil {
			s.logger.Info("price update pass interrupted", "remaining", report.Total-report.Updated-report.Failed)
			break
		}

		notified, err := s.updateProduct(ctx, p)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				s.logger.Info("price update pass interrupted", "product_id", p.ID)
				break
			}
			report.Failed++
			s.logger.Error("failed to update product",
				"product_id", p.ID,
				"url", p.URL,
				"platform", p.Platform,
				"kind", apperrors.KindOf(err),
				"error", err)
			continue
		}

		report.Updated++
		if notified {
			report.Notified++
		}
	}

	s.logger.Info("price update pass finished",
		"total", report.Total,
		"updated", report.Updated,
		"failed", report.Failed,
		"notified", report.Notified,
		"duration", time.Since(report.Started))

	return report
}

func (s *Scheduler) updateProduct(ctx context.Context, p *models.Product) (bool, error) {
	oldPrice := p.CurrentPrice
	if latest, ok, err := s.history.Latest(ctx, p.ID); err != nil {
		s.logger.Warn("failed to read latest price, using stored price", "product_id", p.ID, "error", err)
	} else if ok {
		oldPrice = latest
	}

	res, err := s.service.GetProductData(ctx, p.URL)
	if err != nil {
		return false, err
	}

	// A fetch that finished after cancellation is discarded.
	if err := ctx.Err(); err != nil {
		return false, err
	}

	updated, err := s.products.RecordPrice(ctx, p.ID, res)
	if err != nil {
		return false, err
	}

	if !s.detector.ShouldNotify(oldPrice, res.CurrentPrice) {
		return false, nil
	}

	name := updated.Name
	if name == "" {
		name = p.Name
	}

	event := &models.NotificationEvent{
		ID:          uuid.New().String(),
		UserID:      p.UserID,
		TelegramID:  p.TelegramID,
		ProductID:   p.ID,
		ProductName: name,
		URL:         p.URL,
		OldPrice:    oldPrice,
		NewPrice:    res.CurrentPrice,
		Timestamp:   time.Now(),
	}
	if err := s.notifier.Push(event); err != nil {
		s.logger.Warn("failed to enqueue notification", "product_id", p.ID, "error", err)
		return false, nil
	}

	s.logger.Info("price change detected",
		"product_id", p.ID,
		"old_price", oldPrice,
		"new_price", res.CurrentPrice,
		"change_percent", event.ChangePercent())

	return true, nil
}

func (s *Scheduler) State() State {
	if s.running.Load() {
		return StateRunning
	}
	return StateIdle
}

// LastReport is nil until the first pass completes.
func (s *Scheduler) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}
