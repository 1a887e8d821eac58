package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/dorofeevb1/sodrugestvobot/internal/models"
	"github.com/dorofeevb1/sodrugestvobot/internal/queue"
)

// Source is the part of the notification queue the dispatcher consumes.
type Source interface {
	Drain() []*models.NotificationEvent
}

type DispatcherConfig struct {
	Interval       time.Duration
	PublishRetries int
	PublishTimeout time.Duration
}

// Dispatcher drains the queue on an interval and hands events to a Sink.
// Delivery is best-effort: an event that keeps failing is dropped.
type Dispatcher struct {
	source   Source
	sink     Sink
	logger   *slog.Logger
	interval time.Duration
	retries  int
	timeout  time.Duration
	wake     <-chan struct{}
}

func NewDispatcher(source Source, sink Sink, logger *slog.Logger, config DispatcherConfig) *Dispatcher {
	if config.Interval == 0 {
		config.Interval = 5 * time.Second
	}
	if config.PublishRetries <= 0 {
		config.PublishRetries = 3
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		source:   source,
		sink:     sink,
		logger:   logger.With("component", "dispatcher"),
		interval: config.Interval,
		retries:  config.PublishRetries,
		timeout:  config.PublishTimeout,
	}
	if q, ok := source.(*queue.NotificationQueue); ok {
		d.wake = q.Notify()
	}
	return d
}

// Start runs until ctx is cancelled, then flushes what is left.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting dispatcher", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.flush()
			d.logger.Info("dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			d.Dispatch(ctx)
		case <-d.wake:
			d.Dispatch(ctx)
		}
	}
}

// Dispatch publishes one drained batch and returns how many were delivered.
func (d *Dispatcher) Dispatch(ctx context.Context) int {
	events := d.source.Drain()
	if len(events) == 0 {
		return 0
	}

	delivered := 0
	for _, event := range events {
		if err := d.publish(ctx, event); err != nil {
			d.logger.Error("dropping notification",
				"event_id", event.ID,
				"user_id", event.UserID,
				"product_id", event.ProductID,
				"error", err)
			continue
		}
		delivered++
	}

	d.logger.Debug("notifications dispatched", "count", len(events), "delivered", delivered)
	return delivered
}

func (d *Dispatcher) publish(ctx context.Context, event *models.NotificationEvent) error {
	var err error
	for attempt := 1; attempt <= d.retries; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, d.timeout)
		err = d.sink.Publish(pctx, event)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Warn("failed to publish notification",
			"event_id", event.ID,
			"attempt", attempt,
			"error", err)
	}
	return err
}

// flush uses a fresh context because the run context is already done.
func (d *Dispatcher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if n := d.Dispatch(ctx); n > 0 {
		d.logger.Info("flushed notifications on shutdown", "count", n)
	}
}
