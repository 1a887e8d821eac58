package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamWriter is the slice of the Redis client the relay needs.
type StreamWriter interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// EventSource is implemented by EventStore.
type EventSource interface {
	Due(ctx context.Context, limit int) ([]*ProductEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) (DeliveryState, error)
	Backlog(ctx context.Context) (Backlog, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen caps each stream approximately; 0 leaves it unbounded.
	StreamMaxLen int64
}

// Relay publishes committed product events to their Redis streams. Delivery
// is at least once: an event whose publish succeeded but whose row could not
// be marked is sent again on a later pass.
type Relay struct {
	events    EventSource
	streams   StreamWriter
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxLen    int64
}

func NewRelay(db *DB, streams StreamWriter, logger *slog.Logger, config RelayConfig) *Relay {
	return newRelay(NewEventStore(db), streams, logger, config)
}

func newRelay(events EventSource, streams StreamWriter, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Relay{
		events:    events,
		streams:   streams,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		maxLen:    config.StreamMaxLen,
	}
}

// Run relays until ctx is cancelled. A full batch is followed by another
// pass straight away; otherwise the relay waits PollInterval.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started", "poll_interval", r.interval, "batch_size", r.batchSize)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-timer.C:
		}

		n, err := r.relayBatch(ctx)
		if err != nil {
			r.logger.Error("relay pass failed", "error", err)
		}

		wait := r.interval
		if err == nil && n == r.batchSize {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// relayBatch returns how many due events it picked up.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	events, err := r.events.Due(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load due events: %w", err)
	}

	for _, e := range events {
		if ctx.Err() != nil {
			break
		}
		r.deliver(ctx, e)
	}
	return len(events), nil
}

func (r *Relay) deliver(ctx context.Context, e *ProductEvent) {
	log := r.logger.With("event_id", e.ID, "product_id", e.ProductID, "type", e.Type)

	if err := r.publish(ctx, e); err != nil {
		state, markErr := r.events.MarkFailed(ctx, e.ID, err)
		switch {
		case markErr != nil:
			log.Error("failed to record delivery failure", "cause", err, "error", markErr)
		case state == StateDead:
			log.Error("product event moved to dead letter", "attempts", e.Attempts+1, "error", err)
		default:
			log.Warn("product event delivery failed", "attempts", e.Attempts+1, "error", err)
		}
		return
	}

	if err := r.events.MarkPublished(ctx, e.ID); err != nil {
		log.Error("product event published but not marked", "error", err)
		return
	}
	log.Debug("product event relayed", "stream", e.Stream)
}

func (r *Relay) publish(ctx context.Context, e *ProductEvent) error {
	values, err := e.streamValues()
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{Stream: e.Stream, Values: values}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.streams.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", e.Stream, err)
	}
	return nil
}

// Backlog backs the health endpoint.
func (r *Relay) Backlog(ctx context.Context) (Backlog, error) {
	return r.events.Backlog(ctx)
}
