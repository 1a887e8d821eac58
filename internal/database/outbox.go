package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// maxRetryBackoffSeconds caps the 2^attempts delay between publish attempts.
const maxRetryBackoffSeconds = 300

// Backlog is the relay's view of undelivered product events.
type Backlog struct {
	Pending int64 `json:"pending"`
	Dead    int64 `json:"dead_letter"`
}

// EventStore persists product events until the relay has published them.
type EventStore struct {
	db *DB
}

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `id, product_id, event_type, payload, stream, state, attempts,
	last_error, created_at, available_at, published_at`

// Enqueue writes e inside tx; it becomes visible to the relay on commit.
func (s *EventStore) Enqueue(ctx context.Context, tx pgx.Tx, e *ProductEvent) error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.Stream == "" {
		e.Stream = DefaultEventsStream
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode product event: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO product_events (id, product_id, event_type, payload, stream)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING state, created_at, available_at`,
		e.ID, e.ProductID, e.Type, payload, e.Stream,
	).Scan(&e.State, &e.CreatedAt, &e.AvailableAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue product event: %w", err)
	}
	return nil
}

// Due returns up to limit events whose next attempt is not in the future,
// oldest first. A row whose payload no longer decodes is moved to StateDead.
func (s *EventStore) Due(ctx context.Context, limit int) ([]*ProductEvent, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM product_events
		WHERE state IN ($1, $2) AND available_at <= NOW()
		ORDER BY created_at, id
		LIMIT $3`,
		StatePending, StateRetrying, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load due events: %w", err)
	}
	defer rows.Close()

	var (
		events    []*ProductEvent
		undecoded []uuid.UUID
	)
	for rows.Next() {
		e := &ProductEvent{}
		var raw []byte
		err := rows.Scan(&e.ID, &e.ProductID, &e.Type, &raw, &e.Stream, &e.State, &e.Attempts,
			&e.LastError, &e.CreatedAt, &e.AvailableAt, &e.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product event: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Payload); err != nil {
			undecoded = append(undecoded, e.ID)
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if len(undecoded) > 0 {
		_, err := s.db.pool.Exec(ctx, `
			UPDATE product_events SET state = $1, last_error = 'undecodable payload'
			WHERE id = ANY($2)`, StateDead, undecoded)
		if err != nil {
			return nil, fmt.Errorf("failed to bury undecodable events: %w", err)
		}
	}

	return events, nil
}

// MarkPublished records a successful XADD.
func (s *EventStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.pool.Exec(ctx, `
		UPDATE product_events SET state = $2, published_at = NOW(), last_error = NULL
		WHERE id = $1`, id, StatePublished)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("product event %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkFailed counts a failed attempt and reschedules the event with
// exponential backoff, or buries it after MaxDeliveryAttempts. It returns the
// resulting state.
func (s *EventStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) (DeliveryState, error) {
	var state DeliveryState
	err := s.db.pool.QueryRow(ctx, `
		UPDATE product_events SET
			attempts = attempts + 1,
			last_error = $2,
			state = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE $5 END,
			available_at = NOW() + make_interval(secs => LEAST(power(2, attempts + 1), $6::float8))
		WHERE id = $1
		RETURNING state`,
		id, cause.Error(), MaxDeliveryAttempts, StateDead, StateRetrying, maxRetryBackoffSeconds,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("product event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to record delivery failure: %w", err)
	}
	return state, nil
}

// Backlog counts undelivered and buried events in one scan.
func (s *EventStore) Backlog(ctx context.Context) (Backlog, error) {
	var b Backlog
	err := s.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state IN ($1, $2)),
			COUNT(*) FILTER (WHERE state = $3)
		FROM product_events`,
		StatePending, StateRetrying, StateDead,
	).Scan(&b.Pending, &b.Dead)
	if err != nil {
		return Backlog{}, fmt.Errorf("failed to count event backlog: %w", err)
	}
	return b, nil
}
