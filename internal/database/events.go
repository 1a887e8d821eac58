package database

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dorofeevb1/sodrugestvobot/internal/models"
	"github.com/dorofeevb1/sodrugestvobot/internal/price"
)

// EventType names a product lifecycle event.
type EventType string

const (
	// EventProductTracked is written when a user starts tracking a product
	EventProductTracked EventType = "PRODUCT_TRACKED"
	// EventPriceUpdated is written on every successful scheduled re-check
	EventPriceUpdated EventType = "PRICE_UPDATED"

	// DefaultEventsStream receives product lifecycle events from the relay
	DefaultEventsStream = "stream:price_updates"

	eventSource = "pricewatch"
)

func (t EventType) valid() bool {
	return t == EventProductTracked || t == EventPriceUpdated
}

// DeliveryState tracks a product event on its way to Redis.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateRetrying  DeliveryState = "retrying"
	StatePublished DeliveryState = "published"
	// StateDead rows are kept for inspection and never retried.
	StateDead DeliveryState = "dead"
)

// MaxDeliveryAttempts failed publishes move an event to StateDead.
const MaxDeliveryAttempts = 5

// ProductEventPayload is the JSON body of PRODUCT_TRACKED and PRICE_UPDATED events.
// Prices are fixed two-decimal strings so consumers never see float rounding.
type ProductEventPayload struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	ProductID     int64           `json:"product_id"`
	UserID        int64           `json:"user_id"`
	URL           string          `json:"url"`
	Platform      models.Platform `json:"platform"`
	Name          string          `json:"name,omitempty"`
	CurrentPrice  string          `json:"current_price"`
	OriginalPrice string          `json:"original_price"`
	Discount      string          `json:"discount"`
	OldPrice      string          `json:"old_price,omitempty"`
	Source        string          `json:"source"`
}

// ProductEvent is one row of product_events, written in the same
// transaction as the product change it describes.
type ProductEvent struct {
	ID          uuid.UUID
	ProductID   int64
	Type        EventType
	Payload     ProductEventPayload
	Stream      string
	State       DeliveryState
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	AvailableAt time.Time
	PublishedAt *time.Time
}

func newProductEvent(eventType EventType, p *models.Product, oldPrice *decimal.Decimal, stream string) *ProductEvent {
	discount := decimal.Zero
	if p.Discount != nil {
		discount = *p.Discount
	}

	id := uuid.New()
	now := time.Now()

	payload := ProductEventPayload{
		EventID:       id.String(),
		EventType:     eventType,
		Timestamp:     now,
		ProductID:     p.ID,
		UserID:        p.UserID,
		URL:           p.URL,
		Platform:      p.Platform,
		Name:          p.Name,
		CurrentPrice:  price.Format(p.CurrentPrice),
		OriginalPrice: price.Format(p.OriginalPrice),
		Discount:      price.Format(discount),
		Source:        eventSource,
	}
	if oldPrice != nil {
		payload.OldPrice = price.Format(*oldPrice)
	}

	return &ProductEvent{
		ID:        id,
		ProductID: p.ID,
		Type:      eventType,
		Payload:   payload,
		Stream:    stream,
		State:     StatePending,
		CreatedAt: now,
	}
}

func (e *ProductEvent) validate() error {
	switch {
	case e.ProductID <= 0:
		return fmt.Errorf("product event: product id must be positive, got %d", e.ProductID)
	case !e.Type.valid():
		return fmt.Errorf("product event: unknown type %q", e.Type)
	case e.Payload.ProductID != e.ProductID:
		return fmt.Errorf("product event: payload is for product %d, row for %d", e.Payload.ProductID, e.ProductID)
	}
	return nil
}

// streamValues are the XADD fields. Consumers can route on the flat fields
// without decoding data.
func (e *ProductEvent) streamValues() (map[string]interface{}, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	values := map[string]interface{}{
		"type":          string(e.Type),
		"event_id":      e.ID.String(),
		"product_id":    strconv.FormatInt(e.ProductID, 10),
		"user_id":       strconv.FormatInt(e.Payload.UserID, 10),
		"platform":      string(e.Payload.Platform),
		"current_price": e.Payload.CurrentPrice,
		"attempt":       strconv.Itoa(e.Attempts + 1),
		"data":          string(data),
	}
	if e.Payload.OldPrice != "" {
		values["old_price"] = e.Payload.OldPrice
	}
	return values, nil
}
