package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dorofeevb1/sodrugestvobot/internal/models"
	"github.com/dorofeevb1/sodrugestvobot/internal/price"
)

const (
	DefaultStream       = "stream:price_alerts"
	DefaultStreamMaxLen = 10000

	EventTypePriceChanged = "PRICE_CHANGED"
)

// Sink delivers one notification to wherever the bot reads from.
type Sink interface {
	Publish(ctx context.Context, event *models.NotificationEvent) error
}

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends notifications to a capped Redis stream.
type RedisSink struct {
	client RedisClient
	stream string
	maxLen int64
}

func NewRedisSink(client RedisClient, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// Payload is the JSON body carried in the stream entry's data field.
type Payload struct {
	EventID       string `json:"event_id"`
	UserID        int64  `json:"user_id"`
	TelegramID    int64  `json:"telegram_id"`
	ProductID     int64  `json:"product_id"`
	ProductName   string `json:"product_name"`
	URL           string `json:"url"`
	OldPrice      string `json:"old_price"`
	NewPrice      string `json:"new_price"`
	ChangePercent string `json:"change_percent"`
	Direction     string `json:"direction"`
	Timestamp     string `json:"timestamp"`
}

func NewPayload(e *models.NotificationEvent) Payload {
	return Payload{
		EventID:       e.ID,
		UserID:        e.UserID,
		TelegramID:    e.TelegramID,
		ProductID:     e.ProductID,
		ProductName:   e.ProductName,
		URL:           e.URL,
		OldPrice:      price.Format(e.OldPrice),
		NewPrice:      price.Format(e.NewPrice),
		ChangePercent: price.Format(e.ChangePercent()),
		Direction:     e.Direction(),
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339),
	}
}

func (s *RedisSink) Publish(ctx context.Context, event *models.NotificationEvent) error {
	data, err := json.Marshal(NewPayload(event))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":        EventTypePriceChanged,
			"user_id":     strconv.FormatInt(event.UserID, 10),
			"telegram_id": strconv.FormatInt(event.TelegramID, 10),
			"product_id":  strconv.FormatInt(event.ProductID, 10),
			"data":        string(data),
		},
	}

	if _, err := s.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	return nil
}
