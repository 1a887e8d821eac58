package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dorofeevb1/sodrugestvobot/internal/models"
	"github.com/dorofeevb1/sodrugestvobot/internal/queue"
)

// MockRedisClient is a mock for Redis client
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

// MockSink is a mock for Sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Publish(ctx context.Context, event *models.NotificationEvent) error {
	return m.Called(ctx, event).Error(0)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDetector_ShouldNotify(t *testing.T) {
	d := NewDetector(0.1)

	tests := []struct {
		name     string
		old, new string
		want     bool
	}{
		{"small increase", "100", "109", false},
		{"increase over threshold", "100", "111", true},
		{"decrease over threshold", "100", "89", true},
		{"exactly at threshold", "100", "90", true},
		{"unchanged", "100", "100", false},
		{"from zero", "0", "500", false},
		{"fractional prices", "199.90", "179.90", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.ShouldNotify(dec(tt.old), dec(tt.new)))
		})
	}
}

func TestDetector_ZeroThresholdNotifiesOnAnyChange(t *testing.T) {
	d := NewDetector(0)
	assert.True(t, d.ShouldNotify(dec("100"), dec("100.01")))
	assert.True(t, d.ShouldNotify(dec("100"), dec("100")))
}

func TestDetector_NegativeThresholdFallsBackToDefault(t *testing.T) {
	d := NewDetector(-1)
	assert.True(t, dec("0.1").Equal(d.Threshold()))
}

func testEvent() *models.NotificationEvent {
	return &models.NotificationEvent{
		ID:          "evt-1",
		UserID:      10,
		TelegramID:  777000,
		ProductID:   20,
		ProductName: "Кроссовки",
		URL:         "https://www.ozon.ru/product/1",
		OldPrice:    dec("1000"),
		NewPrice:    dec("850"),
		Timestamp:   time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRedisSink_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("writes capped stream entry", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			if args.Stream != DefaultStream || args.MaxLen != DefaultStreamMaxLen || !args.Approx {
				return false
			}
			values := args.Values.(map[string]interface{})
			if values["type"] != EventTypePriceChanged || values["user_id"] != "10" || values["product_id"] != "20" ||
				values["telegram_id"] != "777000" {
				return false
			}
			var p Payload
			if err := json.Unmarshal([]byte(values["data"].(string)), &p); err != nil {
				return false
			}
			return p.TelegramID == 777000 && p.OldPrice == "1000.00" && p.NewPrice == "850.00" &&
				p.ChangePercent == "-15.00" && p.Direction == "down"
		})).Return(nil)

		err := NewRedisSink(client, "", 0).Publish(ctx, testEvent())
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("redis failure is returned", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("XAdd", ctx, mock.Anything).Return(errors.New("connection refused"))

		err := NewRedisSink(client, "stream:custom", 50).Publish(ctx, testEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish to redis")
	})
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers every drained event", func(t *testing.T) {
		q := queue.NewNotificationQueue(10)
		require.NoError(t, q.Push(testEvent()))
		require.NoError(t, q.Push(testEvent()))

		sink := new(MockSink)
		sink.On("Publish", mock.Anything, mock.Anything).Return(nil)

		d := NewDispatcher(q, sink, slog.Default(), DispatcherConfig{})
		assert.Equal(t, 2, d.Dispatch(ctx))
		assert.Equal(t, 0, q.Len())
		sink.AssertNumberOfCalls(t, "Publish", 2)
	})

	t.Run("retries then succeeds", func(t *testing.T) {
		q := queue.NewNotificationQueue(10)
		require.NoError(t, q.Push(testEvent()))

		sink := new(MockSink)
		sink.On("Publish", mock.Anything, mock.Anything).Return(errors.New("timeout")).Once()
		sink.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

		d := NewDispatcher(q, sink, slog.Default(), DispatcherConfig{PublishRetries: 3})
		assert.Equal(t, 1, d.Dispatch(ctx))
		sink.AssertNumberOfCalls(t, "Publish", 2)
	})

	t.Run("drops after exhausting retries", func(t *testing.T) {
		q := queue.NewNotificationQueue(10)
		require.NoError(t, q.Push(testEvent()))

		sink := new(MockSink)
		sink.On("Publish", mock.Anything, mock.Anything).Return(errors.New("down"))

		d := NewDispatcher(q, sink, slog.Default(), DispatcherConfig{PublishRetries: 2})
		assert.Equal(t, 0, d.Dispatch(ctx))
		assert.Equal(t, 0, q.Len(), "failed events are not requeued")
		sink.AssertNumberOfCalls(t, "Publish", 2)
	})

	t.Run("empty queue does nothing", func(t *testing.T) {
		sink := new(MockSink)
		d := NewDispatcher(queue.NewNotificationQueue(1), sink, slog.Default(), DispatcherConfig{})
		assert.Equal(t, 0, d.Dispatch(ctx))
		sink.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})
}

func TestDispatcher_StartWakesOnPush(t *testing.T) {
	q := queue.NewNotificationQueue(10)
	published := make(chan struct{}, 1)
	sink := new(MockSink)
	sink.On("Publish", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		published <- struct{}{}
	})

	d := NewDispatcher(q, sink, slog.Default(), DispatcherConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.NoError(t, q.Push(testEvent()))
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("push did not wake the dispatcher")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
