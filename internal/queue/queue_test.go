package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

func event(productID int64) *models.NotificationEvent {
	return &models.NotificationEvent{ProductID: productID}
}

func productIDs(events []*models.NotificationEvent) []int64 {
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ProductID)
	}
	return ids
}

func TestNotificationQueue_DropsOldestOnOverflow(t *testing.T) {
	q := NewNotificationQueue(3)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, q.Push(event(i)))
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, []int64{3, 4, 5}, productIDs(q.Drain()))
}

func TestNotificationQueue_DrainEmpties(t *testing.T) {
	q := NewNotificationQueue(10)
	require.NoError(t, q.Push(event(1)))
	require.NoError(t, q.Push(event(2)))

	assert.Equal(t, []int64{1, 2}, productIDs(q.Drain()))
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Drain())

	// Still usable after a drain.
	require.NoError(t, q.Push(event(3)))
	assert.Equal(t, []int64{3}, productIDs(q.Drain()))
}

func TestNotificationQueue_WrapAround(t *testing.T) {
	q := NewNotificationQueue(3)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, q.Push(event(i)))
	}
	q.Drain()

	for i := int64(10); i <= 13; i++ {
		require.NoError(t, q.Push(event(i)))
	}

	assert.Equal(t, []int64{11, 12, 13}, productIDs(q.Drain()))
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestNotificationQueue_Close(t *testing.T) {
	q := NewNotificationQueue(2)
	require.NoError(t, q.Push(event(1)))
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(event(2)), ErrQueueClosed)
	assert.Equal(t, []int64{1}, productIDs(q.Drain()))
}

func TestNotificationQueue_DefaultCapacity(t *testing.T) {
	q := NewNotificationQueue(0)
	for i := 0; i < DefaultCapacity+1; i++ {
		require.NoError(t, q.Push(event(int64(i))))
	}
	assert.Equal(t, DefaultCapacity, q.Len())
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestNotificationQueue_Notify(t *testing.T) {
	q := NewNotificationQueue(2)
	require.NoError(t, q.Push(event(1)))
	require.NoError(t, q.Push(event(2)))

	select {
	case <-q.Notify():
	default:
		t.Fatal("expected a wake-up after push")
	}
}

func TestNotificationQueue_ConcurrentPush(t *testing.T) {
	q := NewNotificationQueue(100)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = q.Push(event(int64(w*100 + i)))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 100, q.Len())
	assert.Equal(t, uint64(100), q.Dropped())
}
