package queue

import (
	"errors"
	"sync"

	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
)

const DefaultCapacity = 1000

// Queue is the hand-off between the update loop and the notification dispatcher.
type Queue interface {
	Push(event *models.NotificationEvent) error
	Drain() []*models.NotificationEvent
	Len() int
	Dropped() uint64
	Close() error
}

// NotificationQueue is a bounded FIFO. When full, Push evicts the oldest event.
type NotificationQueue struct {
	mu       sync.Mutex
	events   []*models.NotificationEvent
	head     int
	size     int
	dropped  uint64
	closed   bool
	notifyCh chan struct{}
}

func NewNotificationQueue(capacity int) *NotificationQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &NotificationQueue{
		events:   make([]*models.NotificationEvent, capacity),
		notifyCh: make(chan struct{}, 1),
	}
}

func (q *NotificationQueue) Push(event *models.NotificationEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	capacity := len(q.events)
	if q.size == capacity {
		q.events[q.head] = nil
		q.head = (q.head + 1) % capacity
		q.size--
		q.dropped++
	}

	q.events[(q.head+q.size)%capacity] = event
	q.size++

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}

	return nil
}

// Drain removes and returns every queued event in FIFO order.
func (q *NotificationQueue) Drain() []*models.NotificationEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}

	capacity := len(q.events)
	out := make([]*models.NotificationEvent, q.size)
	for i := 0; i < q.size; i++ {
		idx := (q.head + i) % capacity
		out[i] = q.events[idx]
		q.events[idx] = nil
	}
	q.head = 0
	q.size = 0

	return out
}

func (q *NotificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped counts events evicted by overflow since creation.
func (q *NotificationQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Notify fires after a push; the dispatcher uses it to wake early.
func (q *NotificationQueue) Notify() <-chan struct{} {
	return q.notifyCh
}

// Close rejects further pushes. Events already queued can still be drained.
func (q *NotificationQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	return nil
}
