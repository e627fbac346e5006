package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"
)

const publishTimeout = 10 * time.Second

var (
	ErrQueueFull   = errors.New("telemetry queue is full")
	ErrQueueClosed = errors.New("telemetry queue is closed")
)

type queued struct {
	tank *TankEvent
	pump *PumpEvent
}

// Queue hands events to a single worker goroutine so publishing never blocks the caller.
// Events are published in the order they were queued.
type Queue struct {
	sink  Sink
	items chan queued
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewQueue(sink Sink, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		sink:  sink,
		items: make(chan queued, size),
		done:  make(chan struct{}),
	}
}

func (q *Queue) PublishTank(ctx context.Context, e TankEvent) error {
	return q.enqueue(queued{tank: &e})
}

func (q *Queue) PublishPump(ctx context.Context, e PumpEvent) error {
	return q.enqueue(queued{pump: &e})
}

func (q *Queue) enqueue(item queued) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run publishes queued events until Close is called and the queue is drained.
func (q *Queue) Run() {
	defer close(q.done)
	for item := range q.items {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		var err error
		if item.tank != nil {
			err = q.sink.PublishTank(ctx, *item.tank)
		} else if item.pump != nil {
			err = q.sink.PublishPump(ctx, *item.pump)
		}
		cancel()
		if err != nil {
			log.Errorf("Failed to publish event: %v", err)
		}
	}
}

// Close stops accepting events and waits up to timeout for the queued ones to be published.
func (q *Queue) Close(timeout time.Duration) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-time.After(timeout):
		return errors.New("timed out waiting for telemetry to be published")
	}
}
