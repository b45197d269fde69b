package signal

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/voicebot/internal/domain"
)

var ErrQueueClosed = errors.New("outbound queue closed")

// OutboundQueue is the single FIFO every call's outbound signaling goes
// through. Enqueue never blocks; Pop is meant for one consumer.
type OutboundQueue struct {
	mu     sync.Mutex
	items  []*domain.SignalMessage
	closed bool
	notify chan struct{}
}

func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{notify: make(chan struct{}, 1)}
}

// Enqueue appends msg and reports false once the queue is closed.
func (q *OutboundQueue) Enqueue(msg *domain.SignalMessage) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop waits for the oldest message. After Close it keeps returning queued
// messages, then ErrQueueClosed.
func (q *OutboundQueue) Pop(ctx context.Context) (*domain.SignalMessage, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *OutboundQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
