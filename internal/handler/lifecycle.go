// Package handler holds the AudioHandler variants a call can be bridged to:
// a local echo and two realtime conversational model backends.
package handler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicebot/internal/core"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultQueueSize    = 256
)

type lifecycleState int32

const (
	stateCreated lifecycleState = iota
	stateStarted
	stateRunning
	stateShuttingDown
	stateStopped
)

func (s lifecycleState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateStarted:
		return "started"
	case stateRunning:
		return "running"
	case stateShuttingDown:
		return "shutting_down"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type lifecycle struct {
	state atomic.Int32
}

func (l *lifecycle) load() lifecycleState { return lifecycleState(l.state.Load()) }

func (l *lifecycle) transition(from, to lifecycleState) bool {
	return l.state.CompareAndSwap(int32(from), int32(to))
}

func (l *lifecycle) set(to lifecycleState) { l.state.Store(int32(to)) }

func (l *lifecycle) accepting() bool {
	s := l.load()
	return s == stateStarted || s == stateRunning
}

// beginShutdown reports true for exactly one caller.
func (l *lifecycle) beginShutdown() bool {
	for {
		s := l.load()
		if s >= stateShuttingDown {
			return false
		}
		if l.transition(s, stateShuttingDown) {
			return true
		}
	}
}

// queue is a bounded single-producer/single-consumer buffer that never
// blocks its producer.
type queue[T any] struct {
	ch chan T
}

func newQueue[T any](size int) *queue[T] {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &queue[T]{ch: make(chan T, size)}
}

func (q *queue[T]) tryPush(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// poll waits up to d for an item.
func (q *queue[T]) poll(ctx context.Context, d time.Duration) (T, bool) {
	var zero T
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case v := <-q.ch:
		return v, true
	case <-t.C:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

func (q *queue[T]) len() int { return len(q.ch) }

func emitFrom(ctx context.Context, q *queue[core.Output], d time.Duration) core.Output {
	out, ok := q.poll(ctx, d)
	if !ok {
		return core.Idle
	}
	return out
}
