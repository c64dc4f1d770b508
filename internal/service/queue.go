package service

import (
	"context"
	"errors"
	"sync/atomic"

	"barclock/internal/model"
)

var (
	// ErrQueueFull is returned when an emission cannot be accepted without
	// blocking the driver.
	ErrQueueFull = errors.New("emission queue full")

	// ErrQueueClosed is returned once the queue has stopped accepting.
	ErrQueueClosed = errors.New("emission queue closed")
)

// EmissionQueue is the bounded hand-off between the synchronizer's driver
// goroutine and a live fan-out path.
//
// The driver must never block on a slow consumer — "due" is relative to
// the externally driven clock, not to how fast downstream drains — so
// TryPublish drops instead of waiting and keeps a count of drops for
// observability.
type EmissionQueue struct {
	ch      chan model.Emission
	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewEmissionQueue allocates a queue with the given capacity. Capacities
// below one are raised to one.
func NewEmissionQueue(capacity int) *EmissionQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &EmissionQueue{ch: make(chan model.Emission, capacity)}
}

// TryPublish enqueues an emission without blocking. A full queue counts
// the emission as dropped and returns ErrQueueFull.
func (q *EmissionQueue) TryPublish(e model.Emission) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Emissions exposes the delivery channel for consumers that select on it
// directly, such as the Dispatcher. The channel closes with the queue.
func (q *EmissionQueue) Emissions() <-chan model.Emission { return q.ch }

// Dropped returns the number of emissions rejected by a full queue.
func (q *EmissionQueue) Dropped() uint64 { return q.dropped.Load() }

// Close stops the queue from accepting new emissions. Queued emissions
// remain deliverable to Run.
func (q *EmissionQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

// Run consumes emissions until the context is done or the queue is
// closed and drained.
func (q *EmissionQueue) Run(ctx context.Context, handler EmissionHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
