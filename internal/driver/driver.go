package driver

import (
	"context"
	"log"
	"sync/atomic"

	"btmonitor/internal/models"
)

// Forwarder hands actions to the external actuation layer. Forward must
// never block the caller; delivery is best-effort.
type Forwarder interface {
	Forward(action models.OptimizationAction) error
}

// Sink performs the actual delivery, e.g. an MQTT publish.
type Sink interface {
	Deliver(action models.OptimizationAction) error
}

// NopForwarder discards actions. Used when no actuation layer is attached
// and in tests.
type NopForwarder struct{}

func (NopForwarder) Forward(models.OptimizationAction) error { return nil }

// QueuedForwarder decouples the tick cadence from a slow sink through a
// bounded queue. When the queue is full the oldest queued action is dropped
// so the newest decision always survives; the receiver side must tolerate
// missing deliveries anyway.
type QueuedForwarder struct {
	sink    Sink
	queue   chan models.OptimizationAction
	dropped atomic.Uint64
}

func NewQueuedForwarder(sink Sink, size int) *QueuedForwarder {
	if size <= 0 {
		size = 32
	}
	return &QueuedForwarder{
		sink:  sink,
		queue: make(chan models.OptimizationAction, size),
	}
}

// Forward enqueues the action, evicting the oldest entry if needed. It never
// blocks.
func (f *QueuedForwarder) Forward(action models.OptimizationAction) error {
	for {
		select {
		case f.queue <- action:
			return nil
		default:
			select {
			case old := <-f.queue:
				f.dropped.Add(1)
				log.Printf("Driver: queue full, dropped oldest action %s for %s", old.Kind, old.TargetAddress)
			default:
			}
		}
	}
}

// Start delivers queued actions to the sink until the context is cancelled.
func (f *QueuedForwarder) Start(ctx context.Context) {
	log.Println("Driver: forwarder started")
	for {
		select {
		case <-ctx.Done():
			log.Println("Driver: forwarder shutting down")
			return
		case action := <-f.queue:
			if err := f.sink.Deliver(action); err != nil {
				log.Printf("Driver: failed to deliver %s for %s: %v", action.Kind, action.TargetAddress, err)
			}
		}
	}
}

// Dropped returns how many actions were evicted unsent.
func (f *QueuedForwarder) Dropped() uint64 {
	return f.dropped.Load()
}
