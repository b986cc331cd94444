// internal/sink/queue.go

// Package sink holds the bounded hand-off shared by the Kafka and Redis
// sinks. Feed callbacks run on the feed loop, so they only enqueue; a
// separate goroutine does the network write.
package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/internal/format"
	"github.com/YaganovValera/market-feed/internal/metrics"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

// DefaultBufferSize is used when a sink is configured with size <= 0.
const DefaultBufferSize = 1024

// WriteFunc delivers one event.
type WriteFunc func(ctx context.Context, ev format.Event) error

// Queue is a bounded FIFO that drops new events when full.
type Queue struct {
	name string
	ch   chan format.Event
	log  *logger.Logger
}

// NewQueue creates a queue labelled name in metrics.
func NewQueue(name string, size int, log *logger.Logger) *Queue {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Queue{name: name, ch: make(chan format.Event, size), log: log.Named(name).With(logger.Sink(name))}
}

// Offer enqueues ev without blocking. It reports false when ev was dropped.
// Its signature matches topic.Callback once the result is ignored.
func (q *Queue) Offer(ev format.Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		metrics.SinkDrops.WithLabelValues(q.name).Inc()
		return false
	}
}

// Callback adapts Offer to a feed subscriber.
func (q *Queue) Callback(ev format.Event) { q.Offer(ev) }

// Len is the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Drain calls write for each event until ctx is done. Write errors are
// counted and logged; they never stop the drain.
func (q *Queue) Drain(ctx context.Context, write WriteFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-q.ch:
			if err := write(ctx, ev); err != nil {
				metrics.SinkErrors.WithLabelValues(q.name).Inc()
				q.log.WithContext(ctx).Warn("sink write failed",
					logger.Topic(string(ev.Topic)),
					zap.Error(err),
				)
			}
		}
	}
}
