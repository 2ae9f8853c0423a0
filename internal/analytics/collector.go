// Package analytics ships match and registration events to Kafka without
// blocking the request path.
package analytics

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/kafka"
)

// Publisher is the sink a Collector drains into. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// keyed is implemented by events that choose their own partition key.
type keyed interface {
	partitionKey() string
}

func (e MatchEvent) partitionKey() string     { return e.ReferenceID }
func (e ReferenceEvent) partitionKey() string { return e.ReferenceID }

type Collector struct {
	publisher Publisher
	eventCh   chan any
	logger    *slog.Logger
	done      chan struct{}
	dropped   atomic.Int64
}

func NewCollector(publisher Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan any, bufferSize),
		logger:    slog.Default().With("component", "analytics-collector"),
		done:      make(chan struct{}),
	}
}

// Start runs the publishing worker. Cancelling ctx does not stop it: requests
// still finishing during shutdown keep tracking events, so only Close ends
// the worker, after the buffer is drained.
func (c *Collector) Start(ctx context.Context) {
	pubCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(c.done)
		for event := range c.eventCh {
			c.publish(pubCtx, event)
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues an event. When the buffer is full the event is dropped.
func (c *Collector) Track(event any) {
	select {
	case c.eventCh <- event:
	default:
		c.dropped.Add(1)
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Dropped is the number of events discarded because the buffer was full.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops accepting events and waits until the buffer is drained.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event any) {
	key := "analytics"
	if k, ok := event.(keyed); ok {
		key = k.partitionKey()
	}
	if err := c.publisher.Publish(ctx, kafka.Event{Key: key, Value: event}); err != nil {
		c.logger.Error("failed to publish analytics event", "error", err)
	}
}
