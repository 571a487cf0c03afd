package activity

import (
	"context"
	"log/slog"

	"github.com/worklogapp/feed-platform/pkg/kafka"
)

// Collector buffers feed events and publishes them to Kafka off the request
// path. Track never blocks: when the buffer is full the event is dropped.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan FeedEvent
	logger   *slog.Logger
	done     chan struct{}
}

// NewCollector creates a Collector with the given buffer size.
func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan FeedEvent, bufferSize),
		logger:   slog.Default().With("component", "activity-collector"),
		done:     make(chan struct{}),
	}
}

// Start launches the publish loop; it drains remaining events on ctx
// cancellation.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("activity collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues an event without blocking the caller.
func (c *Collector) Track(event FeedEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("activity event dropped (buffer full)")
	}
}

// Close stops accepting events and waits for the publish loop to finish.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event FeedEvent) {
	err := c.producer.Publish(ctx, kafka.Event{
		Key:   string(event.Type),
		Value: event,
	})
	if err != nil {
		c.logger.Error("failed to publish activity event", "error", err)
	}
}

// drainRemaining flushes whatever is still buffered in one batched write.
func (c *Collector) drainRemaining() {
	var pending []kafka.Event
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				c.flush(pending)
				return
			}
			pending = append(pending, kafka.Event{Key: string(event.Type), Value: event})
		default:
			c.flush(pending)
			return
		}
	}
}

func (c *Collector) flush(pending []kafka.Event) {
	if len(pending) == 0 {
		return
	}
	if err := c.producer.PublishBatch(context.Background(), pending); err != nil {
		c.logger.Error("failed to flush activity events", "count", len(pending), "error", err)
	}
}
