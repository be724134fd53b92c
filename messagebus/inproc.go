package messagebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
)

// ErrBrokerClosed is returned when publishing to a closed broker.
var ErrBrokerClosed = errors.New("broker is closed")

type subscription struct {
	ctx     context.Context
	id      string
	handler func(ctx context.Context, evt event.OutboxEvent) error
}

// InProcBroker is a Broker that fans messages out to local subscribers on a
// worker pool. A delivery whose handler fails is retried up to maxDeliveries
// times and then dropped with a DeliveryFault; ordering between messages is not
// preserved. Nothing is persisted, so delivery is at-least-once only while the
// process runs and the retry budget lasts.
type InProcBroker struct {
	pool            *ants.Pool
	maxDeliveries   int
	redeliveryDelay time.Duration
	onDrop          func(topic, subscriberID string, fault *errs.DeliveryFault)

	mu     sync.RWMutex
	subs   map[string][]subscription
	closed bool
	wg     sync.WaitGroup
}

// InProcOption configures an InProcBroker.
type InProcOption func(*InProcBroker)

// WithMaxDeliveries bounds how often a single message is handed to a subscriber.
func WithMaxDeliveries(n int) InProcOption {
	return func(b *InProcBroker) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// WithRedeliveryDelay sets the pause before a failed message is redelivered.
func WithRedeliveryDelay(d time.Duration) InProcOption {
	return func(b *InProcBroker) {
		b.redeliveryDelay = d
	}
}

// WithDropHandler is called with a DeliveryFault for every message a subscriber
// still failed after the last delivery. The message is gone after that call.
func WithDropHandler(fn func(topic, subscriberID string, fault *errs.DeliveryFault)) InProcOption {
	return func(b *InProcBroker) {
		b.onDrop = fn
	}
}

// NewInProcBroker creates an in-process broker backed by a pool of the given size.
func NewInProcBroker(poolSize int, opts ...InProcOption) (*InProcBroker, error) {
	pool, err := ants.NewPool(poolSize,
		ants.WithPanicHandler(func(p any) {
			slog.Error("Subscriber panic recovered", "panic", p)
		}),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery pool: %w", err)
	}

	b := &InProcBroker{
		pool:            pool,
		maxDeliveries:   5,
		redeliveryDelay: 100 * time.Millisecond,
		subs:            make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Publish schedules delivery of evt to every subscriber of topic.
func (b *InProcBroker) Publish(ctx context.Context, topic string, evt event.OutboxEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBrokerClosed
	}

	for _, sub := range b.subs[topic] {
		b.wg.Add(1)
		if err := b.pool.Submit(func() {
			defer b.wg.Done()
			b.deliver(topic, sub, evt)
		}); err != nil {
			b.wg.Done()
			return fmt.Errorf("failed to schedule delivery to %s: %w", sub.id, err)
		}
	}
	slog.DebugContext(ctx, "Event published", "topic", topic, "eventID", evt.EventID, "subscribers", len(b.subs[topic]))
	return nil
}

// Subscribe registers handler under subscriberID. The subscription ends when ctx is cancelled.
func (b *InProcBroker) Subscribe(
	ctx context.Context,
	topic, subscriberID string,
	handler func(ctx context.Context, evt event.OutboxEvent) error,
) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	for _, sub := range b.subs[topic] {
		if sub.id == subscriberID {
			return fmt.Errorf("subscriber %s is already subscribed to %s", subscriberID, topic)
		}
	}
	b.subs[topic] = append(b.subs[topic], subscription{ctx: ctx, id: subscriberID, handler: handler})
	slog.InfoContext(ctx, "Subscriber started", "topic", topic, "subscriberID", subscriberID)
	return nil
}

func (b *InProcBroker) deliver(topic string, sub subscription, evt event.OutboxEvent) {
	var err error
	for attempt := 1; attempt <= b.maxDeliveries; attempt++ {
		if sub.ctx.Err() != nil {
			return
		}
		err = sub.handler(sub.ctx, evt)
		if err == nil {
			return
		}
		slog.WarnContext(sub.ctx, "Handler failed to process event",
			"error", err, "eventID", evt.EventID, "subscriberID", sub.id, "attempt", attempt)

		select {
		case <-time.After(b.redeliveryDelay):
		case <-sub.ctx.Done():
			return
		}
	}
	// The relay has already marked the record published; nothing redelivers it.
	fault := &errs.DeliveryFault{EventID: evt.EventID.String(), EventType: evt.EventType, Err: err}
	slog.ErrorContext(sub.ctx, "Dropping event after max deliveries",
		"error", fault, "eventID", evt.EventID, "topic", topic, "subscriberID", sub.id, "deliveries", b.maxDeliveries)
	if b.onDrop != nil {
		b.onDrop(topic, sub.id, fault)
	}
}

// Wait blocks until every scheduled delivery has finished.
func (b *InProcBroker) Wait() {
	b.wg.Wait()
}

// Close stops accepting messages, drains pending deliveries and releases the pool.
func (b *InProcBroker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	b.pool.Release()
}
