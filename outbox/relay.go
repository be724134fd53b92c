package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0m3kk/library/event"
	"github.com/0m3kk/library/messagebus"
)

// Store defines the interface for interacting with the outbox storage.
type Store interface {
	// ProcessOutboxBatch fetches and locks up to batchSize unpublished records,
	// hands them to processFunc and marks them as published, all in one
	// transaction. If processFunc fails, nothing is marked.
	ProcessOutboxBatch(
		ctx context.Context,
		batchSize int,
		processFunc func(ctx context.Context, events []event.OutboxEvent) error,
	) error
}

// Relay is a background worker that polls the outbox and forwards committed
// records to the broker. Several relays may share one store.
type Relay struct {
	name      string
	store     Store
	broker    messagebus.Broker
	topics    messagebus.TopicMapper
	batchSize int
	interval  time.Duration
	wg        sync.WaitGroup
	quit      chan struct{}
	stopOnce  sync.Once
}

// NewRelay creates a new Relay instance.
func NewRelay(
	name string,
	store Store,
	broker messagebus.Broker,
	topics messagebus.TopicMapper,
	batchSize int,
	interval time.Duration,
) *Relay {
	if topics == nil {
		topics = messagebus.DefaultTopic
	}
	return &Relay{
		name:      name,
		store:     store,
		broker:    broker,
		topics:    topics,
		batchSize: batchSize,
		interval:  interval,
		quit:      make(chan struct{}),
	}
}

// Start begins the relay's polling process in a separate goroutine.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		slog.InfoContext(ctx, "Outbox relay started", "relay", r.name)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := r.Flush(ctx); err != nil {
					slog.ErrorContext(ctx, "Failed to process outbox batch", "relay", r.name, "error", err)
				}
			case <-r.quit:
				slog.InfoContext(ctx, "Outbox relay shutting down", "relay", r.name)
				return
			case <-ctx.Done():
				slog.InfoContext(ctx, "Context cancelled, outbox relay shutting down", "relay", r.name)
				return
			}
		}
	}()
}

// Flush forwards batches until the outbox has no more unpublished records
// visible to this relay. It returns the number of records forwarded.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.processBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < r.batchSize || ctx.Err() != nil {
			return total, nil
		}
	}
}

func (r *Relay) processBatch(ctx context.Context) (int, error) {
	forwarded := 0
	processor := func(ctx context.Context, events []event.OutboxEvent) error {
		for _, evt := range events {
			topic := r.topics(evt.EventType)
			if topic == "" {
				slog.WarnContext(ctx, "No topic mapped for event type, skipping",
					"eventType", evt.EventType, "eventID", evt.EventID)
				continue
			}
			// An error rolls the batch back; already forwarded records are sent
			// again on the next pass and deduplicated by consumers.
			if err := r.broker.Publish(ctx, topic, evt); err != nil {
				return fmt.Errorf("failed to publish event %s to topic %s: %w", evt.EventID, topic, err)
			}
		}
		forwarded = len(events)
		if forwarded > 0 {
			slog.DebugContext(ctx, "Published outbox events", "relay", r.name, "count", forwarded)
		}
		return nil
	}

	if err := r.store.ProcessOutboxBatch(ctx, r.batchSize, processor); err != nil {
		return 0, err
	}
	return forwarded, nil
}

// Stop gracefully stops the relay.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	r.wg.Wait()
}
