package messagebus

import (
	"context"
	"errors"
	"fmt"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
)

// Publisher hands facts straight to a broker, without an outbox.
// Wrap the broker in a RetryingBroker to get bounded retries.
type Publisher struct {
	broker Broker
	topics TopicMapper
}

// NewPublisher creates a direct publisher.
func NewPublisher(broker Broker, topics TopicMapper) *Publisher {
	if topics == nil {
		topics = DefaultTopic
	}
	return &Publisher{broker: broker, topics: topics}
}

// Publish encodes every fact and sends it to its topic. It stops at the first
// failure; transport failures are reported as errs.DeliveryFault.
func (p *Publisher) Publish(ctx context.Context, events ...event.Event) error {
	for _, evt := range events {
		rec, err := event.ToOutbox(evt)
		if err != nil {
			return err
		}
		topic := p.topics(rec.EventType)
		if topic == "" {
			return fmt.Errorf("no topic mapped for event type %s", rec.EventType)
		}
		if err := p.broker.Publish(ctx, topic, rec); err != nil {
			if errors.Is(err, errs.ErrDeliveryFault) {
				return err
			}
			return &errs.DeliveryFault{EventID: rec.EventID.String(), EventType: rec.EventType, Err: err}
		}
	}
	return nil
}
