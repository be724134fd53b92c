package messagebus

import (
	"context"

	"github.com/0m3kk/library/event"
)

// Topics the services exchange facts on.
const (
	TopicParties      = "parties"
	TopicCatalog      = "catalog"
	TopicReservations = "reservations"
)

// Broker defines the interface for a message broker used to publish events.
type Broker interface {
	// Publish sends an event to a specific topic.
	Publish(ctx context.Context, topic string, evt event.OutboxEvent) error
	// Subscribe creates a durable subscription identified by subscriberID and
	// hands incoming messages to handler until ctx is cancelled. A handler
	// error leaves the message eligible for redelivery.
	Subscribe(
		ctx context.Context,
		topic, subscriberID string,
		handler func(ctx context.Context, evt event.OutboxEvent) error,
	) error
	// Close gracefully shuts down the broker connection.
	Close()
}

// TopicMapper maps an event type to a message bus topic.
// An empty result means the event type is not routed anywhere.
type TopicMapper func(eventType string) string

// AllTopics lists every topic facts are published on.
func AllTopics() []string {
	return []string{TopicParties, TopicCatalog, TopicReservations}
}

// DefaultTopic routes each fact to the topic of the service that owns it.
func DefaultTopic(eventType string) string {
	switch eventType {
	case event.TypePartyCreated, event.TypePartyUpdated, event.TypePartyDeleted,
		event.TypeRoleAssigned, event.TypeRoleRemoved:
		return TopicParties
	case event.TypeBookCreated, event.TypeBookUpdated, event.TypeBookDeleted,
		event.TypeCategoryCreated, event.TypeCategoryUpdated, event.TypeCategoryDeleted:
		return TopicCatalog
	case event.TypeBookBorrowed, event.TypeBookReturned:
		return TopicReservations
	default:
		return ""
	}
}
