package messagebus_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
	"github.com/0m3kk/library/messagebus"
)

// flakyBroker fails the first `failures` publishes.
type flakyBroker struct {
	mu        sync.Mutex
	failures  int
	calls     int
	published []event.OutboxEvent
	topics    []string
}

func (f *flakyBroker) Publish(_ context.Context, topic string, evt event.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, evt)
	f.topics = append(f.topics, topic)
	return nil
}

func (f *flakyBroker) Subscribe(
	context.Context,
	string, string,
	func(context.Context, event.OutboxEvent) error,
) error {
	return nil
}

func (f *flakyBroker) Close() {}

func fastRetry(inner messagebus.Broker, tries uint) *messagebus.RetryingBroker {
	return messagebus.NewRetryingBroker(inner,
		messagebus.WithMaxTries(tries),
		messagebus.WithRetryInterval(time.Millisecond, 5*time.Millisecond),
	)
}

func TestDefaultTopic(t *testing.T) {
	assert.Equal(t, messagebus.TopicReservations, messagebus.DefaultTopic(event.TypeBookBorrowed))
	assert.Equal(t, messagebus.TopicReservations, messagebus.DefaultTopic(event.TypeBookReturned))
	assert.Equal(t, messagebus.TopicCatalog, messagebus.DefaultTopic(event.TypeCategoryDeleted))
	assert.Equal(t, messagebus.TopicParties, messagebus.DefaultTopic(event.TypeRoleAssigned))
	assert.Empty(t, messagebus.DefaultTopic("Unknown"))

	for _, name := range event.Types() {
		assert.NotEmpty(t, messagebus.DefaultTopic(name), "event type %s has no topic", name)
	}
}

func TestRetryingBroker_RecoversFromTransientFailure(t *testing.T) {
	// GIVEN
	inner := &flakyBroker{failures: 2}
	broker := fastRetry(inner, 3)

	// WHEN
	err := broker.Publish(context.Background(), "t", event.OutboxEvent{EventID: uuid.New()})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.Len(t, inner.published, 1)
}

func TestRetryingBroker_ExhaustedBudgetIsDeliveryFault(t *testing.T) {
	// GIVEN
	inner := &flakyBroker{failures: 10}
	broker := fastRetry(inner, 3)

	// WHEN
	err := broker.Publish(context.Background(), "t", event.OutboxEvent{EventID: uuid.New(), EventType: "X"})

	// THEN
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrDeliveryFault)
	assert.Equal(t, 3, inner.calls)
}

func TestPublisher_RoutesFactsToTheirTopics(t *testing.T) {
	inner := &flakyBroker{}
	pub := messagebus.NewPublisher(inner, messagebus.DefaultTopic)

	borrowed := event.NewBookBorrowed(event.BorrowSnapshot{
		ReservationID: uuid.New(), BookID: uuid.New(), CustomerPartyID: uuid.New(), BorrowedAt: time.Now().UTC(),
	})
	created := event.NewPartyCreated(event.PartySnapshot{PartyID: uuid.New(), Email: "a@b.c"})

	require.NoError(t, pub.Publish(context.Background(), borrowed, created))

	require.Len(t, inner.published, 2)
	assert.Equal(t, []string{messagebus.TopicReservations, messagebus.TopicParties}, inner.topics)
	assert.Equal(t, borrowed.EventID(), inner.published[0].EventID)
	assert.Equal(t, event.TypePartyCreated, inner.published[1].EventType)
}

func TestPublisher_WrapsTransportFailure(t *testing.T) {
	pub := messagebus.NewPublisher(&flakyBroker{failures: 1}, nil)

	err := pub.Publish(context.Background(), event.NewBookDeleted(uuid.New()))
	assert.ErrorIs(t, err, errs.ErrDeliveryFault)
}

func TestPublisher_RejectsInvalidEnvelope(t *testing.T) {
	inner := &flakyBroker{}
	pub := messagebus.NewPublisher(inner, nil)
	evt := event.NewBookDeleted(uuid.New())
	evt.Data = ""

	err := pub.Publish(context.Background(), evt)
	assert.ErrorIs(t, err, event.ErrInvalidEnvelope)
	assert.Zero(t, inner.calls)
}

func TestInProcBroker_FansOutToEverySubscriber(t *testing.T) {
	// GIVEN
	broker, err := messagebus.NewInProcBroker(4)
	require.NoError(t, err)
	defer broker.Close()

	ctx := context.Background()
	var audit, inventory atomic.Int32
	require.NoError(t, broker.Subscribe(ctx, "reservations", "audit", func(context.Context, event.OutboxEvent) error {
		audit.Add(1)
		return nil
	}))
	require.NoError(t, broker.Subscribe(ctx, "reservations", "inventory", func(context.Context, event.OutboxEvent) error {
		inventory.Add(1)
		return nil
	}))

	// WHEN
	require.NoError(t, broker.Publish(ctx, "reservations", event.OutboxEvent{EventID: uuid.New()}))
	require.NoError(t, broker.Publish(ctx, "catalog", event.OutboxEvent{EventID: uuid.New()}))
	broker.Wait()

	// THEN
	assert.EqualValues(t, 1, audit.Load())
	assert.EqualValues(t, 1, inventory.Load())
}

func TestInProcBroker_RedeliversFailedMessages(t *testing.T) {
	// GIVEN
	broker, err := messagebus.NewInProcBroker(2,
		messagebus.WithMaxDeliveries(3),
		messagebus.WithRedeliveryDelay(time.Millisecond),
	)
	require.NoError(t, err)
	defer broker.Close()

	var calls atomic.Int32
	require.NoError(t, broker.Subscribe(context.Background(), "t", "s", func(context.Context, event.OutboxEvent) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}))

	// WHEN
	require.NoError(t, broker.Publish(context.Background(), "t", event.OutboxEvent{EventID: uuid.New()}))
	broker.Wait()

	// THEN
	assert.EqualValues(t, 3, calls.Load())
}

func TestInProcBroker_ReportsDroppedMessageAsDeliveryFault(t *testing.T) {
	// GIVEN
	type drop struct {
		topic, subscriberID string
		fault               *errs.DeliveryFault
	}
	drops := make(chan drop, 1)
	broker, err := messagebus.NewInProcBroker(1,
		messagebus.WithMaxDeliveries(2),
		messagebus.WithRedeliveryDelay(time.Millisecond),
		messagebus.WithDropHandler(func(topic, subscriberID string, fault *errs.DeliveryFault) {
			drops <- drop{topic, subscriberID, fault}
		}),
	)
	require.NoError(t, err)
	defer broker.Close()

	cause := errors.New("audit store down")
	var calls atomic.Int32
	require.NoError(t, broker.Subscribe(context.Background(), "reservations", "audit",
		func(context.Context, event.OutboxEvent) error {
			calls.Add(1)
			return cause
		}))
	evt := event.OutboxEvent{EventID: uuid.New(), EventType: event.TypeBookBorrowed}

	// WHEN
	require.NoError(t, broker.Publish(context.Background(), "reservations", evt))
	broker.Wait()

	// THEN
	assert.EqualValues(t, 2, calls.Load())
	require.Len(t, drops, 1)
	got := <-drops
	assert.Equal(t, "reservations", got.topic)
	assert.Equal(t, "audit", got.subscriberID)
	assert.Equal(t, evt.EventID.String(), got.fault.EventID)
	assert.Equal(t, event.TypeBookBorrowed, got.fault.EventType)
	assert.ErrorIs(t, got.fault, errs.ErrDeliveryFault)
	assert.ErrorIs(t, got.fault, cause)
}

func TestInProcBroker_RejectsDuplicateSubscriberAndClosedPublish(t *testing.T) {
	broker, err := messagebus.NewInProcBroker(1)
	require.NoError(t, err)

	noop := func(context.Context, event.OutboxEvent) error { return nil }
	require.NoError(t, broker.Subscribe(context.Background(), "t", "s", noop))
	assert.Error(t, broker.Subscribe(context.Background(), "t", "s", noop))

	broker.Close()
	assert.ErrorIs(t, broker.Publish(context.Background(), "t", event.OutboxEvent{}), messagebus.ErrBrokerClosed)
}
