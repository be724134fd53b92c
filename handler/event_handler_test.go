package handler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
	"github.com/0m3kk/library/handler"
	"github.com/0m3kk/library/testutil"
)

type HandlerSuite struct {
	suite.Suite
	store *testutil.IdempotencyStore
	tx    *testutil.Transactor
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = testutil.NewIdempotencyStore()
	s.tx = &testutil.Transactor{}
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(5 * time.Millisecond)
}

func (s *HandlerSuite) newHandler(
	subscriberID string,
	fn func(ctx context.Context, evt event.OutboxEvent) error,
	opts ...handler.HandlerOption,
) *handler.IdempotentEventHandler {
	opts = append([]handler.HandlerOption{handler.WithBackOff(fastBackOff)}, opts...)
	return handler.NewIdempotentEventHandler(subscriberID, s.store, s.tx, fn, opts...)
}

func (s *HandlerSuite) TestIdempotentHandler_HappyPath() {
	// GIVEN
	ctx := context.Background()
	subscriberID := "test-subscriber-1"
	eventID := uuid.New()
	handlerCallCount := 0

	h := s.newHandler(subscriberID, func(ctx context.Context, evt event.OutboxEvent) error {
		handlerCallCount++
		return nil
	})

	// WHEN
	err := h.Handle(ctx, event.OutboxEvent{EventID: eventID})

	// THEN
	s.NoError(err)
	s.Equal(1, handlerCallCount, "Handler should be called exactly once")

	isProcessed, err := s.store.IsProcessed(ctx, eventID, subscriberID)
	s.NoError(err)
	s.True(isProcessed)
}

func (s *HandlerSuite) TestIdempotentHandler_SkipsDuplicateEvent() {
	// GIVEN
	ctx := context.Background()
	handlerCallCount := 0
	h := s.newHandler("test-subscriber-2", func(ctx context.Context, evt event.OutboxEvent) error {
		handlerCallCount++
		return nil
	})
	testEvent := event.OutboxEvent{EventID: uuid.New()}

	s.Require().NoError(h.Handle(ctx, testEvent))
	s.Require().Equal(1, handlerCallCount)

	// WHEN
	err := h.Handle(ctx, testEvent)

	// THEN
	s.NoError(err, "Processing a duplicate event should not return an error")
	s.Equal(1, handlerCallCount, "Handler should not be called for a duplicate event")
}

func (s *HandlerSuite) TestIdempotentHandler_LedgerIsPerSubscriber() {
	// GIVEN
	ctx := context.Background()
	calls := map[string]int{}
	mk := func(id string) *handler.IdempotentEventHandler {
		return s.newHandler(id, func(ctx context.Context, evt event.OutboxEvent) error {
			calls[id]++
			return nil
		})
	}
	testEvent := event.OutboxEvent{EventID: uuid.New()}

	// WHEN
	s.Require().NoError(mk("audit").Handle(ctx, testEvent))
	s.Require().NoError(mk("inventory").Handle(ctx, testEvent))

	// THEN
	s.Equal(1, calls["audit"])
	s.Equal(1, calls["inventory"])
}

func (s *HandlerSuite) TestIdempotentHandler_RollsBackOnHandlerFailure() {
	// GIVEN
	ctx := context.Background()
	subscriberID := "test-subscriber-3"
	eventID := uuid.New()
	handlerCallCount := 0

	h := s.newHandler(subscriberID, func(ctx context.Context, evt event.OutboxEvent) error {
		handlerCallCount++
		return errors.New("business logic failed")
	}, handler.WithMaxElapsedTime(100*time.Millisecond))

	// WHEN
	err := h.Handle(ctx, event.OutboxEvent{EventID: eventID})

	// THEN
	s.Error(err, "Handle should return an error if the inner handler fails after retries")
	s.Greater(handlerCallCount, 1, "Handler should have been retried")

	isProcessed, dbErr := s.store.IsProcessed(ctx, eventID, subscriberID)
	s.NoError(dbErr)
	s.False(isProcessed, "Event should not be marked as processed if handler fails")
}

func (s *HandlerSuite) TestIdempotentHandler_RetriesOnTransientFailure() {
	// GIVEN
	ctx := context.Background()
	subscriberID := "test-subscriber-4"
	handlerCallCount := 0

	h := s.newHandler(subscriberID, func(ctx context.Context, evt event.OutboxEvent) error {
		handlerCallCount++
		if handlerCallCount < 2 {
			return errs.Transient("adjust copies", errors.New("connection reset"))
		}
		return nil
	}, handler.WithMaxElapsedTime(2*time.Second))
	testEvent := event.OutboxEvent{EventID: uuid.New()}

	// WHEN
	err := h.Handle(ctx, testEvent)

	// THEN
	s.NoError(err, "Handle should eventually succeed after retries")
	s.Equal(2, handlerCallCount, "Handler should be called twice")

	isProcessed, dbErr := s.store.IsProcessed(ctx, testEvent.EventID, subscriberID)
	s.NoError(dbErr)
	s.True(isProcessed)
}

func (s *HandlerSuite) TestIdempotentHandler_AcknowledgesPermanentFailure() {
	// GIVEN
	ctx := context.Background()
	subscriberID := "test-subscriber-5"
	handlerCallCount := 0

	h := s.newHandler(subscriberID, func(ctx context.Context, evt event.OutboxEvent) error {
		handlerCallCount++
		return errs.Conflict("cannot apply")
	})
	testEvent := event.OutboxEvent{EventID: uuid.New()}

	// WHEN
	err := h.Handle(ctx, testEvent)

	// THEN
	s.NoError(err, "A permanent failure should not trigger redelivery")
	s.Equal(1, handlerCallCount, "A permanent failure should not be retried")

	isProcessed, dbErr := s.store.IsProcessed(ctx, testEvent.EventID, subscriberID)
	s.NoError(dbErr)
	s.False(isProcessed)
}

func (s *HandlerSuite) TestIdempotentHandler_ConcurrentDuplicatesAppliedOnce() {
	// GIVEN
	ctx := context.Background()
	var calls atomic.Int32
	h := s.newHandler("test-subscriber-6", func(ctx context.Context, evt event.OutboxEvent) error {
		calls.Add(1)
		return nil
	})
	testEvent := event.OutboxEvent{EventID: uuid.New()}

	// WHEN
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(h.Handle(ctx, testEvent))
		}()
	}
	wg.Wait()

	// THEN
	s.EqualValues(1, calls.Load(), "Only the delivery holding the ledger claim should apply the event")
}
