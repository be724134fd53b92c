package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
)

// ErrAlreadyProcessed is returned by MarkAsProcessed when the ledger already
// holds the (event, subscriber) pair.
var ErrAlreadyProcessed = errors.New("event already processed")

// IdempotencyStore records which events a subscriber has already applied.
type IdempotencyStore interface {
	IsProcessed(ctx context.Context, eventID uuid.UUID, subscriberID string) (bool, error)
	// MarkAsProcessed must run inside the transaction that applies the event.
	// It blocks while a concurrent transaction holds the same claim and fails
	// with ErrAlreadyProcessed once that transaction commits.
	MarkAsProcessed(ctx context.Context, eventID uuid.UUID, subscriberID string) error
}

// TransactionalHandler is a unit of work executed inside a transaction.
type TransactionalHandler = func(ctx context.Context) error

// Transactor executes a function within a transaction carried by the context.
type Transactor interface {
	WithTransaction(ctx context.Context, fn TransactionalHandler) error
}

// IdempotentEventHandler wraps a consumer so that each event is applied at most
// once per subscriber. The business change and the ledger entry commit together,
// and transient failures are retried with exponential backoff.
type IdempotentEventHandler struct {
	subscriberID   string
	store          IdempotencyStore
	transactor     Transactor
	handler        func(ctx context.Context, evt event.OutboxEvent) error
	maxElapsedTime time.Duration
	newBackOff     func() backoff.BackOff
}

// HandlerOption is a function that configures an IdempotentEventHandler.
type HandlerOption func(*IdempotentEventHandler)

// WithMaxElapsedTime is an option to provide a custom backoff max elapsed time.
func WithMaxElapsedTime(maxElapsedTime time.Duration) HandlerOption {
	return func(h *IdempotentEventHandler) {
		h.maxElapsedTime = maxElapsedTime
	}
}

// WithBackOff replaces the default exponential backoff policy.
func WithBackOff(newBackOff func() backoff.BackOff) HandlerOption {
	return func(h *IdempotentEventHandler) {
		h.newBackOff = newBackOff
	}
}

// NewIdempotentEventHandler creates a new idempotent event handler.
func NewIdempotentEventHandler(
	subscriberID string,
	store IdempotencyStore,
	transactor Transactor,
	handler func(ctx context.Context, evt event.OutboxEvent) error,
	opts ...HandlerOption,
) *IdempotentEventHandler {
	h := &IdempotentEventHandler{
		subscriberID:   subscriberID,
		store:          store,
		transactor:     transactor,
		handler:        handler,
		maxElapsedTime: time.Minute,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes an event with idempotency and retry logic.
// A returned error leaves the message eligible for redelivery; permanent
// failures (not found, conflict) are logged and acknowledged instead.
func (h *IdempotentEventHandler) Handle(ctx context.Context, evt event.OutboxEvent) error {
	isProcessed, err := h.store.IsProcessed(ctx, evt.EventID, h.subscriberID)
	if err != nil {
		return fmt.Errorf("failed to check for event idempotency: %w", err)
	}
	if isProcessed {
		slog.WarnContext(ctx, "Event already processed, skipping", "eventID", evt.EventID, "subscriber", h.subscriberID)
		return nil
	}

	operation := func() (struct{}, error) {
		txErr := h.transactor.WithTransaction(ctx, func(txCtx context.Context) error {
			// Claim first so a concurrent duplicate waits on the ledger row.
			if err := h.store.MarkAsProcessed(txCtx, evt.EventID, h.subscriberID); err != nil {
				return fmt.Errorf("failed to mark event as processed: %w", err)
			}
			if err := h.handler(txCtx, evt); err != nil {
				return fmt.Errorf("handler business logic failed: %w", err)
			}
			return nil
		})
		if errors.Is(txErr, ErrAlreadyProcessed) {
			return struct{}{}, backoff.Permanent(txErr)
		}
		if txErr != nil && (errors.Is(txErr, context.Canceled) || errs.IsPermanent(txErr)) {
			return struct{}{}, backoff.Permanent(txErr)
		}
		return struct{}{}, txErr
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(h.newBackOff()),
		backoff.WithMaxElapsedTime(h.maxElapsedTime),
	)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			slog.WarnContext(ctx, "Event processed concurrently, skipping", "eventID", evt.EventID, "subscriber", h.subscriberID)
			return nil
		}
		if errs.IsPermanent(err) {
			slog.ErrorContext(ctx, "Dropping event after permanent failure",
				"error", err, "eventID", evt.EventID, "eventType", evt.EventType, "subscriber", h.subscriberID)
			return nil
		}
		slog.ErrorContext(ctx, "Failed to process event after multiple retries",
			"error", err, "eventID", evt.EventID, "subscriber", h.subscriberID)
		return err
	}

	slog.InfoContext(ctx, "Event processed successfully by idempotent handler",
		"eventID", evt.EventID, "eventType", evt.EventType, "subscriber", h.subscriberID)
	return nil
}
