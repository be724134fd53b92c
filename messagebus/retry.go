package messagebus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
)

// RetryingBroker decorates a Broker so that Publish is retried with bounded
// exponential backoff. Once the budget is spent it returns an errs.DeliveryFault.
type RetryingBroker struct {
	Broker
	maxTries        uint
	initialInterval time.Duration
	maxInterval     time.Duration
}

// RetryOption configures a RetryingBroker.
type RetryOption func(*RetryingBroker)

// WithMaxTries sets the total number of publish attempts.
func WithMaxTries(n uint) RetryOption {
	return func(r *RetryingBroker) {
		if n > 0 {
			r.maxTries = n
		}
	}
}

// WithRetryInterval sets the first and the largest delay between attempts.
func WithRetryInterval(initial, maxInterval time.Duration) RetryOption {
	return func(r *RetryingBroker) {
		r.initialInterval = initial
		r.maxInterval = maxInterval
	}
}

// NewRetryingBroker wraps broker with publish retries.
func NewRetryingBroker(broker Broker, opts ...RetryOption) *RetryingBroker {
	r := &RetryingBroker{
		Broker:          broker,
		maxTries:        3,
		initialInterval: time.Second,
		maxInterval:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish hands evt to the wrapped broker, retrying transient failures.
func (r *RetryingBroker) Publish(ctx context.Context, topic string, evt event.OutboxEvent) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialInterval
	bo.MaxInterval = r.maxInterval

	operation := func() (struct{}, error) {
		err := r.Broker.Publish(ctx, topic, evt)
		if err != nil && errors.Is(err, context.Canceled) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, next time.Duration) {
		slog.WarnContext(ctx, "Publish failed, retrying",
			"error", err, "eventID", evt.EventID, "topic", topic, "retryIn", next)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return &errs.DeliveryFault{EventID: evt.EventID.String(), EventType: evt.EventType, Err: err}
	}
	return nil
}
