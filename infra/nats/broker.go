package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"

	"github.com/0m3kk/library/event"
)

// Options tunes the JetStream broker.
type Options struct {
	ConnectTimeout  time.Duration
	MaxReconnects   int
	ReconnectWait   time.Duration
	FetchBatch      int
	FetchWait       time.Duration
	MaxDeliver      int
	RedeliveryDelay time.Duration
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = 5
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.FetchBatch <= 0 {
		o.FetchBatch = 10
	}
	if o.FetchWait <= 0 {
		o.FetchWait = 5 * time.Second
	}
	if o.RedeliveryDelay <= 0 {
		o.RedeliveryDelay = time.Second
	}
}

// NATSBroker is an implementation of the Broker interface using NATS JetStream.
// Each topic is a stream; each subscriber is a durable pull consumer on it.
type NATSBroker struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	opts Options

	streamsMu sync.Mutex
	streams   map[string]bool
	wg        sync.WaitGroup
}

// NewNATSBroker creates a new NATSBroker instance.
func NewNATSBroker(url string, opts Options) (*NATSBroker, error) {
	opts.withDefaults()
	nc, err := nats.Connect(
		url,
		nats.Timeout(opts.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSBroker{conn: nc, js: js, opts: opts, streams: make(map[string]bool)}, nil
}

// ensureStream creates the stream backing topic if it does not exist yet.
func (b *NATSBroker) ensureStream(ctx context.Context, topic string) error {
	b.streamsMu.Lock()
	defer b.streamsMu.Unlock()
	if b.streams[topic] {
		return nil
	}

	_, err := b.js.StreamInfo(topic, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		slog.InfoContext(ctx, "Stream not found, creating it", "stream", topic)
		_, err = b.js.AddStream(&nats.StreamConfig{
			Name:     topic,
			Subjects: []string{wildcard(topic)},
		}, nats.Context(ctx))
		if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("failed to create stream %s: %w", topic, err)
		}
	case err != nil:
		return fmt.Errorf("failed to get stream info for %s: %w", topic, err)
	}

	b.streams[topic] = true
	return nil
}

// Publish sends an event to a JetStream topic. The event id doubles as the
// JetStream message id so the server drops resends inside its dedup window.
func (b *NATSBroker) Publish(ctx context.Context, topic string, evt event.OutboxEvent) error {
	if err := b.ensureStream(ctx, topic); err != nil {
		return err
	}

	data, err := encode(evt)
	if err != nil {
		return err
	}

	subj := subject(topic, evt)
	_, err = b.js.Publish(subj, data, nats.MsgId(evt.EventID.String()), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	slog.DebugContext(ctx, "Event published successfully", "topic", topic, "subject", subj, "eventID", evt.EventID)
	return nil
}

// Subscribe creates a durable, pull-based subscription.
func (b *NATSBroker) Subscribe(
	ctx context.Context,
	topic, subscriberID string,
	handler func(context.Context, event.OutboxEvent) error,
) error {
	if err := b.ensureStream(ctx, topic); err != nil {
		return err
	}

	consumerName := fmt.Sprintf("%s-%s", topic, subscriberID)
	subOpts := []nats.SubOpt{nats.PullMaxWaiting(128), nats.ManualAck()}
	if b.opts.MaxDeliver > 0 {
		subOpts = append(subOpts, nats.MaxDeliver(b.opts.MaxDeliver))
	}

	// A durable consumer resumes where it left off after a restart.
	sub, err := b.js.PullSubscribe(wildcard(topic), consumerName, subOpts...)
	if err != nil {
		return fmt.Errorf("failed to create pull subscription: %w", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		slog.InfoContext(ctx, "Subscriber started", "topic", topic, "subscriberID", subscriberID)
		for {
			select {
			case <-ctx.Done():
				slog.InfoContext(ctx, "Subscriber stopping", "topic", topic, "subscriberID", subscriberID)
				return
			default:
			}

			msgs, err := sub.Fetch(b.opts.FetchBatch, nats.MaxWait(b.opts.FetchWait))
			if err != nil {
				if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
					return
				}
				if !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
					slog.ErrorContext(ctx, "Failed to fetch messages", "error", err, "topic", topic)
				}
				continue
			}

			for _, msg := range msgs {
				b.deliver(ctx, topic, msg, handler)
			}
		}
	}()

	return nil
}

func (b *NATSBroker) deliver(
	ctx context.Context,
	topic string,
	msg *nats.Msg,
	handler func(context.Context, event.OutboxEvent) error,
) {
	evt, err := decode(msg.Data)
	if err != nil {
		// Redelivery cannot fix a malformed message.
		slog.ErrorContext(ctx, "Failed to unmarshal event, terminating", "error", err, "topic", topic)
		_ = msg.Term()
		return
	}

	if err := handler(ctx, evt); err != nil {
		slog.ErrorContext(ctx, "Handler failed to process event", "error", err, "eventID", evt.EventID)
		_ = msg.NakWithDelay(b.opts.RedeliveryDelay)
		return
	}
	_ = msg.Ack()
}

// Close gracefully closes the NATS connection.
func (b *NATSBroker) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	b.wg.Wait()
}

func wildcard(topic string) string {
	return topic + ".*"
}

// subject partitions a topic by entity, e.g. reservations.<reservation id>.
func subject(topic string, evt event.OutboxEvent) string {
	token := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(evt.EntityID)
	if token == "" {
		token = "_"
	}
	return topic + "." + token
}

func encode(evt event.OutboxEvent) ([]byte, error) {
	data, err := jsoniter.ConfigFastest.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", evt.EventID, err)
	}
	return data, nil
}

func decode(data []byte) (event.OutboxEvent, error) {
	var evt event.OutboxEvent
	if err := jsoniter.ConfigFastest.Unmarshal(data, &evt); err != nil {
		return event.OutboxEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return evt, nil
}
