package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/0m3kk/library/event"
)

// Func handles one decoded fact.
type Func func(ctx context.Context, evt event.Event) error

// Typed adapts a handler for a concrete fact type to a Func.
func Typed[T event.Event](fn func(ctx context.Context, evt T) error) Func {
	return func(ctx context.Context, evt event.Event) error {
		typed, ok := evt.(T)
		if !ok {
			return fmt.Errorf("unexpected event %T for type %s", evt, evt.EventType())
		}
		return fn(ctx, typed)
	}
}

// Dispatcher routes transport records to handlers keyed by fact type name.
// Records without a route are acknowledged and ignored.
type Dispatcher struct {
	routes map[string]Func
}

// NewDispatcher creates an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[string]Func)}
}

// On registers fn for eventType, replacing any earlier route.
func (d *Dispatcher) On(eventType string, fn Func) *Dispatcher {
	d.routes[eventType] = fn
	return d
}

// Handles reports whether a route exists for eventType.
func (d *Dispatcher) Handles(eventType string) bool {
	_, ok := d.routes[eventType]
	return ok
}

// Handle decodes rec and invokes its route.
func (d *Dispatcher) Handle(ctx context.Context, rec event.OutboxEvent) error {
	fn, ok := d.routes[rec.EventType]
	if !ok {
		slog.DebugContext(ctx, "No handler for event type, ignoring", "eventType", rec.EventType, "eventID", rec.EventID)
		return nil
	}

	evt, err := event.Decode(rec)
	if err != nil {
		// A record that cannot be decoded will never decode; redelivery cannot help.
		slog.ErrorContext(ctx, "Failed to decode event, dropping", "error", err, "eventID", rec.EventID)
		return nil
	}
	return fn(ctx, evt)
}
