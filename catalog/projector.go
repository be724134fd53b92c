package catalog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
	"github.com/0m3kk/library/handler"
)

// InventorySubscriberID names the inventory projector in the idempotency ledger.
const InventorySubscriberID = "catalog-inventory"

// InventoryProjector keeps available copies in step with reservation facts.
// Every update is a relative increment, so deliveries commute and a return
// seen before its borrow still converges.
type InventoryProjector struct {
	store InventoryStore
}

// NewInventoryProjector creates a projector over store.
func NewInventoryProjector(store InventoryStore) *InventoryProjector {
	return &InventoryProjector{store: store}
}

// Dispatcher exposes the projector as a dispatch table over reservation facts.
func (p *InventoryProjector) Dispatcher() *handler.Dispatcher {
	return handler.NewDispatcher().
		On(event.TypeBookBorrowed, handler.Typed(p.OnBookBorrowed)).
		On(event.TypeBookReturned, handler.Typed(p.OnBookReturned))
}

// OnBookBorrowed takes one copy out of the available stock.
func (p *InventoryProjector) OnBookBorrowed(ctx context.Context, evt *event.BookBorrowed) error {
	return p.adjust(ctx, evt.EventID(), evt.BookID, -1)
}

// OnBookReturned puts one copy back.
func (p *InventoryProjector) OnBookReturned(ctx context.Context, evt *event.BookReturned) error {
	return p.adjust(ctx, evt.EventID(), evt.BookID, +1)
}

func (p *InventoryProjector) adjust(ctx context.Context, eventID, bookID uuid.UUID, delta int) error {
	err := p.store.AdjustAvailableCopies(ctx, bookID, delta)
	if errors.Is(err, errs.ErrNotFound) {
		slog.WarnContext(ctx, "Book not found for inventory update, dropping event",
			"eventID", eventID, "bookID", bookID, "delta", delta)
		return nil
	}
	return err
}
