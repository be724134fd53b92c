package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/0m3kk/library/event"
)

// OutboxStore implements the outbox.Store interface for PostgreSQL and is the
// transactional publisher of the Reservation and Catalog services.
type OutboxStore struct {
	db *DB
}

// NewOutboxStore creates a new OutboxStore.
func NewOutboxStore(db *DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Publish appends events to the outbox. It expects to be run within a
// transaction so the records commit together with the state change.
func (s *OutboxStore) Publish(ctx context.Context, events ...event.Event) error {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return fmt.Errorf("outbox publish: %w", errNoTx)
	}
	if len(events) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	stmt := `
        INSERT INTO outbox (event_id, entity_id, entity_type, action_type, event_type, payload, data, ts)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	for _, evt := range events {
		rec, err := event.ToOutbox(evt)
		if err != nil {
			return err
		}
		b.Queue(stmt,
			rec.EventID,
			rec.EntityID,
			rec.EntityType,
			rec.ActionType,
			rec.EventType,
			rec.Payload,
			rec.Data,
			rec.Timestamp,
		)
	}

	br := tx.SendBatch(ctx, b)
	defer br.Close()

	for i := range len(events) {
		if _, err := br.Exec(); err != nil {
			return classify(fmt.Sprintf("insert event #%d into outbox", i+1), err)
		}
	}

	return br.Close()
}

// ProcessOutboxBatch handles the entire lifecycle of fetching, processing,
// and marking outbox events as published within a single transaction.
func (s *OutboxStore) ProcessOutboxBatch(
	ctx context.Context,
	batchSize int,
	processFunc func(ctx context.Context, events []event.OutboxEvent) error,
) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return classify("begin outbox transaction", err)
	}
	defer tx.Rollback(ctx)

	events, err := fetchAndLockUnpublishedInTx(ctx, tx, batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch and lock events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	// If this fails the rows stay unpublished and unlock on rollback.
	if err := processFunc(ctx, events); err != nil {
		return fmt.Errorf("event processing function failed: %w", err)
	}

	if err := markAsPublishedInTx(ctx, tx, events); err != nil {
		return fmt.Errorf("failed to mark events as published: %w", err)
	}

	return tx.Commit(ctx)
}

// fetchAndLockUnpublishedInTx selects in field order of event.OutboxEvent.
func fetchAndLockUnpublishedInTx(ctx context.Context, tx pgx.Tx, batchSize int) ([]event.OutboxEvent, error) {
	query := `
        SELECT event_id, entity_id, entity_type, action_type, event_type, payload, data, ts
        FROM outbox
        WHERE published = FALSE
        ORDER BY ts
        LIMIT $1
        FOR UPDATE SKIP LOCKED
    `
	rows, err := tx.Query(ctx, query, batchSize)
	if err != nil {
		return nil, classify("query outbox", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, pgx.RowToStructByPos[event.OutboxEvent])
}

func markAsPublishedInTx(ctx context.Context, tx pgx.Tx, events []event.OutboxEvent) error {
	eventIDs := make([]uuid.UUID, len(events))
	for i, e := range events {
		eventIDs[i] = e.EventID
	}

	query := `UPDATE outbox SET published = TRUE, published_at = now() WHERE event_id = ANY($1)`
	cmdTag, err := tx.Exec(ctx, query, eventIDs)
	if err != nil {
		return fmt.Errorf("failed to execute update for marking events as published: %w", err)
	}

	if cmdTag.RowsAffected() != int64(len(eventIDs)) {
		return fmt.Errorf(
			"consistency error: expected to mark %d events, but marked %d",
			len(eventIDs),
			cmdTag.RowsAffected(),
		)
	}

	return nil
}
