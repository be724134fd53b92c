package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/0m3kk/library/handler"
)

var errNoTx = errors.New("must be called within a transaction")

// IdempotencyStore implements the handler.IdempotencyStore for PostgreSQL.
type IdempotencyStore struct {
	db *DB
}

// NewIdempotencyStore creates a new IdempotencyStore.
func NewIdempotencyStore(db *DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// IsProcessed checks if an event has already been processed by a subscriber.
func (s *IdempotencyStore) IsProcessed(ctx context.Context, eventID uuid.UUID, subscriberID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1 AND subscriber_id = $2)`
	err := s.db.conn(ctx).QueryRow(ctx, query, eventID, subscriberID).Scan(&exists)
	if err != nil {
		return false, classify("check for processed event", err)
	}
	return exists, nil
}

// MarkAsProcessed marks an event as processed. It expects to be called within a transaction.
func (s *IdempotencyStore) MarkAsProcessed(ctx context.Context, eventID uuid.UUID, subscriberID string) error {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return errNoTx
	}

	query := `INSERT INTO processed_events (event_id, subscriber_id) VALUES ($1, $2)`
	_, err := tx.Exec(ctx, query, eventID, subscriberID)
	if err != nil {
		// Another consumer instance processed the same event concurrently.
		if isCode(err, codeUniqueViolation) {
			return handler.ErrAlreadyProcessed
		}
		return classify("mark event as processed", err)
	}
	return nil
}
