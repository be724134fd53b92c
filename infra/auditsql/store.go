// Package auditsql stores the audit log in its own PostgreSQL database
// through database/sql, with queries built by goqu.
package auditsql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/0m3kk/library/audit"
	"github.com/0m3kk/library/errs"
)

const (
	dialectPostgres = "postgres"
	tableAudit      = "audit_events"

	colEventID    = "event_id"
	colEntityID   = "entity_id"
	colEntityType = "entity_type"
	colActionType = "action_type"
	colOccurredAt = "occurred_at"
	colPayload    = "payload"
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the audit database and verifies the connection.
func Open(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open audit database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping audit database: %w", err)
	}
	return db, nil
}

// Store implements audit.Store.
type Store struct {
	db *sqlx.DB
	qb goqu.DialectWrapper
}

// NewStore creates an audit store over db.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, qb: goqu.Dialect(dialectPostgres)}
}

func (s *Store) Insert(ctx context.Context, r audit.Record) (bool, error) {
	stmt := s.qb.Insert(tableAudit).
		Rows(goqu.Record{
			colEventID:    r.EventID.String(),
			colEntityID:   r.EntityID,
			colEntityType: r.EntityType,
			colActionType: r.ActionType,
			colOccurredAt: r.Timestamp.UTC(),
			colPayload:    r.Payload,
		}).
		OnConflict(goqu.DoNothing()).
		Prepared(true)

	query, args, err := stmt.ToSQL()
	if err != nil {
		return false, fmt.Errorf("failed to build insert query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, classify("insert audit event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("insert audit event", err)
	}
	return n == 1, nil
}

func (s *Store) List(ctx context.Context, offset, limit int) ([]audit.Record, error) {
	stmt := s.selectRecords().
		Offset(uint(offset)).
		Limit(uint(limit))
	return s.query(ctx, stmt)
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	query, args, err := s.qb.From(tableAudit).Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, classify("count audit events", err)
	}
	return n, nil
}

func (s *Store) ListByEntity(ctx context.Context, entityID string) ([]audit.Record, error) {
	return s.query(ctx, s.selectRecords().Where(goqu.C(colEntityID).Eq(entityID)))
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := s.qb.Delete(tableAudit).
		Where(goqu.C(colOccurredAt).Lt(cutoff.UTC())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify("delete audit events", err)
	}
	return res.RowsAffected()
}

func (s *Store) selectRecords() *goqu.SelectDataset {
	return s.qb.From(tableAudit).
		Select(colEventID, colEntityID, colEntityType, colActionType, colOccurredAt, colPayload).
		Order(goqu.I(colOccurredAt).Desc(), goqu.I(colEventID).Asc())
}

func (s *Store) query(ctx context.Context, stmt *goqu.SelectDataset) ([]audit.Record, error) {
	query, args, err := stmt.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}
	records := []audit.Record{}
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, classify("list audit events", err)
	}
	return records, nil
}

// classify marks connection loss, serialization failures and deadlocks as
// transient.
func classify(op string, err error) error {
	if errors.Is(err, driver.ErrBadConn) {
		return errs.Transient(op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08",
			pqErr.Code == "40001",
			pqErr.Code == "40P01":
			return errs.Transient(op, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
