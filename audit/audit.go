package audit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/0m3kk/library/event"
)

// SubscriberID names the audit consumer on every topic.
const SubscriberID = "audit"

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Record is one immutable audit log entry, a copy of a fact's envelope.
type Record struct {
	EventID    uuid.UUID `json:"event_id" db:"event_id"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	ActionType string    `json:"action_type" db:"action_type"`
	Timestamp  time.Time `json:"timestamp" db:"occurred_at"`
	Payload    string    `json:"payload" db:"payload"`
}

// Page is one window of the audit log, newest first.
type Page struct {
	Items      []Record `json:"items"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalCount int64    `json:"total_count"`
}

// TotalPages is the number of pages of PageSize needed to hold TotalCount.
func (p Page) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return int((p.TotalCount + int64(p.PageSize) - 1) / int64(p.PageSize))
}

// Store persists audit records.
type Store interface {
	// Insert stores r unless a record with the same event id exists and
	// reports whether it was stored.
	Insert(ctx context.Context, r Record) (bool, error)
	// List returns records ordered by timestamp, newest first.
	List(ctx context.Context, offset, limit int) ([]Record, error)
	Count(ctx context.Context) (int64, error)
	// ListByEntity returns all records of one entity, newest first.
	ListByEntity(ctx context.Context, entityID string) ([]Record, error)
	// DeleteBefore removes records with a timestamp strictly before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Log is the append-only audit trail of every fact in the system.
type Log struct {
	store Store
}

// NewLog creates a log over store.
func NewLog(store Store) *Log {
	return &Log{store: store}
}

// Record appends r. A record whose event id is already present is ignored.
func (l *Log) Record(ctx context.Context, r Record) error {
	inserted, err := l.store.Insert(ctx, r)
	if err != nil {
		return fmt.Errorf("failed to record audit event %s: %w", r.EventID, err)
	}
	if !inserted {
		slog.DebugContext(ctx, "Audit event already recorded, skipping", "eventID", r.EventID)
	}
	return nil
}

// Handle records any fact straight from its transport record.
func (l *Log) Handle(ctx context.Context, rec event.OutboxEvent) error {
	return l.Record(ctx, Record{
		EventID:    rec.EventID,
		EntityID:   rec.EntityID,
		EntityType: rec.EntityType,
		ActionType: rec.ActionType,
		Timestamp:  rec.Timestamp,
		Payload:    rec.Payload,
	})
}

// List returns one page of the log. Page numbers below 1 read the first page;
// a page size below 1 falls back to DefaultPageSize and is capped at MaxPageSize.
func (l *Log) List(ctx context.Context, page, pageSize int) (*Page, error) {
	page, pageSize = normalize(page, pageSize)

	total, err := l.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	// Pages past the end, including offsets that would overflow, are empty.
	if page-1 > (math.MaxInt-1)/pageSize || int64((page-1)*pageSize) >= total {
		return &Page{Items: []Record{}, Page: page, PageSize: pageSize, TotalCount: total}, nil
	}
	items, err := l.store.List(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	if items == nil {
		items = []Record{}
	}
	return &Page{Items: items, Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// ListByEntity returns the history of one entity, newest first.
func (l *Log) ListByEntity(ctx context.Context, entityID string) ([]Record, error) {
	items, err := l.store.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events of %s: %w", entityID, err)
	}
	if items == nil {
		items = []Record{}
	}
	return items, nil
}

// PurgeOlderThan deletes every record strictly older than cutoff.
func (l *Log) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return deleted, nil
}

func normalize(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}
