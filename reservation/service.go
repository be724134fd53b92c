package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
)

// Repository persists reservations.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Reservation, error)
	// FindActive returns nil when the customer holds no active reservation for the book.
	FindActive(ctx context.Context, bookID, customerPartyID uuid.UUID) (*Reservation, error)
	// Insert fails with a ConflictError when an active reservation for the
	// same customer and book already exists.
	Insert(ctx context.Context, r *Reservation) error
	// MarkReturned persists a completed reservation only if it is still active
	// in storage; otherwise it fails with a ConflictError.
	MarkReturned(ctx context.Context, r *Reservation) error
	List(ctx context.Context) ([]Reservation, error)
	ListActive(ctx context.Context) ([]Reservation, error)
	ListByCustomer(ctx context.Context, customerPartyID uuid.UUID) ([]Reservation, error)
}

// Transactor runs fn in one local transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher emits facts. Called inside the transaction, so an outbox-backed
// publisher commits the facts together with the state change.
type Publisher interface {
	Publish(ctx context.Context, events ...event.Event) error
}

// BorrowRequest asks for a copy of a book on behalf of a customer.
type BorrowRequest struct {
	BookID          uuid.UUID `json:"book_id" binding:"required"`
	CustomerPartyID uuid.UUID `json:"customer_party_id" binding:"required"`
}

// Service owns the reservation lifecycle.
type Service struct {
	repo      Repository
	tx        Transactor
	publisher Publisher
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a reservation service. Facts go to publisher inside the
// same transaction as the state change.
func NewService(repo Repository, tx Transactor, publisher Publisher, opts ...Option) *Service {
	s := &Service{repo: repo, tx: tx, publisher: publisher, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Borrow opens a reservation and emits BookBorrowed.
func (s *Service) Borrow(ctx context.Context, req BorrowRequest) (*Reservation, error) {
	if req.BookID == uuid.Nil || req.CustomerPartyID == uuid.Nil {
		return nil, errs.Conflict("book id and customer party id are required")
	}

	var res *Reservation
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.FindActive(txCtx, req.BookID, req.CustomerPartyID)
		if err != nil {
			return fmt.Errorf("failed to look up active reservation: %w", err)
		}
		if existing != nil {
			return errs.Conflict("customer %s already has an active reservation for book %s",
				req.CustomerPartyID, req.BookID)
		}

		res = New(req.BookID, req.CustomerPartyID, s.now())
		if err := s.repo.Insert(txCtx, res); err != nil {
			return fmt.Errorf("failed to save reservation: %w", err)
		}

		return s.publisher.Publish(txCtx, event.NewBookBorrowed(event.BorrowSnapshot{
			ReservationID:   res.ID,
			BookID:          res.BookID,
			CustomerPartyID: res.CustomerPartyID,
			BorrowedAt:      res.BorrowedAt,
		}))
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Book borrowed", "reservationID", res.ID, "bookID", res.BookID, "customerID", res.CustomerPartyID)
	return res, nil
}

// Return completes an active reservation and emits BookReturned.
func (s *Service) Return(ctx context.Context, reservationID uuid.UUID) (*Reservation, error) {
	var res *Reservation
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		res, err = s.repo.Get(txCtx, reservationID)
		if err != nil {
			return err
		}
		if err := res.Return(s.now()); err != nil {
			return err
		}
		if err := s.repo.MarkReturned(txCtx, res); err != nil {
			return fmt.Errorf("failed to save reservation: %w", err)
		}

		return s.publisher.Publish(txCtx, event.NewBookReturned(event.ReturnSnapshot{
			ReservationID:   res.ID,
			BookID:          res.BookID,
			CustomerPartyID: res.CustomerPartyID,
			ReturnedAt:      *res.ReturnedAt,
		}))
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Book returned", "reservationID", res.ID, "bookID", res.BookID)
	return res, nil
}

// Get returns one reservation or a NotFoundError.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return s.repo.Get(ctx, id)
}

// List returns every reservation, most recent borrow first.
func (s *Service) List(ctx context.Context) ([]Reservation, error) {
	return s.repo.List(ctx)
}

// ListActive returns the reservations not yet returned.
func (s *Service) ListActive(ctx context.Context) ([]Reservation, error) {
	return s.repo.ListActive(ctx)
}

// ListByCustomer returns the reservations of one customer.
func (s *Service) ListByCustomer(ctx context.Context, customerPartyID uuid.UUID) ([]Reservation, error) {
	return s.repo.ListByCustomer(ctx, customerPartyID)
}
