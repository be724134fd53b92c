package reservation

import (
	"time"

	"github.com/google/uuid"

	"github.com/0m3kk/library/errs"
)

// Status of a reservation. Active is the only state a reservation can leave.
type Status string

const (
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
)

// Reservation records one customer borrowing one copy of a book.
type Reservation struct {
	ID              uuid.UUID  `json:"id"`
	BookID          uuid.UUID  `json:"book_id"`
	CustomerPartyID uuid.UUID  `json:"customer_party_id"`
	BorrowedAt      time.Time  `json:"borrowed_at"`
	ReturnedAt      *time.Time `json:"returned_at,omitempty"`
	IsActive        bool       `json:"is_active"`
}

// New creates an active reservation borrowed at now.
func New(bookID, customerPartyID uuid.UUID, now time.Time) *Reservation {
	return &Reservation{
		ID:              uuid.New(),
		BookID:          bookID,
		CustomerPartyID: customerPartyID,
		BorrowedAt:      now.UTC(),
		IsActive:        true,
	}
}

func (r *Reservation) Status() Status {
	if r.IsActive {
		return StatusActive
	}
	return StatusCompleted
}

// Return moves the reservation to Completed.
func (r *Reservation) Return(now time.Time) error {
	if !r.IsActive {
		return errs.Conflict("reservation %s is already completed", r.ID)
	}
	returnedAt := now.UTC()
	r.ReturnedAt = &returnedAt
	r.IsActive = false
	return nil
}
