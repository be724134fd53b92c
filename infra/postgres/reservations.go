package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/reservation"
)

const reservationColumns = `id, book_id, customer_party_id, borrowed_at, returned_at, is_active`

// ReservationRepository implements reservation.Repository. The partial unique
// index on active (book_id, customer_party_id) pairs backs the one-active-loan rule.
type ReservationRepository struct {
	db *DB
}

// NewReservationRepository creates a new ReservationRepository.
func NewReservationRepository(db *DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func scanReservation(row pgx.Row) (*reservation.Reservation, error) {
	var r reservation.Reservation
	if err := row.Scan(&r.ID, &r.BookID, &r.CustomerPartyID, &r.BorrowedAt, &r.ReturnedAt, &r.IsActive); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *ReservationRepository) Get(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	row := s.db.conn(ctx).QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	r, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("reservation", id)
	}
	if err != nil {
		return nil, classify("load reservation", err)
	}
	return r, nil
}

func (s *ReservationRepository) FindActive(
	ctx context.Context,
	bookID, customerPartyID uuid.UUID,
) (*reservation.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
        FROM reservations
        WHERE book_id = $1 AND customer_party_id = $2 AND is_active`
	r, err := scanReservation(s.db.conn(ctx).QueryRow(ctx, query, bookID, customerPartyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find active reservation", err)
	}
	return r, nil
}

func (s *ReservationRepository) Insert(ctx context.Context, r *reservation.Reservation) error {
	query := `INSERT INTO reservations (` + reservationColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.conn(ctx).Exec(ctx, query, r.ID, r.BookID, r.CustomerPartyID, r.BorrowedAt, r.ReturnedAt, r.IsActive)
	if isCode(err, codeUniqueViolation) {
		return &errs.ConflictError{
			Msg: "customer " + r.CustomerPartyID.String() + " already has an active reservation for book " + r.BookID.String(),
			Err: err,
		}
	}
	return classify("insert reservation", err)
}

func (s *ReservationRepository) MarkReturned(ctx context.Context, r *reservation.Reservation) error {
	query := `UPDATE reservations SET returned_at = $2, is_active = FALSE WHERE id = $1 AND is_active`
	tag, err := s.db.conn(ctx).Exec(ctx, query, r.ID, r.ReturnedAt)
	if err != nil {
		return classify("mark reservation returned", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict("reservation %s is already completed", r.ID)
	}
	return nil
}

func (s *ReservationRepository) List(ctx context.Context) ([]reservation.Reservation, error) {
	return s.list(ctx, `SELECT `+reservationColumns+` FROM reservations ORDER BY borrowed_at DESC`)
}

func (s *ReservationRepository) ListActive(ctx context.Context) ([]reservation.Reservation, error) {
	return s.list(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE is_active ORDER BY borrowed_at DESC`)
}

func (s *ReservationRepository) ListByCustomer(
	ctx context.Context,
	customerPartyID uuid.UUID,
) ([]reservation.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE customer_party_id = $1 ORDER BY borrowed_at DESC`
	return s.list(ctx, query, customerPartyID)
}

func (s *ReservationRepository) list(ctx context.Context, query string, args ...any) ([]reservation.Reservation, error) {
	rows, err := s.db.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list reservations", err)
	}
	defer rows.Close()

	out := []reservation.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, classify("scan reservation", err)
		}
		out = append(out, *r)
	}
	return out, classify("list reservations", rows.Err())
}
