package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/YeonwooSung/ticketing-system/internal/model"
)

// BookingRepo provides data access to the bookings and booking_seats
// tables.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `booking_id, event_id, user_id, total_amount_cents, status,
                        payment_id, payment_status, booking_reference, created_at, confirmed_at`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	var b model.Booking
	var paymentID sql.NullString
	var confirmedAt sql.NullTime
	err := row.Scan(&b.ID, &b.EventID, &b.UserID, &b.TotalAmountCents, &b.Status,
		&paymentID, &b.PaymentStatus, &b.Reference, &b.CreatedAt, &confirmedAt)
	if err != nil {
		return nil, err
	}
	if paymentID.Valid {
		v := paymentID.String
		b.PaymentID = &v
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time.UTC()
		b.ConfirmedAt = &t
	}
	return &b, nil
}

// CreateTx inserts a new booking within the caller's transaction and
// populates the generated ID.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (event_id, user_id, total_amount_cents, status,
	                                 payment_status, booking_reference)
	           VALUES (?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.EventID, b.UserID, b.TotalAmountCents,
		b.Status, b.PaymentStatus, b.Reference)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// CreateSeatsBulkTx inserts the booking's seat lines in one statement.
func (r *BookingRepo) CreateSeatsBulkTx(ctx context.Context, tx *sql.Tx, lines []model.BookingSeat) error {
	if len(lines) == 0 {
		return nil
	}
	query := `INSERT INTO booking_seats (booking_id, seat_id, price_cents) VALUES `
	args := make([]interface{}, 0, len(lines)*3)
	for i, l := range lines {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, l.BookingID, l.SeatID, l.PriceCents)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// GetByID retrieves a booking by its id.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_id = ?`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

// GetByReference retrieves a booking by its external reference string.
func (r *BookingRepo) GetByReference(ctx context.Context, ref string) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_reference = ?`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

// GetForUpdateTx loads a booking under a row-level lock for a status or
// payment transition.
func (r *BookingRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_id = ? FOR UPDATE`
	b, err := scanBooking(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

// ListByUser returns all bookings of a user, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSeats returns the seat lines of a booking.
func (r *BookingRepo) GetSeats(ctx context.Context, bookingID uint64) ([]model.BookingSeat, error) {
	const q = `SELECT booking_seat_id, booking_id, seat_id, price_cents
	           FROM booking_seats WHERE booking_id = ? ORDER BY seat_id`
	rows, err := r.db.QueryContext(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.BookingSeat, 0)
	for rows.Next() {
		var l model.BookingSeat
		if err := rows.Scan(&l.ID, &l.BookingID, &l.SeatID, &l.PriceCents); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePaymentTx writes the outcome of a payment transition within
// the caller's transaction.
func (r *BookingRepo) UpdatePaymentTx(ctx context.Context, tx *sql.Tx, id uint64, paymentID *string, pay model.PaymentStatus, status model.BookingStatus) error {
	const q = `UPDATE bookings
	           SET payment_id = ?, payment_status = ?, status = ?,
	               confirmed_at = CASE WHEN ? = 'CONFIRMED' THEN UTC_TIMESTAMP() ELSE confirmed_at END
	           WHERE booking_id = ?`
	_, err := tx.ExecContext(ctx, q, paymentID, pay, status, status, id)
	return err
}

// UpdateStatusTx moves a booking to the given status.
func (r *BookingRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.BookingStatus) error {
	const q = `UPDATE bookings SET status = ? WHERE booking_id = ?`
	_, err := tx.ExecContext(ctx, q, status, id)
	return err
}
