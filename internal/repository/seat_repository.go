package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/YeonwooSung/ticketing-system/internal/model"
)

// SeatRepo provides data access to the seats table.  State-changing
// methods carry a WHERE version = ? predicate: an affected-row count of
// zero means another writer got there first and the caller must treat
// the transition as an optimistic conflict.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

const seatColumns = `seat_id, event_id, seat_number, section, row_number, seat_type,
                     price_cents, status, version, reserved_by, reserved_until, booking_id, created_at`

func scanSeat(row interface{ Scan(...any) error }) (*model.Seat, error) {
	var s model.Seat
	var section, rowNum, reservedBy sql.NullString
	var reservedUntil sql.NullTime
	var bookingID sql.NullInt64
	err := row.Scan(&s.ID, &s.EventID, &s.SeatNumber, &section, &rowNum, &s.SeatType,
		&s.PriceCents, &s.Status, &s.Version, &reservedBy, &reservedUntil, &bookingID, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if section.Valid {
		v := section.String
		s.Section = &v
	}
	if rowNum.Valid {
		v := rowNum.String
		s.RowNumber = &v
	}
	if reservedBy.Valid {
		v := reservedBy.String
		s.ReservedBy = &v
	}
	if reservedUntil.Valid {
		t := reservedUntil.Time.UTC()
		s.ReservedUntil = &t
	}
	if bookingID.Valid {
		id := uint64(bookingID.Int64)
		s.BookingID = &id
	}
	return &s, nil
}

// CreateBulk inserts multiple seats in a single statement.
func (r *SeatRepo) CreateBulk(ctx context.Context, tx *sql.Tx, seats []model.Seat) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO seats (event_id, seat_number, section, row_number, seat_type, price_cents, status) VALUES `
	args := make([]interface{}, 0, len(seats)*7)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?)"
		args = append(args, s.EventID, s.SeatNumber, s.Section, s.RowNumber, s.SeatType, s.PriceCents, model.SeatAvailable)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// GetByID retrieves a seat by its id.
func (r *SeatRepo) GetByID(ctx context.Context, id uint64) (*model.Seat, error) {
	const q = `SELECT ` + seatColumns + ` FROM seats WHERE seat_id = ?`
	s, err := scanSeat(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeatNotFound
		}
		return nil, err
	}
	return s, nil
}

// ListByEvent retrieves all seats of an event ordered by seat number.
// When availableOnly is set, only AVAILABLE seats are returned.
func (r *SeatRepo) ListByEvent(ctx context.Context, eventID uint64, availableOnly bool) ([]model.Seat, error) {
	q := `SELECT ` + seatColumns + ` FROM seats WHERE event_id = ?`
	if availableOnly {
		q += ` AND status = 'AVAILABLE'`
	}
	q += ` ORDER BY seat_number`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seats := make([]model.Seat, 0)
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, nil
}

// GetByIDsForUpdateTx loads the requested seats in ascending id order
// under row-level exclusive locks (SELECT ... FOR UPDATE). Missing ids
// surface as a short result; callers compare lengths.
func (r *SeatRepo) GetByIDsForUpdateTx(ctx context.Context, tx *sql.Tx, ids []uint64) ([]model.Seat, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat(",?", len(ids))[1:]
	q := `SELECT ` + seatColumns + ` FROM seats WHERE seat_id IN (` + placeholders + `) ORDER BY seat_id FOR UPDATE`
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seats := make([]model.Seat, 0, len(ids))
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, nil
}

// GetByBooking retrieves all seats owned by a booking.
func (r *SeatRepo) GetByBooking(ctx context.Context, bookingID uint64) ([]model.Seat, error) {
	const q = `SELECT ` + seatColumns + ` FROM seats WHERE booking_id = ? ORDER BY seat_id`
	rows, err := r.db.QueryContext(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seats := make([]model.Seat, 0)
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, nil
}

// ReserveTx transitions a seat AVAILABLE→RESERVED for user until the
// given expiry. It reports whether the optimistic predicate matched.
func (r *SeatRepo) ReserveTx(ctx context.Context, tx *sql.Tx, seatID uint64, user string, until time.Time, version int64) (bool, error) {
	const q = `UPDATE seats
	           SET status = 'RESERVED', reserved_by = ?, reserved_until = ?, version = version + 1
	           WHERE seat_id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, q, user, until.UTC(), seatID, version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseTx returns a seat to AVAILABLE, clearing holder, hold expiry
// and booking reference. It reports whether the optimistic predicate
// matched.
func (r *SeatRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, seatID uint64, version int64) (bool, error) {
	const q = `UPDATE seats
	           SET status = 'AVAILABLE', reserved_by = NULL, reserved_until = NULL,
	               booking_id = NULL, version = version + 1
	           WHERE seat_id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, q, seatID, version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// BookTx transitions a seat RESERVED→BOOKED under the given booking.
// The holder stays on the row; the hold expiry is cleared because a
// booked seat is no longer subject to sweeping.
func (r *SeatRepo) BookTx(ctx context.Context, tx *sql.Tx, seatID, bookingID uint64, version int64) (bool, error) {
	const q = `UPDATE seats
	           SET status = 'BOOKED', booking_id = ?, reserved_until = NULL, version = version + 1
	           WHERE seat_id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, q, bookingID, seatID, version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ExtendHoldTx pushes a reserved seat's hold expiry forward.
func (r *SeatRepo) ExtendHoldTx(ctx context.Context, tx *sql.Tx, seatID uint64, until time.Time) error {
	const q = `UPDATE seats SET reserved_until = ? WHERE seat_id = ? AND status = 'RESERVED'`
	_, err := tx.ExecContext(ctx, q, until.UTC(), seatID)
	return err
}
