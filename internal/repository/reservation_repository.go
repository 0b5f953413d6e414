package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/YeonwooSung/ticketing-system/internal/model"
)

// ReservationRepo provides data access to the reservations table.
// One row holds exactly one seat; multi-seat requests create one row
// per seat inside a single transaction.  All timestamps are UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `reservation_id, seat_id, event_id, user_id, expires_at, status, created_at`

func scanReservation(row interface{ Scan(...any) error }) (*model.Reservation, error) {
	var res model.Reservation
	if err := row.Scan(&res.ID, &res.SeatID, &res.EventID, &res.UserID,
		&res.ExpiresAt, &res.Status, &res.CreatedAt); err != nil {
		return nil, err
	}
	res.ExpiresAt = res.ExpiresAt.UTC()
	return &res, nil
}

// CreateTx inserts a new ACTIVE reservation within the caller's
// transaction and populates the generated ID.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const q = `INSERT INTO reservations (seat_id, event_id, user_id, expires_at, status)
	           VALUES (?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q, res.SeatID, res.EventID, res.UserID,
		res.ExpiresAt.UTC(), res.Status)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// GetByID retrieves a reservation by its id.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE reservation_id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return res, nil
}

// GetByIDsForUpdateTx loads the requested reservations in ascending id
// order under row-level locks. A short result means unknown ids.
func (r *ReservationRepo) GetByIDsForUpdateTx(ctx context.Context, tx *sql.Tx, ids []uint64) ([]model.Reservation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat(",?", len(ids))[1:]
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE reservation_id IN (` +
		placeholders + `) ORDER BY reservation_id FOR UPDATE`
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Reservation, 0, len(ids))
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListActiveByUser returns the user's ACTIVE reservations, newest first.
func (r *ReservationRepo) ListActiveByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE user_id = ? AND status = 'ACTIVE'
	           ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListExpired selects at most limit ACTIVE reservations whose expiry
// has passed, oldest first. The limit bounds sweeper work per cycle.
func (r *ReservationRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE status = 'ACTIVE' AND expires_at <= ?
	           ORDER BY expires_at
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatusTx moves a reservation to the given status within the
// caller's transaction.
func (r *ReservationRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.ReservationStatus) error {
	const q = `UPDATE reservations SET status = ? WHERE reservation_id = ?`
	_, err := tx.ExecContext(ctx, q, status, id)
	return err
}

// UpdateStatusBulkTx moves several reservations to the given status in
// one statement.
func (r *ReservationRepo) UpdateStatusBulkTx(ctx context.Context, tx *sql.Tx, ids []uint64, status model.ReservationStatus) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat(",?", len(ids))[1:]
	q := `UPDATE reservations SET status = ? WHERE reservation_id IN (` + placeholders + `)`
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, status)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// UpdateExpiryTx pushes a reservation's expiry forward.
func (r *ReservationRepo) UpdateExpiryTx(ctx context.Context, tx *sql.Tx, id uint64, expiresAt time.Time) error {
	const q = `UPDATE reservations SET expires_at = ? WHERE reservation_id = ?`
	_, err := tx.ExecContext(ctx, q, expiresAt.UTC(), id)
	return err
}

// ListActiveBySeatsAndUser returns the user's ACTIVE reservations over
// the given seats, ordered by seat id. Workers use it to recognize a
// reserve that committed before a crash cut off the status write.
func (r *ReservationRepo) ListActiveBySeatsAndUser(ctx context.Context, seatIDs []uint64, userID string) ([]model.Reservation, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat(",?", len(seatIDs))[1:]
	q := `SELECT ` + reservationColumns + ` FROM reservations
	      WHERE seat_id IN (` + placeholders + `) AND user_id = ? AND status = 'ACTIVE'
	      ORDER BY seat_id`
	args := make([]interface{}, 0, len(seatIDs)+1)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	args = append(args, userID)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Reservation, 0, len(seatIDs))
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
