package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/YeonwooSung/ticketing-system/internal/model"
)

// EventRepo provides data access to the events table.  The
// available_seats column is authoritative and only ever adjusted inside
// the same transaction that moves seats between statuses.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns an EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the underlying handle so services can open transactions.
func (r *EventRepo) DB() *sql.DB { return r.db }

const eventColumns = `event_id, event_name, venue_name, event_date, total_seats,
                      available_seats, status, sale_start_time, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var venue sql.NullString
	var saleStart sql.NullTime
	err := row.Scan(&e.ID, &e.Name, &venue, &e.EventDate, &e.TotalSeats,
		&e.AvailableSeats, &e.Status, &saleStart, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if venue.Valid {
		v := venue.String
		e.VenueName = &v
	}
	if saleStart.Valid {
		t := saleStart.Time.UTC()
		e.SaleStartTime = &t
	}
	return &e, nil
}

// Create inserts a new event. Capacity seeds available_seats; the
// generated ID is populated on the provided model.
func (r *EventRepo) Create(ctx context.Context, e *model.Event) error {
	const q = `INSERT INTO events (event_name, venue_name, event_date, total_seats,
	                               available_seats, status, sale_start_time)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, e.Name, e.VenueName, e.EventDate.UTC(),
		e.TotalSeats, e.AvailableSeats, e.Status, e.SaleStartTime)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// GetByID retrieves an event by its id.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE event_id = ?`
	e, err := scanEvent(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return e, nil
}

// List retrieves all events ordered by date.
func (r *EventRepo) List(ctx context.Context) ([]model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events ORDER BY event_date`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// ListOnSaleIDs returns the ids of all events currently accepting
// reservations. Queue workers use this to decide which streams to drain.
func (r *EventRepo) ListOnSaleIDs(ctx context.Context) ([]uint64, error) {
	const q = `SELECT event_id FROM events WHERE status = 'ON_SALE'`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Update rewrites the mutable descriptive fields of an event.
func (r *EventRepo) Update(ctx context.Context, e *model.Event) error {
	const q = `UPDATE events
	           SET event_name = ?, venue_name = ?, event_date = ?, sale_start_time = ?, status = ?
	           WHERE event_id = ?`
	res, err := r.db.ExecContext(ctx, q, e.Name, e.VenueName, e.EventDate.UTC(),
		e.SaleStartTime, e.Status, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// StartSale flips an UPCOMING event to ON_SALE. It returns ErrConflict
// when the event is in any other state.
func (r *EventRepo) StartSale(ctx context.Context, id uint64) error {
	const q = `UPDATE events SET status = 'ON_SALE' WHERE event_id = ? AND status = 'UPCOMING'`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// GetForUpdateTx loads an event under a row-level exclusive lock so the
// available_seats counter can be adjusted safely.
func (r *EventRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE event_id = ? FOR UPDATE`
	e, err := scanEvent(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return e, nil
}

// SetAvailabilityTx writes the recomputed seat counter and sale status
// within the caller's transaction.
func (r *EventRepo) SetAvailabilityTx(ctx context.Context, tx *sql.Tx, id uint64, available int, status model.EventStatus) error {
	const q = `UPDATE events SET available_seats = ?, status = ? WHERE event_id = ?`
	_, err := tx.ExecContext(ctx, q, available, status, id)
	return err
}

// AddSeatCapacity raises total_seats and available_seats after seats
// were appended to an event.
func (r *EventRepo) AddSeatCapacity(ctx context.Context, tx *sql.Tx, id uint64, n int) error {
	const q = `UPDATE events
	           SET total_seats = total_seats + ?, available_seats = available_seats + ?
	           WHERE event_id = ?`
	_, err := tx.ExecContext(ctx, q, n, n, id)
	return err
}
