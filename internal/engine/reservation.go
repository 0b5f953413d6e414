// Package engine implements the transactional seat state machine.  It
// is the single entry point both execution paths use: Path A handlers
// call it inline, Path B workers call it when draining the queue.  All
// multi-seat operations are all-or-nothing; partial state never
// survives a failure because every exit path rolls the transaction
// back.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/YeonwooSung/ticketing-system/internal/lock"
	"github.com/YeonwooSung/ticketing-system/internal/model"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
)

// Engine mediates every seat transition.  Serialization is layered: a
// multi-key distributed lock keeps contenders on different instances
// apart, SELECT ... FOR UPDATE serializes within the database, and the
// seat version predicate catches the residual case of a lock TTL
// expiring mid-transaction.
type Engine struct {
	db           *sql.DB
	locks        *lock.Manager
	events       *repository.EventRepo
	seats        *repository.SeatRepo
	reservations *repository.ReservationRepo
	holdTTL      time.Duration
	maxSeats     int
}

// New constructs an Engine. holdTTL is the reservation lifetime and
// maxSeats the per-request cardinality cap.
func New(db *sql.DB, locks *lock.Manager, events *repository.EventRepo,
	seats *repository.SeatRepo, reservations *repository.ReservationRepo,
	holdTTL time.Duration, maxSeats int) *Engine {
	return &Engine{
		db:           db,
		locks:        locks,
		events:       events,
		seats:        seats,
		reservations: reservations,
		holdTTL:      holdTTL,
		maxSeats:     maxSeats,
	}
}

// seatLockNames derives lock names for a set of seat ids, in input order.
func seatLockNames(seatIDs []uint64) []string {
	names := make([]string, 0, len(seatIDs))
	for _, id := range seatIDs {
		names = append(names, fmt.Sprintf("seat:%d", id))
	}
	return names
}

// normalizeIDs deduplicates and sorts the requested ids ascending.
func normalizeIDs(seatIDs []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(seatIDs))
	out := make([]uint64, 0, len(seatIDs))
	for _, id := range seatIDs {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reserve atomically transitions every requested seat to RESERVED by
// user and creates one ACTIVE reservation per seat, or changes nothing.
func (e *Engine) Reserve(ctx context.Context, eventID uint64, seatIDs []uint64, user string) (*model.ReservationResult, error) {
	ids := normalizeIDs(seatIDs)
	if len(ids) == 0 {
		return nil, ErrNoSeats
	}
	if len(ids) > e.maxSeats {
		return nil, fmt.Errorf("%w: %d exceeds limit of %d", ErrTooManySeats, len(ids), e.maxSeats)
	}

	ml, err := e.locks.AcquireAll(ctx, seatLockNames(ids))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ml.Release(ctx); err != nil {
			log.Printf("engine: releasing seat locks: %v", err)
		}
	}()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	event, err := e.events.GetForUpdateTx(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != model.EventOnSale {
		return nil, ErrEventNotOnSale
	}

	seats, err := e.seats.GetByIDsForUpdateTx(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	if len(seats) != len(ids) {
		return nil, repository.ErrSeatNotFound
	}

	now := time.Now().UTC()
	for i := range seats {
		s := &seats[i]
		if s.EventID != eventID {
			return nil, fmt.Errorf("seat %d: %w", s.ID, repository.ErrSeatNotFound)
		}
		if s.Status != model.SeatAvailable || (s.ReservedUntil != nil && !s.HoldExpired(now)) {
			return nil, &SeatUnavailableError{SeatID: s.ID}
		}
	}

	expiresAt := now.Add(e.holdTTL)
	result := &model.ReservationResult{
		SeatIDs:   ids,
		ExpiresAt: expiresAt,
	}
	for i := range seats {
		s := &seats[i]
		ok, err := e.seats.ReserveTx(ctx, tx, s.ID, user, expiresAt, s.Version)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("seat %d: %w", s.ID, ErrOptimisticConflict)
		}
		res := &model.Reservation{
			SeatID:    s.ID,
			EventID:   eventID,
			UserID:    user,
			ExpiresAt: expiresAt,
			Status:    model.ReservationActive,
		}
		if err := e.reservations.CreateTx(ctx, tx, res); err != nil {
			return nil, err
		}
		result.ReservationIDs = append(result.ReservationIDs, res.ID)
		result.TotalAmountCents += s.PriceCents
	}

	if err := adjustAvailability(ctx, tx, e.events, event, -len(ids)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return result, nil
}

// Cancel releases an ACTIVE reservation owned by user.  The seat
// returns to AVAILABLE only while it is still reserved by that user;
// a seat already promoted to BOOKED is left untouched.
func (e *Engine) Cancel(ctx context.Context, reservationID uint64, user string) error {
	res, err := e.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.UserID != user {
		return repository.ErrForbidden
	}
	if res.Status != model.ReservationActive {
		return ErrReservationNotActive
	}

	l, err := e.locks.Acquire(ctx, fmt.Sprintf("seat:%d", res.SeatID))
	if err != nil {
		return err
	}
	defer func() {
		if _, err := l.Release(ctx); err != nil {
			log.Printf("engine: releasing %s: %v", l.Key(), err)
		}
	}()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	seats, err := e.seats.GetByIDsForUpdateTx(ctx, tx, []uint64{res.SeatID})
	if err != nil {
		return err
	}
	if len(seats) == 1 {
		s := &seats[0]
		if s.Status == model.SeatReserved && s.ReservedBy != nil && *s.ReservedBy == user {
			ok, err := e.seats.ReleaseTx(ctx, tx, s.ID, s.Version)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("seat %d: %w", s.ID, ErrOptimisticConflict)
			}
			event, err := e.events.GetForUpdateTx(ctx, tx, res.EventID)
			if err != nil {
				return err
			}
			if err := adjustAvailability(ctx, tx, e.events, event, 1); err != nil {
				return err
			}
		}
	}
	if err := e.reservations.UpdateStatusTx(ctx, tx, res.ID, model.ReservationCancelled); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Extend pushes an ACTIVE, unexpired reservation's hold forward by one
// full reservation lifetime and returns the new expiry.
func (e *Engine) Extend(ctx context.Context, reservationID uint64, user string) (time.Time, error) {
	res, err := e.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return time.Time{}, err
	}
	if res.UserID != user {
		return time.Time{}, repository.ErrForbidden
	}
	if res.Status != model.ReservationActive {
		return time.Time{}, ErrReservationNotActive
	}

	l, err := e.locks.Acquire(ctx, fmt.Sprintf("seat:%d", res.SeatID))
	if err != nil {
		return time.Time{}, err
	}
	defer func() {
		if _, err := l.Release(ctx); err != nil {
			log.Printf("engine: releasing %s: %v", l.Key(), err)
		}
	}()

	now := time.Now().UTC()
	if res.Expired(now) {
		return time.Time{}, ErrAlreadyExpired
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	newExpiry := now.Add(e.holdTTL)
	if err := e.seats.ExtendHoldTx(ctx, tx, res.SeatID, newExpiry); err != nil {
		return time.Time{}, err
	}
	if err := e.reservations.UpdateExpiryTx(ctx, tx, res.ID, newExpiry); err != nil {
		return time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, err
	}
	committed = true
	return newExpiry, nil
}

// GetReservation returns a reservation visible to its holder.
func (e *Engine) GetReservation(ctx context.Context, reservationID uint64, user string) (*model.Reservation, error) {
	res, err := e.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.UserID != user {
		return nil, repository.ErrForbidden
	}
	return res, nil
}

// ListActiveReservations returns the caller's active holds.
func (e *Engine) ListActiveReservations(ctx context.Context, user string) ([]model.Reservation, error) {
	return e.reservations.ListActiveByUser(ctx, user)
}

// adjustAvailability applies delta to an event's AVAILABLE counter,
// flipping ON_SALE↔SOLD_OUT at the zero boundary.  The event row must
// already be locked by the caller's transaction.
func adjustAvailability(ctx context.Context, tx *sql.Tx, events *repository.EventRepo, event *model.Event, delta int) error {
	avail := event.AvailableSeats + delta
	if avail < 0 {
		avail = 0
	}
	status := event.Status
	switch {
	case avail == 0 && status == model.EventOnSale:
		status = model.EventSoldOut
	case avail > 0 && status == model.EventSoldOut:
		status = model.EventOnSale
	}
	event.AvailableSeats = avail
	event.Status = status
	return events.SetAvailabilityTx(ctx, tx, event.ID, avail, status)
}

// Recover reports whether every requested seat is already held by an
// ACTIVE reservation of user, rebuilding the reserve result when so.
// Queue workers call this on redelivered messages: a reserve that
// committed right before a crash must not be retried or failed.
func (e *Engine) Recover(ctx context.Context, seatIDs []uint64, user string) (*model.ReservationResult, bool, error) {
	ids := normalizeIDs(seatIDs)
	held, err := e.reservations.ListActiveBySeatsAndUser(ctx, ids, user)
	if err != nil {
		return nil, false, err
	}
	if len(held) != len(ids) {
		return nil, false, nil
	}
	result := &model.ReservationResult{SeatIDs: ids}
	for i := range held {
		result.ReservationIDs = append(result.ReservationIDs, held[i].ID)
		if held[i].ExpiresAt.After(result.ExpiresAt) {
			result.ExpiresAt = held[i].ExpiresAt
		}
	}
	for _, id := range ids {
		s, err := e.seats.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		result.TotalAmountCents += s.PriceCents
	}
	return result, true, nil
}
