package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/YeonwooSung/ticketing-system/internal/lock"
	"github.com/YeonwooSung/ticketing-system/internal/model"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
)

// Finalizer converts held reservations into bookings and drives the
// payment transitions.  Seat transitions run under the same multi-key
// lock discipline as the reservation engine.
type Finalizer struct {
	db           *sql.DB
	locks        *lock.Manager
	events       *repository.EventRepo
	seats        *repository.SeatRepo
	reservations *repository.ReservationRepo
	bookings     *repository.BookingRepo
}

// NewFinalizer constructs a Finalizer.
func NewFinalizer(db *sql.DB, locks *lock.Manager, events *repository.EventRepo,
	seats *repository.SeatRepo, reservations *repository.ReservationRepo,
	bookings *repository.BookingRepo) *Finalizer {
	return &Finalizer{
		db:           db,
		locks:        locks,
		events:       events,
		seats:        seats,
		reservations: reservations,
		bookings:     bookings,
	}
}

// newBookingReference generates a unique, lexicographically sortable
// booking reference.
func newBookingReference() string {
	return "BK-" + ulid.Make().String()
}

// CreateBooking turns a set of ACTIVE reservations held by user into a
// PENDING booking. Every seat moves RESERVED→BOOKED and every
// reservation to CONFIRMED, or nothing changes.
func (f *Finalizer) CreateBooking(ctx context.Context, reservationIDs []uint64, user string) (*model.Booking, []model.BookingSeat, error) {
	ids := normalizeIDs(reservationIDs)
	if len(ids) == 0 {
		return nil, nil, ErrNoSeats
	}

	// First pass without locks to learn which seats to lock; every
	// check is repeated under the transaction below.
	seatIDs := make([]uint64, 0, len(ids))
	var eventID uint64
	for _, rid := range ids {
		res, err := f.reservations.GetByID(ctx, rid)
		if err != nil {
			return nil, nil, err
		}
		if res.UserID != user {
			return nil, nil, repository.ErrForbidden
		}
		if eventID == 0 {
			eventID = res.EventID
		} else if res.EventID != eventID {
			return nil, nil, fmt.Errorf("reservations span multiple events: %w", repository.ErrConflict)
		}
		seatIDs = append(seatIDs, res.SeatID)
	}

	ml, err := f.locks.AcquireAll(ctx, seatLockNames(seatIDs))
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := ml.Release(ctx); err != nil {
			log.Printf("finalizer: releasing seat locks: %v", err)
		}
	}()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	reservations, err := f.reservations.GetByIDsForUpdateTx(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}
	if len(reservations) != len(ids) {
		return nil, nil, repository.ErrReservationNotFound
	}
	now := time.Now().UTC()
	for i := range reservations {
		res := &reservations[i]
		if res.UserID != user {
			return nil, nil, repository.ErrForbidden
		}
		if res.Status != model.ReservationActive {
			return nil, nil, ErrReservationNotActive
		}
		if res.Expired(now) {
			return nil, nil, ErrAlreadyExpired
		}
	}

	seats, err := f.seats.GetByIDsForUpdateTx(ctx, tx, seatIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(seats) != len(seatIDs) {
		return nil, nil, repository.ErrSeatNotFound
	}
	var total int64
	for i := range seats {
		s := &seats[i]
		if s.Status != model.SeatReserved || s.ReservedBy == nil || *s.ReservedBy != user {
			return nil, nil, &SeatUnavailableError{SeatID: s.ID}
		}
		total += s.PriceCents
	}

	booking := &model.Booking{
		EventID:          eventID,
		UserID:           user,
		TotalAmountCents: total,
		Status:           model.BookingPending,
		PaymentStatus:    model.PaymentPending,
		Reference:        newBookingReference(),
	}
	if err := f.bookings.CreateTx(ctx, tx, booking); err != nil {
		return nil, nil, err
	}

	lines := make([]model.BookingSeat, 0, len(seats))
	for i := range seats {
		s := &seats[i]
		ok, err := f.seats.BookTx(ctx, tx, s.ID, booking.ID, s.Version)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("seat %d: %w", s.ID, ErrOptimisticConflict)
		}
		lines = append(lines, model.BookingSeat{
			BookingID:  booking.ID,
			SeatID:     s.ID,
			PriceCents: s.PriceCents,
		})
	}
	if err := f.bookings.CreateSeatsBulkTx(ctx, tx, lines); err != nil {
		return nil, nil, err
	}
	if err := f.reservations.UpdateStatusBulkTx(ctx, tx, ids, model.ReservationConfirmed); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	committed = true
	return booking, lines, nil
}

// ConfirmPayment marks a PENDING booking paid and CONFIRMED.  Repeating
// the call with the same payment id after success is a no-op.
func (f *Finalizer) ConfirmPayment(ctx context.Context, bookingID uint64, paymentID string) (*model.Booking, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	b, err := f.bookings.GetForUpdateTx(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == model.BookingConfirmed && b.PaymentID != nil && *b.PaymentID == paymentID {
		// Idempotent retry of an already-confirmed payment.
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		committed = true
		return b, nil
	}
	if b.Status != model.BookingPending {
		return nil, ErrBookingNotPending
	}
	if err := f.bookings.UpdatePaymentTx(ctx, tx, b.ID, &paymentID, model.PaymentSuccess, model.BookingConfirmed); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return f.bookings.GetByID(ctx, bookingID)
}

// FailPayment marks a PENDING booking FAILED and releases its seats
// back to the available pool.
func (f *Finalizer) FailPayment(ctx context.Context, bookingID uint64, paymentID *string) (*model.Booking, error) {
	b, err := f.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BookingPending {
		return nil, ErrBookingNotPending
	}
	if err := f.releaseBookingSeats(ctx, b, paymentID, model.PaymentFailed, model.BookingFailed); err != nil {
		return nil, err
	}
	return f.bookings.GetByID(ctx, bookingID)
}

// CancelBooking cancels a booking owned by user.  A PENDING booking
// returns its seats to AVAILABLE; a CONFIRMED booking keeps its seats
// BOOKED so the audit trail survives, and the two cases are
// distinguished by the booking status alone.
func (f *Finalizer) CancelBooking(ctx context.Context, bookingID uint64, user string) (*model.Booking, error) {
	b, err := f.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != user {
		return nil, repository.ErrForbidden
	}
	switch b.Status {
	case model.BookingPending:
		if err := f.releaseBookingSeats(ctx, b, nil, b.PaymentStatus, model.BookingCancelled); err != nil {
			return nil, err
		}
	case model.BookingConfirmed:
		tx, err := f.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()
		if err := f.bookings.UpdateStatusTx(ctx, tx, b.ID, model.BookingCancelled); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		committed = true
	default:
		return nil, fmt.Errorf("booking already %s: %w", b.Status, repository.ErrConflict)
	}
	return f.bookings.GetByID(ctx, bookingID)
}

// releaseBookingSeats reverts every BOOKED seat of a booking to
// AVAILABLE under the multi-key lock and writes the terminal booking
// state in the same transaction.
func (f *Finalizer) releaseBookingSeats(ctx context.Context, b *model.Booking, paymentID *string, pay model.PaymentStatus, status model.BookingStatus) error {
	held, err := f.seats.GetByBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	seatIDs := make([]uint64, 0, len(held))
	for i := range held {
		seatIDs = append(seatIDs, held[i].ID)
	}

	ml, err := f.locks.AcquireAll(ctx, seatLockNames(seatIDs))
	if err != nil {
		return err
	}
	defer func() {
		if err := ml.Release(ctx); err != nil {
			log.Printf("finalizer: releasing seat locks: %v", err)
		}
	}()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	current, err := f.bookings.GetForUpdateTx(ctx, tx, b.ID)
	if err != nil {
		return err
	}
	if current.Status != model.BookingPending {
		return ErrBookingNotPending
	}

	seats, err := f.seats.GetByIDsForUpdateTx(ctx, tx, seatIDs)
	if err != nil {
		return err
	}
	released := 0
	for i := range seats {
		s := &seats[i]
		if s.Status != model.SeatBooked || s.BookingID == nil || *s.BookingID != b.ID {
			continue
		}
		ok, err := f.seats.ReleaseTx(ctx, tx, s.ID, s.Version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("seat %d: %w", s.ID, ErrOptimisticConflict)
		}
		released++
	}
	if released > 0 {
		event, err := f.events.GetForUpdateTx(ctx, tx, b.EventID)
		if err != nil {
			return err
		}
		if err := adjustAvailability(ctx, tx, f.events, event, released); err != nil {
			return err
		}
	}
	if err := f.bookings.UpdatePaymentTx(ctx, tx, b.ID, paymentID, pay, status); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetBooking returns a booking with its seat lines, visible to its owner.
func (f *Finalizer) GetBooking(ctx context.Context, bookingID uint64, user string) (*model.Booking, []model.BookingSeat, error) {
	b, err := f.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if b.UserID != user {
		return nil, nil, repository.ErrForbidden
	}
	lines, err := f.bookings.GetSeats(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	return b, lines, nil
}

// GetBookingByReference returns a booking addressed by reference.
func (f *Finalizer) GetBookingByReference(ctx context.Context, ref, user string) (*model.Booking, []model.BookingSeat, error) {
	b, err := f.bookings.GetByReference(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	if b.UserID != user {
		return nil, nil, repository.ErrForbidden
	}
	lines, err := f.bookings.GetSeats(ctx, b.ID)
	if err != nil {
		return nil, nil, err
	}
	return b, lines, nil
}

// ListBookings returns the caller's bookings.
func (f *Finalizer) ListBookings(ctx context.Context, user string) ([]model.Booking, error) {
	return f.bookings.ListByUser(ctx, user)
}
