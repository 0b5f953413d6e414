package engine

import (
	"errors"
	"fmt"

	"github.com/YeonwooSung/ticketing-system/internal/lock"
	"github.com/YeonwooSung/ticketing-system/internal/model"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
)

// Domain errors produced by the engine.  Infrastructure errors (driver,
// lock store transport) bubble up unchanged; callers that need the
// distinction use IsDomain.
var (
	// ErrEventNotOnSale rejects reservations against events outside
	// the ON_SALE state.
	ErrEventNotOnSale = errors.New("event is not on sale")

	// ErrAlreadyExpired rejects operations on a reservation whose hold
	// has lapsed.
	ErrAlreadyExpired = errors.New("reservation already expired")

	// ErrReservationNotActive rejects transitions of reservations in a
	// terminal state.
	ErrReservationNotActive = errors.New("reservation is not active")

	// ErrBookingNotPending rejects payment transitions of bookings
	// outside the PENDING state.
	ErrBookingNotPending = errors.New("booking is not pending")

	// ErrOptimisticConflict reports that a seat's version moved under
	// us between read and write. The lock should make this impossible;
	// it defends against a lock TTL expiring mid-transaction.
	ErrOptimisticConflict = errors.New("optimistic version conflict")

	// ErrNoSeats and ErrTooManySeats bound request cardinality.
	ErrNoSeats      = errors.New("no seats requested")
	ErrTooManySeats = errors.New("too many seats requested")
)

// SeatUnavailableError identifies the first requested seat that was not
// available; the whole request fails without state changes.
type SeatUnavailableError struct {
	SeatID uint64
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("seat %d is not available", e.SeatID)
}

// IsDomain reports whether err is a domain outcome rather than an
// infrastructure failure. Domain outcomes are terminal for a queued
// request; infrastructure failures are retried through redelivery.
func IsDomain(err error) bool {
	var su *SeatUnavailableError
	switch {
	case errors.As(err, &su),
		errors.Is(err, ErrEventNotOnSale),
		errors.Is(err, ErrAlreadyExpired),
		errors.Is(err, ErrReservationNotActive),
		errors.Is(err, ErrBookingNotPending),
		errors.Is(err, ErrNoSeats),
		errors.Is(err, ErrTooManySeats),
		errors.Is(err, repository.ErrEventNotFound),
		errors.Is(err, repository.ErrSeatNotFound),
		errors.Is(err, repository.ErrReservationNotFound),
		errors.Is(err, repository.ErrBookingNotFound),
		errors.Is(err, repository.ErrForbidden),
		errors.Is(err, repository.ErrConflict):
		return true
	}
	return false
}

// ErrorDescriptor maps err to the typed descriptor stored on failed
// queued requests.
func ErrorDescriptor(err error) model.ErrorInfo {
	var su *SeatUnavailableError
	switch {
	case errors.As(err, &su):
		return model.ErrorInfo{Kind: "SeatUnavailable", Message: su.Error()}
	case errors.Is(err, ErrEventNotOnSale):
		return model.ErrorInfo{Kind: "EventNotOnSale", Message: err.Error()}
	case errors.Is(err, ErrAlreadyExpired):
		return model.ErrorInfo{Kind: "AlreadyExpired", Message: err.Error()}
	case errors.Is(err, ErrOptimisticConflict):
		return model.ErrorInfo{Kind: "OptimisticConflict", Message: err.Error()}
	case errors.Is(err, ErrNoSeats), errors.Is(err, ErrTooManySeats):
		return model.ErrorInfo{Kind: "Validation", Message: err.Error()}
	case errors.Is(err, repository.ErrEventNotFound),
		errors.Is(err, repository.ErrSeatNotFound),
		errors.Is(err, repository.ErrReservationNotFound):
		return model.ErrorInfo{Kind: "NotFound", Message: err.Error()}
	case errors.Is(err, lock.ErrTimeout):
		return model.ErrorInfo{Kind: "Unavailable", Message: err.Error()}
	}
	return model.ErrorInfo{Kind: "Internal", Message: err.Error()}
}
