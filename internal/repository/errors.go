// Package repository defines data access for the ticketing tables.
// Sentinel errors shared across repositories let higher layers such as
// handlers distinguish failure scenarios: ErrForbidden indicates that
// the caller does not own the target resource, while ErrConflict
// signals that an operation cannot proceed due to the current state of
// dependent records.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own. Handlers translate this into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because
// of conflicting state. Handlers translate this into HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrEventNotFound is returned when an event lookup yields no rows.
var ErrEventNotFound = errors.New("event not found")

// ErrSeatNotFound is returned when a seat lookup yields no rows.
var ErrSeatNotFound = errors.New("seat not found")

// ErrReservationNotFound is returned when a reservation lookup yields no rows.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrBookingNotFound is returned when a booking lookup yields no rows.
var ErrBookingNotFound = errors.New("booking not found")
