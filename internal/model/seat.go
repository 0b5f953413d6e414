package model

import "time"

// SeatStatus enumerates the reservation state of a seat.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatReserved  SeatStatus = "RESERVED"
	SeatBooked    SeatStatus = "BOOKED"
	SeatBlocked   SeatStatus = "BLOCKED"
)

// SeatType indicates the seat's class.
type SeatType string

const (
	SeatRegular SeatType = "REGULAR"
	SeatVIP     SeatType = "VIP"
	SeatPremium SeatType = "PREMIUM"
)

// Seat represents a sellable seat of an event.  The tuple
// (ReservedBy, ReservedUntil, BookingID) must stay consistent with
// Status: ReservedBy is non-nil iff RESERVED or BOOKED, ReservedUntil
// is non-nil iff RESERVED, BookingID is non-nil iff BOOKED.  Version
// increases monotonically on every state transition and backs the
// optimistic WHERE version = ? predicate of the reservation engine.
type Seat struct {
	ID            uint64     `json:"seat_id"`
	EventID       uint64     `json:"event_id"`
	SeatNumber    string     `json:"seat_number"`
	Section       *string    `json:"section,omitempty"`
	RowNumber     *string    `json:"row_number,omitempty"`
	SeatType      SeatType   `json:"seat_type"`
	PriceCents    int64      `json:"price_cents"`
	Status        SeatStatus `json:"status"`
	Version       int64      `json:"version"`
	ReservedBy    *string    `json:"reserved_by,omitempty"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty"`
	BookingID     *uint64    `json:"booking_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// HoldExpired reports whether the seat's hold has lapsed at the given
// instant.  A seat with no hold never reports expired.
func (s *Seat) HoldExpired(now time.Time) bool {
	return s.ReservedUntil != nil && !s.ReservedUntil.After(now)
}
