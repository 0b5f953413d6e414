package model

import "time"

// BookingStatus enumerates the purchase lifecycle of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingFailed    BookingStatus = "FAILED"
)

// PaymentStatus enumerates the opaque payment state of a booking.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Booking groups the seats a user has committed to purchasing.  The
// declared seats (BookingSeat lines) must equal the set of seats whose
// booking_id points at this booking.  Reference is a globally unique,
// human-shareable identifier.
type Booking struct {
	ID               uint64        `json:"booking_id"`
	EventID          uint64        `json:"event_id"`
	UserID           string        `json:"user_id"`
	TotalAmountCents int64         `json:"total_amount_cents"`
	Status           BookingStatus `json:"status"`
	PaymentID        *string       `json:"payment_id,omitempty"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	Reference        string        `json:"booking_reference"`
	CreatedAt        time.Time     `json:"created_at"`
	ConfirmedAt      *time.Time    `json:"confirmed_at,omitempty"`
}

// BookingSeat is one line of a booking: a single seat and the price it
// was sold at.
type BookingSeat struct {
	ID         uint64 `json:"booking_seat_id"`
	BookingID  uint64 `json:"booking_id"`
	SeatID     uint64 `json:"seat_id"`
	PriceCents int64  `json:"price_cents"`
}
