package model

import "time"

// ReservationResult is the outcome payload of a successful reserve
// operation, returned inline on Path A and stored in the request-status
// record on Path B.
type ReservationResult struct {
	ReservationIDs   []uint64  `json:"reservation_ids"`
	SeatIDs          []uint64  `json:"seat_ids"`
	TotalAmountCents int64     `json:"total_amount_cents"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ErrorInfo is the typed error descriptor attached to failed or
// cancelled queued requests.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
