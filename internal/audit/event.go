// Package audit publishes and records booking lifecycle events over the
// message broker.  The trail is advisory: failures are logged and never
// interrupt the request flow.
package audit

// BookingConfirmedEvent is published when a booking's payment is
// confirmed. It carries enough information for downstream consumers to
// log or trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
	BookingID        uint64 `json:"booking_id"`
	Reference        string `json:"booking_reference"`
	EventID          uint64 `json:"event_id"`
	UserID           string `json:"user_id"`
	TotalAmountCents int64  `json:"total_amount_cents"`
	ConfirmedAt      string `json:"confirmed_at"`
}
