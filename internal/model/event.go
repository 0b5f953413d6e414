package model

import "time"

// EventStatus enumerates the sale lifecycle of an event.  Only events
// in StatusOnSale accept reservations.
type EventStatus string

const (
	EventUpcoming  EventStatus = "UPCOMING"
	EventOnSale    EventStatus = "ON_SALE"
	EventSoldOut   EventStatus = "SOLD_OUT"
	EventCancelled EventStatus = "CANCELLED"
)

// Event represents a ticketed event.  AvailableSeats is maintained
// transactionally alongside seat state transitions: it must equal the
// count of the event's seats in status AVAILABLE at every commit.
//
// Fields:
//  ID             – primary key identifier.
//  Name           – display name of the event.
//  VenueName      – optional venue description.
//  EventDate      – when the event takes place.
//  TotalSeats     – capacity at creation time.
//  AvailableSeats – seats currently in AVAILABLE status.
//  Status         – sale lifecycle state.
//  SaleStartTime  – earliest instant the sale may be opened.
//  CreatedAt      – creation timestamp.
type Event struct {
	ID             uint64      `json:"event_id"`
	Name           string      `json:"event_name"`
	VenueName      *string     `json:"venue_name,omitempty"`
	EventDate      time.Time   `json:"event_date"`
	TotalSeats     int         `json:"total_seats"`
	AvailableSeats int         `json:"available_seats"`
	Status         EventStatus `json:"status"`
	SaleStartTime  *time.Time  `json:"sale_start_time,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
