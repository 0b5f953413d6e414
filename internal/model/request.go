package model

import (
	"fmt"
	"time"
)

// Priority selects which stream of an event's queue a request is
// appended to.  Higher priorities are drained first within each
// scheduling round but never starve lower ones.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists all priorities from most to least urgent.  Dispatch
// order relies on this ordering.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority validates a client-supplied priority string.  An empty
// value defaults to normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	case "":
		return PriorityNormal, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// RequestState enumerates the lifecycle of a queued request.  A request
// observed in a terminal state never transitions again.
type RequestState string

const (
	RequestPending    RequestState = "pending"
	RequestProcessing RequestState = "processing"
	RequestCompleted  RequestState = "completed"
	RequestFailed     RequestState = "failed"
	RequestCancelled  RequestState = "cancelled"
	RequestExpired    RequestState = "expired"
)

// Terminal reports whether the state permits no further transitions.
func (s RequestState) Terminal() bool {
	switch s {
	case RequestCompleted, RequestFailed, RequestCancelled, RequestExpired:
		return true
	}
	return false
}

// QueuedRequest is a reservation intent admitted into an event's
// priority stream.  ID is a ULID: lexicographic order equals enqueue
// time order.
type QueuedRequest struct {
	ID         string    `json:"request_id"`
	EventID    uint64    `json:"event_id"`
	SeatIDs    []uint64  `json:"seat_ids"`
	UserID     string    `json:"user_id"`
	Priority   Priority  `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
