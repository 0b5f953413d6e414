// Package metrics registers the Prometheus instruments exposed at
// GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReservationRequests counts reserve attempts by admission path
	// ("sync" or "queue") and outcome ("ok", "domain_error", "error").
	ReservationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_requests_total",
		Help: "Total number of seat reservation attempts",
	}, []string{"path", "result"})

	// QueueProcessed counts queued requests by terminal outcome.
	QueueProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_requests_processed_total",
		Help: "Total number of queued requests processed by workers",
	}, []string{"result"})

	// QueueDeadLettered counts messages moved to the dead-letter stream.
	QueueDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_requests_dead_lettered_total",
		Help: "Total number of queued requests that exceeded the delivery budget",
	})

	// ReservationsExpired counts holds released by the sweeper.
	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_expired_total",
		Help: "Total number of reservations expired by the sweeper",
	})
)
