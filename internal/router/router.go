package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YeonwooSung/ticketing-system/internal/handler"
	"github.com/YeonwooSung/ticketing-system/internal/middleware"
)

// Handlers bundles every handler the API serves.
type Handlers struct {
	Events       *handler.EventHandler
	Reservations *handler.ReservationHandler
	Bookings     *handler.BookingHandler
	Queue        *handler.QueueHandler
	WS           *handler.WSHandler
}

// Register wires all routes. Every endpoint except health, metrics and
// the WebSocket upgrades requires the X-User-ID identity header; the
// sockets carry their identity in the path because browsers cannot set
// headers on an upgrade request.
func Register(e *echo.Echo, h Handlers, rateLimit echo.MiddlewareFunc) {
	// Operational endpoints, outside identity and rate limiting.
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("", middleware.RequireUser(), rateLimit)

	// Event catalog and seat inventory.
	api.POST("/events", h.Events.CreateEvent)
	api.GET("/events", h.Events.ListEvents)
	api.GET("/events/:id", h.Events.GetEvent)
	api.PATCH("/events/:id", h.Events.UpdateEvent)
	api.POST("/events/:id/start-sale", h.Events.StartSale)
	api.POST("/events/:id/seats", h.Events.CreateSeats)
	api.GET("/events/:id/seats", h.Events.ListSeats)
	api.GET("/events/:id/seats/available", h.Events.ListAvailableSeats)

	// Path A: synchronous, lock-mediated reservations.
	api.POST("/reservations", h.Reservations.CreateReservation)
	api.GET("/reservations", h.Reservations.ListReservations)
	api.GET("/reservations/:id", h.Reservations.GetReservation)
	api.POST("/reservations/:id/extend", h.Reservations.ExtendReservation)
	api.DELETE("/reservations/:id", h.Reservations.CancelReservation)

	// Booking finalization and payment transitions.
	api.POST("/bookings", h.Bookings.CreateBooking)
	api.GET("/bookings", h.Bookings.ListBookings)
	api.GET("/bookings/:id", h.Bookings.GetBooking)
	api.GET("/bookings/reference/:ref", h.Bookings.GetBookingByReference)
	api.POST("/bookings/:id/confirm-payment", h.Bookings.ConfirmPayment)
	api.POST("/bookings/:id/fail-payment", h.Bookings.FailPayment)
	api.POST("/bookings/:id/cancel", h.Bookings.CancelBooking)

	// Path B: queue-mediated reservations.
	v2 := e.Group("/v2", middleware.RequireUser(), rateLimit)
	v2.POST("/reservations", h.Queue.Submit)
	v2.GET("/reservations/:request_id", h.Queue.GetStatus)
	v2.DELETE("/reservations/:request_id", h.Queue.Cancel)
	v2.GET("/queue/stats/:event_id", h.Queue.Stats)
	v2.GET("/queue/health", h.Queue.Health)

	// Live notification sockets.
	e.GET("/v2/ws/reservation/:request_id", h.WS.ReservationSocket)
	e.GET("/v2/ws/user/:user_id", h.WS.UserSocket)
}
