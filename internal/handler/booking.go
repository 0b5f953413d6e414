package handler

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/YeonwooSung/ticketing-system/internal/audit"
	"github.com/YeonwooSung/ticketing-system/internal/engine"
	"github.com/YeonwooSung/ticketing-system/internal/middleware"
)

// BookingHandler serves booking finalization and the payment-driven
// transitions.
type BookingHandler struct {
	Finalizer *engine.Finalizer
	Audit     *audit.Publisher
}

// NewBookingHandler constructs a BookingHandler. audit may be nil when
// no broker is configured.
func NewBookingHandler(finalizer *engine.Finalizer, auditPub *audit.Publisher) *BookingHandler {
	return &BookingHandler{Finalizer: finalizer, Audit: auditPub}
}

// CreateBooking handles POST /bookings, converting held reservations
// into a pending booking.
func (h *BookingHandler) CreateBooking(c echo.Context) error {
	user := middleware.UserID(c)
	var body struct {
		ReservationIDs []uint64 `json:"reservation_ids"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.ReservationIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reservation_ids is required"})
	}
	booking, seats, err := h.Finalizer.CreateBooking(c.Request().Context(), body.ReservationIDs, user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"booking": booking, "seats": seats})
}

// ListBookings handles GET /bookings.
func (h *BookingHandler) ListBookings(c echo.Context) error {
	user := middleware.UserID(c)
	items, err := h.Finalizer.ListBookings(c.Request().Context(), user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetBooking handles GET /bookings/:id.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	user := middleware.UserID(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	booking, seats, err := h.Finalizer.GetBooking(c.Request().Context(), id, user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": booking, "seats": seats})
}

// GetBookingByReference handles GET /bookings/reference/:ref.
func (h *BookingHandler) GetBookingByReference(c echo.Context) error {
	user := middleware.UserID(c)
	ref := c.Param("ref")
	if ref == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking reference"})
	}
	booking, seats, err := h.Finalizer.GetBookingByReference(c.Request().Context(), ref, user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": booking, "seats": seats})
}

// ConfirmPayment handles POST /bookings/:id/confirm-payment.
// Confirming twice with the same payment id leaves the booking unchanged;
// a booking-confirmed audit event is published on every successful call.
func (h *BookingHandler) ConfirmPayment(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var body struct {
		PaymentID string `json:"payment_id"`
	}
	if err := c.Bind(&body); err != nil || body.PaymentID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment_id is required"})
	}
	ctx := c.Request().Context()
	booking, err := h.Finalizer.ConfirmPayment(ctx, id, body.PaymentID)
	if err != nil {
		return respondError(c, err)
	}
	if h.Audit != nil {
		if err := h.Audit.PublishBookingConfirmed(ctx, booking); err != nil {
			log.Printf("booking: publishing audit event for %s: %v", booking.Reference, err)
		}
	}
	return c.JSON(http.StatusOK, booking)
}

// FailPayment handles POST /bookings/:id/fail-payment, releasing the
// booking's seats back to the pool.
func (h *BookingHandler) FailPayment(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var body struct {
		PaymentID *string `json:"payment_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	booking, err := h.Finalizer.FailPayment(c.Request().Context(), id, body.PaymentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

// CancelBooking handles POST /bookings/:id/cancel.
func (h *BookingHandler) CancelBooking(c echo.Context) error {
	user := middleware.UserID(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	booking, err := h.Finalizer.CancelBooking(c.Request().Context(), id, user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}
