package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/YeonwooSung/ticketing-system/internal/engine"
	"github.com/YeonwooSung/ticketing-system/internal/metrics"
	"github.com/YeonwooSung/ticketing-system/internal/middleware"
)

// ReservationHandler serves the synchronous reservation path: the
// request acquires the seat locks, runs the engine inline and returns
// the outcome in the response.
type ReservationHandler struct {
	Engine *engine.Engine
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(eng *engine.Engine) *ReservationHandler {
	return &ReservationHandler{Engine: eng}
}

// CreateReservation handles POST /reservations.
func (h *ReservationHandler) CreateReservation(c echo.Context) error {
	user := middleware.UserID(c)
	var body struct {
		EventID uint64   `json:"event_id"`
		SeatIDs []uint64 `json:"seat_ids"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.EventID == 0 || len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id and seat_ids are required"})
	}

	result, err := h.Engine.Reserve(c.Request().Context(), body.EventID, body.SeatIDs, user)
	if err != nil {
		if engine.IsDomain(err) {
			metrics.ReservationRequests.WithLabelValues("sync", "domain_error").Inc()
		} else {
			metrics.ReservationRequests.WithLabelValues("sync", "error").Inc()
		}
		return respondError(c, err)
	}
	metrics.ReservationRequests.WithLabelValues("sync", "ok").Inc()
	return c.JSON(http.StatusCreated, result)
}

// ListReservations handles GET /reservations, returning the caller's
// active holds.
func (h *ReservationHandler) ListReservations(c echo.Context) error {
	user := middleware.UserID(c)
	items, err := h.Engine.ListActiveReservations(c.Request().Context(), user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetReservation handles GET /reservations/:id.
func (h *ReservationHandler) GetReservation(c echo.Context) error {
	user := middleware.UserID(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	res, err := h.Engine.GetReservation(c.Request().Context(), id, user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ExtendReservation handles POST /reservations/:id/extend.
func (h *ReservationHandler) ExtendReservation(c echo.Context) error {
	user := middleware.UserID(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	newExpiry, err := h.Engine.Extend(c.Request().Context(), id, user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expires_at": newExpiry.Format(time.RFC3339)})
}

// CancelReservation handles DELETE /reservations/:id.
func (h *ReservationHandler) CancelReservation(c echo.Context) error {
	user := middleware.UserID(c)
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	if err := h.Engine.Cancel(c.Request().Context(), id, user); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
