package handler

import (
	"errors"
	"net/http"

	"github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"

	"github.com/YeonwooSung/ticketing-system/internal/engine"
	"github.com/YeonwooSung/ticketing-system/internal/lock"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
)

// respondError maps domain and infrastructure errors onto the HTTP
// error taxonomy: validation 400, ownership 403, missing 404, seats or
// locks unavailable 409, invariant violations 500, transient store
// failures 503.
func respondError(c echo.Context, err error) error {
	var su *engine.SeatUnavailableError
	var mysqlErr *mysql.MySQLError
	switch {
	case errors.As(err, &su):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":   su.Error(),
			"kind":    "SeatUnavailable",
			"seat_id": su.SeatID,
		})
	case errors.Is(err, engine.ErrEventNotOnSale):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "kind": "EventNotOnSale"})
	case errors.Is(err, engine.ErrAlreadyExpired):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "kind": "AlreadyExpired"})
	case errors.Is(err, engine.ErrReservationNotActive),
		errors.Is(err, engine.ErrBookingNotPending),
		errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "kind": "Conflict"})
	case errors.Is(err, lock.ErrTimeout):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seats are busy, please retry", "kind": "Unavailable"})
	case errors.Is(err, engine.ErrNoSeats), errors.Is(err, engine.ErrTooManySeats):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error(), "kind": "Validation"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "kind": "Forbidden"})
	case errors.Is(err, repository.ErrEventNotFound),
		errors.Is(err, repository.ErrSeatNotFound),
		errors.Is(err, repository.ErrReservationNotFound),
		errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error(), "kind": "NotFound"})
	case errors.Is(err, engine.ErrOptimisticConflict), errors.As(err, &mysqlErr):
		// Invariant violations are logged by the engine and rolled
		// back; surface them as internal errors.
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "kind": "Fatal"})
	}
	return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily unavailable", "kind": "Transient"})
}
