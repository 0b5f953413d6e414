package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YeonwooSung/ticketing-system/internal/engine"
	"github.com/YeonwooSung/ticketing-system/internal/lock"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
)

func respond(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, respondError(c, err))
	return rec
}

func TestRespondErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"seat unavailable", &engine.SeatUnavailableError{SeatID: 4}, http.StatusConflict},
		{"event not on sale", engine.ErrEventNotOnSale, http.StatusConflict},
		{"already expired", engine.ErrAlreadyExpired, http.StatusConflict},
		{"reservation not active", engine.ErrReservationNotActive, http.StatusConflict},
		{"booking not pending", engine.ErrBookingNotPending, http.StatusConflict},
		{"lock timeout", lock.ErrTimeout, http.StatusConflict},
		{"validation", engine.ErrTooManySeats, http.StatusBadRequest},
		{"forbidden", repository.ErrForbidden, http.StatusForbidden},
		{"event not found", repository.ErrEventNotFound, http.StatusNotFound},
		{"booking not found", repository.ErrBookingNotFound, http.StatusNotFound},
		{"optimistic conflict", engine.ErrOptimisticConflict, http.StatusInternalServerError},
		{"constraint violation", &mysql.MySQLError{Number: 1062, Message: "duplicate"}, http.StatusInternalServerError},
		{"transient", errors.New("dial tcp: connection refused"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := respond(t, tc.err)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRespondErrorCarriesSeatID(t *testing.T) {
	rec := respond(t, &engine.SeatUnavailableError{SeatID: 4})
	assert.Contains(t, rec.Body.String(), `"seat_id":4`)
	assert.Contains(t, rec.Body.String(), `"kind":"SeatUnavailable"`)
}

func TestRespondErrorUnwrapsWrappedErrors(t *testing.T) {
	rec := respond(t, fmt.Errorf("seat 7: %w", engine.ErrEventNotOnSale))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
