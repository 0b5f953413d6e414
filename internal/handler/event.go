package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/YeonwooSung/ticketing-system/internal/model"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
)

// EventHandler serves the event catalog and seat inventory endpoints.
// Catalog writes are administrative; they share the identity middleware
// but carry no further authorization because user management is handled
// upstream.
type EventHandler struct {
	Events *repository.EventRepo
	Seats  *repository.SeatRepo
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(events *repository.EventRepo, seats *repository.SeatRepo) *EventHandler {
	return &EventHandler{Events: events, Seats: seats}
}

func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

// CreateEvent handles POST /events. New events start UPCOMING with
// available_seats equal to capacity.
func (h *EventHandler) CreateEvent(c echo.Context) error {
	var body struct {
		Name          string     `json:"event_name"`
		VenueName     *string    `json:"venue_name"`
		EventDate     time.Time  `json:"event_date"`
		TotalSeats    int        `json:"total_seats"`
		SaleStartTime *time.Time `json:"sale_start_time"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Name == "" || body.TotalSeats <= 0 || body.EventDate.IsZero() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_name, event_date and total_seats are required"})
	}
	event := &model.Event{
		Name:           body.Name,
		VenueName:      body.VenueName,
		EventDate:      body.EventDate,
		TotalSeats:     body.TotalSeats,
		AvailableSeats: body.TotalSeats,
		Status:         model.EventUpcoming,
		SaleStartTime:  body.SaleStartTime,
	}
	if err := h.Events.Create(c.Request().Context(), event); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, event)
}

// ListEvents handles GET /events.
func (h *EventHandler) ListEvents(c echo.Context) error {
	events, err := h.Events.List(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": events})
}

// GetEvent handles GET /events/:id.
func (h *EventHandler) GetEvent(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	event, err := h.Events.GetByID(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, event)
}

// UpdateEvent handles PATCH /events/:id. Only descriptive fields can
// change here; seat counters move exclusively with seat transitions.
func (h *EventHandler) UpdateEvent(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	ctx := c.Request().Context()
	event, err := h.Events.GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	var body struct {
		Name          *string    `json:"event_name"`
		VenueName     *string    `json:"venue_name"`
		EventDate     *time.Time `json:"event_date"`
		SaleStartTime *time.Time `json:"sale_start_time"`
		Status        *string    `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Name != nil {
		event.Name = *body.Name
	}
	if body.VenueName != nil {
		event.VenueName = body.VenueName
	}
	if body.EventDate != nil {
		event.EventDate = *body.EventDate
	}
	if body.SaleStartTime != nil {
		event.SaleStartTime = body.SaleStartTime
	}
	if body.Status != nil {
		switch model.EventStatus(*body.Status) {
		case model.EventUpcoming, model.EventOnSale, model.EventSoldOut, model.EventCancelled:
			event.Status = model.EventStatus(*body.Status)
		default:
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
		}
	}
	if err := h.Events.Update(ctx, event); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, event)
}

// StartSale handles POST /events/:id/start-sale. The sale may only be
// opened once its scheduled start has passed.
func (h *EventHandler) StartSale(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	ctx := c.Request().Context()
	event, err := h.Events.GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	if event.SaleStartTime != nil && event.SaleStartTime.After(time.Now().UTC()) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "sale has not started yet", "kind": "Conflict"})
	}
	if err := h.Events.StartSale(ctx, id); err != nil {
		return respondError(c, err)
	}
	event, err = h.Events.GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, event)
}

// CreateSeats handles POST /events/:id/seats, appending a batch of
// seats to the event's inventory.
func (h *EventHandler) CreateSeats(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body struct {
		Seats []struct {
			SeatNumber string  `json:"seat_number"`
			Section    *string `json:"section"`
			RowNumber  *string `json:"row_number"`
			SeatType   string  `json:"seat_type"`
			PriceCents int64   `json:"price_cents"`
		} `json:"seats"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Seats) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats is required"})
	}

	seats := make([]model.Seat, 0, len(body.Seats))
	for _, s := range body.Seats {
		if s.SeatNumber == "" || s.PriceCents < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "each seat needs a seat_number and a non-negative price"})
		}
		seatType := model.SeatRegular
		switch model.SeatType(s.SeatType) {
		case model.SeatRegular, model.SeatVIP, model.SeatPremium:
			seatType = model.SeatType(s.SeatType)
		case "":
		default:
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown seat_type"})
		}
		seats = append(seats, model.Seat{
			EventID:    id,
			SeatNumber: s.SeatNumber,
			Section:    s.Section,
			RowNumber:  s.RowNumber,
			SeatType:   seatType,
			PriceCents: s.PriceCents,
		})
	}

	ctx := c.Request().Context()
	if _, err := h.Events.GetByID(ctx, id); err != nil {
		return respondError(c, err)
	}
	tx, err := h.Events.DB().BeginTx(ctx, nil)
	if err != nil {
		return respondError(c, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := h.Seats.CreateBulk(ctx, tx, seats); err != nil {
		return respondError(c, err)
	}
	if err := h.Events.AddSeatCapacity(ctx, tx, id, len(seats)); err != nil {
		return respondError(c, err)
	}
	if err := tx.Commit(); err != nil {
		return respondError(c, err)
	}
	committed = true
	return c.JSON(http.StatusCreated, echo.Map{"created": len(seats)})
}

// ListSeats handles GET /events/:id/seats.
func (h *EventHandler) ListSeats(c echo.Context) error {
	return h.listSeats(c, false)
}

// ListAvailableSeats handles GET /events/:id/seats/available.
func (h *EventHandler) ListAvailableSeats(c echo.Context) error {
	return h.listSeats(c, true)
}

func (h *EventHandler) listSeats(c echo.Context, availableOnly bool) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	ctx := c.Request().Context()
	if _, err := h.Events.GetByID(ctx, id); err != nil {
		return respondError(c, err)
	}
	seats, err := h.Seats.ListByEvent(ctx, id, availableOnly)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": seats})
}
