package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/YeonwooSung/ticketing-system/internal/hub"
	"github.com/YeonwooSung/ticketing-system/internal/middleware"
	"github.com/YeonwooSung/ticketing-system/internal/model"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
)

// QueueHandler serves the asynchronous reservation path: requests are
// admitted into the event's priority stream and the response carries a
// request id to poll or subscribe on.
type QueueHandler struct {
	Queue    *queue.Queue
	Status   *queue.Store
	Notifier *hub.Notifier
	Events   *repository.EventRepo
	MaxSeats int
}

// NewQueueHandler constructs a QueueHandler.
func NewQueueHandler(q *queue.Queue, status *queue.Store, notifier *hub.Notifier,
	events *repository.EventRepo, maxSeats int) *QueueHandler {
	return &QueueHandler{Queue: q, Status: status, Notifier: notifier, Events: events, MaxSeats: maxSeats}
}

// Submit handles POST /v2/reservations. Admission is non-blocking: the
// 202 response is returned without waiting for a worker.
func (h *QueueHandler) Submit(c echo.Context) error {
	user := middleware.UserID(c)
	var body struct {
		EventID  uint64   `json:"event_id"`
		SeatIDs  []uint64 `json:"seat_ids"`
		Priority string   `json:"priority"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.EventID == 0 || len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id and seat_ids are required"})
	}
	if len(body.SeatIDs) > h.MaxSeats {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "too many seats requested", "kind": "Validation"})
	}
	priority, err := model.ParsePriority(body.Priority)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error(), "kind": "Validation"})
	}

	ctx := c.Request().Context()
	if _, err := h.Events.GetByID(ctx, body.EventID); err != nil {
		return respondError(c, err)
	}

	req := &model.QueuedRequest{
		ID:         queue.NewRequestID(),
		EventID:    body.EventID,
		SeatIDs:    body.SeatIDs,
		UserID:     user,
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
	}
	position, err := h.Queue.Enqueue(ctx, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{
		"request_id":     req.ID,
		"status":         model.RequestPending,
		"priority":       priority,
		"queue_position": position,
	})
}

// GetStatus handles GET /v2/reservations/:request_id, returning the
// current snapshot from the status store. A record whose TTL lapsed is
// reported as expired.
func (h *QueueHandler) GetStatus(c echo.Context) error {
	requestID := c.Param("request_id")
	if requestID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request id"})
	}
	rec, err := h.Status.Get(c.Request().Context(), requestID)
	if err != nil {
		if err == queue.ErrStatusNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{
				"error": "request status not found or expired",
				"state": model.RequestExpired,
				"kind":  "NotFound",
			})
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Cancel handles DELETE /v2/reservations/:request_id. Cancellation is
// effective only while the request is still pending; afterwards it
// races the worker and the caller gets a conflict.
func (h *QueueHandler) Cancel(c echo.Context) error {
	requestID := c.Param("request_id")
	if requestID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request id"})
	}
	ctx := c.Request().Context()
	cancelled, err := h.Status.CancelIfPending(ctx, requestID)
	if err != nil {
		return respondError(c, err)
	}
	if !cancelled {
		rec, err := h.Status.Get(ctx, requestID)
		if err != nil {
			if err == queue.ErrStatusNotFound {
				return c.JSON(http.StatusNotFound, echo.Map{
					"error": "request status not found or expired",
					"state": model.RequestExpired,
					"kind":  "NotFound",
				})
			}
			return respondError(c, err)
		}
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "request can no longer be cancelled",
			"state": rec.State,
			"kind":  "Conflict",
		})
	}

	rec, err := h.Status.Get(ctx, requestID)
	if err == nil {
		if data, merr := json.Marshal(rec); merr == nil {
			_ = h.Notifier.Publish(ctx, hub.Message{
				Type:      hub.TypeReservationCancelled,
				RequestID: rec.RequestID,
				UserID:    rec.UserID,
				Data:      data,
			})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"request_id": requestID, "state": model.RequestCancelled})
}

// Stats handles GET /v2/queue/stats/:event_id.
func (h *QueueHandler) Stats(c echo.Context) error {
	id, ok := parseID(c, "event_id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	stats, err := h.Queue.Stats(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// Health handles GET /v2/queue/health. It verifies store connectivity
// and, scoped by ?event_id, reports consumer-group liveness for each
// priority stream.
func (h *QueueHandler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.Queue.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unhealthy", "error": err.Error()})
	}
	resp := echo.Map{"status": "ok", "consumer_group": queue.Group}
	if raw := c.QueryParam("event_id"); raw != "" {
		eventID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || eventID == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event_id"})
		}
		resp["streams"] = h.Queue.Health(ctx, eventID)
	}
	return c.JSON(http.StatusOK, resp)
}
