package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/YeonwooSung/ticketing-system/internal/hub"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
)

// WSHandler serves the live notification sockets. On open the server
// sends the current status snapshot (when one exists), then streams hub
// messages. Clients must ping periodically; a socket idle beyond the
// configured timeout is closed.
type WSHandler struct {
	Hub         *hub.Hub
	Status      *queue.Store
	IdleTimeout time.Duration
}

// NewWSHandler constructs a WSHandler.
func NewWSHandler(h *hub.Hub, status *queue.Store, idleTimeout time.Duration) *WSHandler {
	return &WSHandler{Hub: h, Status: status, IdleTimeout: idleTimeout}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement happens at the gateway in front of this service.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientFrame is what clients may send: {"type": "ping"}.
type clientFrame struct {
	Type string `json:"type"`
}

// ReservationSocket handles GET /v2/ws/reservation/:request_id. The
// socket closes itself once a terminal message has been delivered.
func (h *WSHandler) ReservationSocket(c echo.Context) error {
	requestID := c.Param("request_id")
	if requestID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request id"})
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	listener := h.Hub.SubscribeRequest(requestID)
	defer listener.Close()

	// Initial snapshot, if the request is already known.
	if rec, err := h.Status.Get(c.Request().Context(), requestID); err == nil {
		if data, merr := json.Marshal(rec); merr == nil {
			_ = conn.WriteJSON(hub.Message{
				Type:      hub.TypeStatusUpdate,
				RequestID: requestID,
				UserID:    rec.UserID,
				Data:      data,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	h.serve(conn, listener, true)
	return nil
}

// UserSocket handles GET /v2/ws/user/:user_id, streaming every update
// for the user's requests.
func (h *WSHandler) UserSocket(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	listener := h.Hub.SubscribeUser(userID)
	defer listener.Close()

	h.serve(conn, listener, false)
	return nil
}

// serve pumps hub messages to the socket until the listener closes, the
// client goes away, or (when closeOnTerminal) a terminal message was
// sent. All writes happen on this goroutine; the read loop only renews
// the idle deadline and requests pongs.
func (h *WSHandler) serve(conn *websocket.Conn, listener *hub.Listener, closeOnTerminal bool) {
	defer func() { _ = conn.Close() }()

	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(h.IdleTimeout))
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(h.IdleTimeout))
			var frame clientFrame
			if err := json.Unmarshal(payload, &frame); err == nil && frame.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-pings:
			if err := conn.WriteJSON(echo.Map{"type": "pong", "timestamp": time.Now().UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		case msg, ok := <-listener.C():
			if !ok {
				// Deregistered as a slow consumer.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "SlowConsumer"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws: writing message: %v", err)
				return
			}
			if closeOnTerminal && msg.Type != hub.TypeStatusUpdate {
				return
			}
		}
	}
}
