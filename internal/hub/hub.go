// Package hub fans live reservation updates out to WebSocket listeners.
// The registry is per API instance; workers publish through the shared
// store's pub/sub channels (notify:request:{id}, notify:user:{id}) and
// every instance's hub forwards to its own listeners, so a client can
// be connected to any instance.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message types delivered to listeners.
const (
	TypeStatusUpdate         = "status_update"
	TypeReservationComplete  = "reservation_complete"
	TypeReservationFailed    = "reservation_failed"
	TypeReservationCancelled = "reservation_cancelled"
)

// Message is one notification. Data carries the request-status snapshot
// that produced it.
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// listenerBuffer bounds per-listener queueing. A listener that falls
// this far behind is disconnected rather than allowed to block others.
const listenerBuffer = 16

// Listener is one registered consumer. Receive from C; Close
// deregisters and is idempotent.
type Listener struct {
	hub       *Hub
	ch        chan Message
	requestID string
	userID    string
	closed    bool
}

// C returns the listener's delivery channel. The channel is closed when
// the listener is deregistered or dropped as a slow consumer.
func (l *Listener) C() <-chan Message { return l.ch }

// Close deregisters the listener.
func (l *Listener) Close() {
	l.hub.remove(l)
}

// Hub is the in-process listener registry.
type Hub struct {
	rdb *redis.Client

	mu        sync.Mutex
	byRequest map[string]map[*Listener]struct{}
	byUser    map[string]map[*Listener]struct{}
}

// New constructs a Hub bound to the shared store.
func New(rdb *redis.Client) *Hub {
	return &Hub{
		rdb:       rdb,
		byRequest: make(map[string]map[*Listener]struct{}),
		byUser:    make(map[string]map[*Listener]struct{}),
	}
}

// SubscribeRequest registers a listener for one request id.
func (h *Hub) SubscribeRequest(requestID string) *Listener {
	l := &Listener{hub: h, ch: make(chan Message, listenerBuffer), requestID: requestID}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byRequest[requestID]
	if !ok {
		set = make(map[*Listener]struct{})
		h.byRequest[requestID] = set
	}
	set[l] = struct{}{}
	return l
}

// SubscribeUser registers a listener for all of a user's requests.
func (h *Hub) SubscribeUser(userID string) *Listener {
	l := &Listener{hub: h, ch: make(chan Message, listenerBuffer), userID: userID}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[userID]
	if !ok {
		set = make(map[*Listener]struct{})
		h.byUser[userID] = set
	}
	set[l] = struct{}{}
	return l
}

// remove deregisters a listener and closes its channel exactly once.
func (h *Hub) remove(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(l)
}

func (h *Hub) removeLocked(l *Listener) {
	if l.closed {
		return
	}
	l.closed = true
	if l.requestID != "" {
		if set, ok := h.byRequest[l.requestID]; ok {
			delete(set, l)
			if len(set) == 0 {
				delete(h.byRequest, l.requestID)
			}
		}
	}
	if l.userID != "" {
		if set, ok := h.byUser[l.userID]; ok {
			delete(set, l)
			if len(set) == 0 {
				delete(h.byUser, l.userID)
			}
		}
	}
	close(l.ch)
}

// dispatchRequest delivers to listeners of a request id. Sends never
// block: a listener whose buffer is full is dropped as a slow consumer.
func (h *Hub) dispatchRequest(requestID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.byRequest[requestID] {
		h.sendLocked(l, msg)
	}
}

// dispatchUser delivers to listeners of a user id.
func (h *Hub) dispatchUser(userID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.byUser[userID] {
		h.sendLocked(l, msg)
	}
}

func (h *Hub) sendLocked(l *Listener, msg Message) {
	select {
	case l.ch <- msg:
	default:
		log.Printf("hub: disconnecting slow consumer (request=%q user=%q)", l.requestID, l.userID)
		h.removeLocked(l)
	}
}

// Run subscribes to the notification channels and forwards incoming
// messages to local listeners until the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.rdb.PSubscribe(ctx, "notify:request:*", "notify:user:*")
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Printf("hub: malformed notification on %s: %v", m.Channel, err)
				continue
			}
			// Dispatch by the channel the copy arrived on so a message
			// published to both channels is not delivered twice.
			switch {
			case strings.HasPrefix(m.Channel, "notify:request:"):
				h.dispatchRequest(strings.TrimPrefix(m.Channel, "notify:request:"), msg)
			case strings.HasPrefix(m.Channel, "notify:user:"):
				h.dispatchUser(strings.TrimPrefix(m.Channel, "notify:user:"), msg)
			}
		}
	}
}

// Notifier publishes notifications through the shared store so every
// instance's hub sees them, including the publisher's own.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier constructs a Notifier.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Publish sends msg on the request channel and, when a user id is
// present, on the user channel.
func (n *Notifier) Publish(ctx context.Context, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if msg.RequestID != "" {
		if err := n.rdb.Publish(ctx, "notify:request:"+msg.RequestID, payload).Err(); err != nil {
			return err
		}
	}
	if msg.UserID != "" {
		if err := n.rdb.Publish(ctx, "notify:user:"+msg.UserID, payload).Err(); err != nil {
			return err
		}
	}
	return nil
}
