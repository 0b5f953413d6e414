package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// retryDelay paces reconnect attempts; the broker being down must not
// spin the goroutine.
const retryDelay = 5 * time.Second

// Consumer drains the booking.confirmed queue and appends one line per
// event to the audit log. It follows the same lifecycle convention as
// the sweeper and the hub: Run blocks until the context is cancelled
// and survives broker restarts in between.
type Consumer struct {
	url     string
	logPath string
	trail   *log.Logger
}

// NewConsumer constructs a Consumer writing to logs/booking.log.
func NewConsumer(url string) *Consumer {
	return &Consumer{url: url, logPath: filepath.Join("logs", "booking.log")}
}

// Run consumes until the context is cancelled. Connection failures are
// logged and retried; they never escape as errors.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.consume(ctx); err != nil {
			log.Printf("audit: consumer disconnected: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// consume holds one broker connection and drains deliveries until the
// connection dies or the context is cancelled.
func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(bookingQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	deliveries, err := ch.Consume(bookingQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.record(d)
		}
	}
}

// record appends one delivery to the trail. Malformed payloads are
// rejected without requeue so a bad message cannot wedge the queue;
// a failure to open the trail requeues the message. Errors from writing
// the trail line are not checked, and the message is then acknowledged.
func (c *Consumer) record(d amqp.Delivery) {
	var ev BookingConfirmedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		log.Printf("audit: rejecting malformed event: %v", err)
		_ = d.Nack(false, false)
		return
	}
	trail, err := c.trailLogger()
	if err != nil {
		log.Printf("audit: opening trail: %v", err)
		_ = d.Nack(false, true)
		return
	}
	trail.Printf("booking_confirmed reference=%s booking_id=%d event_id=%d user_id=%s total_cents=%d confirmed_at=%s",
		ev.Reference, ev.BookingID, ev.EventID, ev.UserID, ev.TotalAmountCents, ev.ConfirmedAt)
	_ = d.Ack(false)
}

// trailLogger opens the audit log once and reuses the handle. Lines
// carry their own confirmed_at, so the logger adds no timestamp prefix.
func (c *Consumer) trailLogger() (*log.Logger, error) {
	if c.trail != nil {
		return c.trail, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	c.trail = log.New(f, "", 0)
	return c.trail, nil
}
