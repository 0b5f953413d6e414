package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/YeonwooSung/ticketing-system/internal/model"
)

const bookingQueueName = "booking.confirmed"

// Publisher publishes booking events to the broker. Each publish dials
// its own short-lived connection; the call never panics and any error
// is logged and returned so the caller can choose to ignore it.
type Publisher struct {
	url string
}

// NewPublisher constructs a Publisher for the given AMQP URL.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

// PublishBookingConfirmed publishes a BookingConfirmedEvent for the
// booking. Messages are marked persistent.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, b *model.Booking) error {
	event := BookingConfirmedEvent{
		BookingID:        b.ID,
		Reference:        b.Reference,
		EventID:          b.EventID,
		UserID:           b.UserID,
		TotalAmountCents: b.TotalAmountCents,
		ConfirmedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if b.ConfirmedAt != nil {
		event.ConfirmedAt = b.ConfirmedAt.Format(time.RFC3339)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.Printf("audit: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("audit: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive
	// broker restarts.
	if _, err := ch.QueueDeclare(bookingQueueName, true, false, false, false, nil); err != nil {
		log.Printf("audit: queue declare failed: %v", err)
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("audit: marshal event failed: %v", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", bookingQueueName, false, false, pub); err != nil {
		log.Printf("audit: publish failed: %v", err)
		return err
	}
	return nil
}
