package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EmailMessage is what the mailer consumes from the email queue. Rendering
// happens on the consumer side; we only pick the template.
type EmailMessage struct {
	To            string    `json:"to"`
	Template      string    `json:"template"`
	ReservationID string    `json:"reservation_id"`
	Kind          string    `json:"kind"`
	ResourceID    string    `json:"resource_id"`
	Status        string    `json:"status"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	PaymentURL    string    `json:"payment_url,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

var emailTemplates = map[EventType]string{
	BookingCreated:   "booking_pending_payment",
	BookingConfirmed: "booking_confirmed",
	BookingFailed:    "booking_payment_failed",
	BookingCancelled: "booking_cancelled",
}

// EmailFor reports false for events that produce no email.
func EmailFor(ev Event) (EmailMessage, bool) {
	tmpl, ok := emailTemplates[ev.Type]
	if !ok || ev.CustomerEmail == "" {
		return EmailMessage{}, false
	}
	return EmailMessage{
		To:            ev.CustomerEmail,
		Template:      tmpl,
		ReservationID: ev.ReservationID,
		Kind:          string(ev.Kind),
		ResourceID:    ev.ResourceID,
		Status:        string(ev.Status),
		Amount:        ev.Amount,
		Currency:      ev.Currency,
		PaymentURL:    ev.PaymentURL,
		OccurredAt:    ev.OccurredAt,
	}, true
}

// EmailQueue publishes customer emails to a durable RabbitMQ queue. Each
// publish dials its own connection, so a broker restart needs no recovery.
type EmailQueue struct {
	url   string
	queue string
}

func NewEmailQueue(url, queue string) *EmailQueue {
	return &EmailQueue{url: url, queue: queue}
}

func (q *EmailQueue) Notify(ctx context.Context, ev Event) error {
	msg, ok := EmailFor(ev)
	if !ok {
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	conn, err := amqp.Dial(q.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%s", ev.ReservationID, ev.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}
