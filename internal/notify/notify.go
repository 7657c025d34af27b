package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type EventType string

const (
	BookingCreated   EventType = "booking.created"
	BookingConfirmed EventType = "booking.confirmed"
	BookingFailed    EventType = "booking.failed"
	BookingCancelled EventType = "booking.cancelled"
)

type Event struct {
	Type          EventType            `json:"type"`
	ReservationID string               `json:"reservation_id"`
	UserID        string               `json:"user_id"`
	AgencyID      string               `json:"agency_id"`
	CustomerEmail string               `json:"customer_email,omitempty"`
	Kind          models.ResourceKind  `json:"kind"`
	ResourceID    string               `json:"resource_id"`
	Status        models.BookingStatus `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Amount        float64              `json:"amount"`
	Currency      string               `json:"currency"`
	PaymentURL    string               `json:"payment_url,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

func EventFor(t EventType, r *models.Reservation) Event {
	return Event{
		Type:          t,
		ReservationID: r.ID,
		UserID:        r.UserID,
		AgencyID:      r.AgencyID,
		CustomerEmail: r.CustomerEmail,
		Kind:          r.Kind,
		ResourceID:    r.ResourceID,
		Status:        r.Status,
		PaymentStatus: r.PaymentStatus,
		Amount:        r.AmountCharged,
		Currency:      r.ChargeCurrency,
		PaymentURL:    r.PaymentURL,
		OccurredAt:    time.Now().UTC(),
	}
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to every notifier in the background. Failures
// are logged and never reach the caller.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	log       *logger.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(log *logger.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, timeout: 10 * time.Second, log: log}
}

func (d *Dispatcher) Dispatch(ev Event) {
	if d == nil {
		return
	}
	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := n.Notify(ctx, ev); err != nil {
				d.log.Warn("NOTIFY", fmt.Sprintf("%T failed for %s %s: %v", n, ev.Type, ev.ReservationID, err))
			}
		}(n)
	}
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
