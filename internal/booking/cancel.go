package booking

import (
	"context"
	"errors"
	"fmt"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/models"
	"ms-booking/internal/notify"
)

// Cancel lets the booking user give a reservation up. Trip seats go back to
// the pool and an open checkout session is expired when possible.
func (s *Service) Cancel(ctx context.Context, reservationID, userID string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, bookingdb.ErrNotFound) {
			return nil, NotFound("reservation not found")
		}
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	if r.UserID != userID {
		s.log.LogSecurity("CANCEL_DENIED", fmt.Sprintf("user %s tried to cancel %s", userID, reservationID))
		return nil, Forbidden("you can only cancel your own reservations")
	}
	if !r.Status.Holds() {
		return nil, Invalid(fmt.Sprintf("a %s reservation cannot be cancelled", r.Status))
	}

	paid := models.PaymentFailed
	if r.PaymentStatus == models.PaymentCompleted {
		paid = models.PaymentCompleted
	}

	changed, err := s.store.Transition(ctx, r, []models.BookingStatus{models.BookingPending, models.BookingConfirmed}, models.BookingCancelled, paid)
	if err != nil {
		return nil, fmt.Errorf("cancel reservation: %w", err)
	}
	if !changed {
		return nil, Invalid("reservation changed state, please reload")
	}

	wasPending := r.Status == models.BookingPending
	r.Status = models.BookingCancelled
	r.PaymentStatus = paid
	s.log.LogBooking("CANCELLED", r.ID, fmt.Sprintf("by user %s", userID))

	if wasPending && r.PaymentRef != "" {
		if provider, err := s.providers.Get(r.PaymentProvider); err == nil {
			if err := provider.Cancel(context.WithoutCancel(ctx), r.PaymentRef); err != nil {
				s.log.Warn("PAYMENT", fmt.Sprintf("Could not cancel payment %s: %v", r.PaymentRef, err))
			}
		}
	}

	s.emit(notify.BookingCancelled, r)
	return r, nil
}
