package booking

import (
	"context"
	"errors"
	"fmt"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/models"
	"ms-booking/internal/notify"
	"ms-booking/internal/payment"
)

// ApplyPaymentResult settles a pending reservation from a provider outcome.
// The reference must match the one stored at initiation.
func (s *Service) ApplyPaymentResult(ctx context.Context, reservationID, paymentRef string, status payment.Status) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, bookingdb.ErrNotFound) {
			return nil, NotFound("reservation not found")
		}
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	if r.PaymentRef == "" || r.PaymentRef != paymentRef {
		s.log.LogSecurity("PAYMENT_REF_MISMATCH", fmt.Sprintf("reservation %s got reference %q", reservationID, paymentRef))
		return nil, NotFound("reservation not found")
	}
	return s.apply(ctx, r, status)
}

// ApplyByReference settles the reservation owning a provider reference.
func (s *Service) ApplyByReference(ctx context.Context, provider models.PaymentProvider, paymentRef string, status payment.Status) (*models.Reservation, error) {
	r, err := s.byReference(ctx, provider, paymentRef)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, r, status)
}

// SyncPayment re-reads the payment status from the provider and applies it.
// Return URLs carry nothing we trust beyond the reservation id.
func (s *Service) SyncPayment(ctx context.Context, reservationID string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, bookingdb.ErrNotFound) {
			return nil, NotFound("reservation not found")
		}
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	return s.sync(ctx, r)
}

// SyncByReference is SyncPayment for callbacks that only know the
// provider's reference.
func (s *Service) SyncByReference(ctx context.Context, provider models.PaymentProvider, paymentRef string) (*models.Reservation, error) {
	r, err := s.byReference(ctx, provider, paymentRef)
	if err != nil {
		return nil, err
	}
	return s.sync(ctx, r)
}

func (s *Service) byReference(ctx context.Context, provider models.PaymentProvider, paymentRef string) (*models.Reservation, error) {
	if paymentRef == "" {
		return nil, Invalid("payment reference is required")
	}
	r, err := s.store.GetReservationByPaymentRef(ctx, provider, paymentRef)
	if err != nil {
		if errors.Is(err, bookingdb.ErrNotFound) {
			s.log.LogSecurity("UNKNOWN_PAYMENT_REF", fmt.Sprintf("%s reference %q matches no reservation", provider, paymentRef))
			return nil, NotFound("reservation not found")
		}
		return nil, fmt.Errorf("load reservation by reference: %w", err)
	}
	return r, nil
}

func (s *Service) sync(ctx context.Context, r *models.Reservation) (*models.Reservation, error) {
	if r.Status.Terminal() || r.PaymentRef == "" {
		return r, nil
	}
	provider, err := s.providers.Get(r.PaymentProvider)
	if err != nil {
		return nil, Misconfigured(err)
	}
	status, err := provider.Lookup(ctx, r.PaymentRef)
	if err != nil {
		s.log.Error("PAYMENT", fmt.Sprintf("Status lookup failed for %s (%s): %v", r.ID, r.PaymentRef, err))
		if errors.Is(err, payment.ErrNotConfigured) {
			return nil, Misconfigured(err)
		}
		return nil, newError(ErrPaymentInitiationFailed, "payment status is not available yet", err)
	}
	if status == payment.StatusPending {
		return r, nil
	}
	settled, err := s.apply(ctx, r, status)
	if errors.Is(err, ErrReconciliationConflict) {
		return r, nil
	}
	return settled, err
}

// apply moves pending to confirmed or failed. A reservation that already
// reached the same outcome is returned unchanged; any other terminal state
// is a conflict and stays untouched.
func (s *Service) apply(ctx context.Context, r *models.Reservation, status payment.Status) (*models.Reservation, error) {
	var (
		to      models.BookingStatus
		paid    models.PaymentStatus
		evt     notify.EventType
		outcome string
	)
	switch status {
	case payment.StatusSucceeded:
		to, paid, evt, outcome = models.BookingConfirmed, models.PaymentCompleted, notify.BookingConfirmed, "CONFIRMED"
	case payment.StatusFailed:
		to, paid, evt, outcome = models.BookingFailed, models.PaymentFailed, notify.BookingFailed, "FAILED"
	case payment.StatusPending:
		return r, nil
	default:
		return nil, Invalid(fmt.Sprintf("unknown payment status %q", status))
	}

	changed, err := s.store.Transition(ctx, r, []models.BookingStatus{models.BookingPending}, to, paid)
	if err != nil {
		s.log.Error("BOOKING", fmt.Sprintf("Failed to settle %s: %v", r.ID, err))
		return nil, fmt.Errorf("settle reservation: %w", err)
	}

	if !changed {
		current, err := s.store.GetReservation(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("reload reservation: %w", err)
		}
		if current.Status == to {
			s.log.LogPayment(string(r.PaymentProvider), r.PaymentRef, fmt.Sprintf("duplicate %s result for %s ignored", outcome, r.ID))
			return current, nil
		}
		s.log.Warn("BOOKING", fmt.Sprintf("Reservation %s is %s, ignoring %s result", r.ID, current.Status, outcome))
		return current, Conflict(fmt.Sprintf("reservation is already %s", current.Status))
	}

	r.Status = to
	r.PaymentStatus = paid
	s.log.LogBooking(outcome, r.ID, fmt.Sprintf("payment %s via %s", paid, r.PaymentProvider))
	s.emit(evt, r)
	return r, nil
}
